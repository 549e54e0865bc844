package trigger

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"ward/internal/executor"
	"ward/internal/vfs"
)

var (
	reExists = regexp.MustCompile(`(?i)^exists\s+(.+)$`)
	reSize   = regexp.MustCompile(`(?i)^size\s*(<=|>=|<|>|=)\s*(\S+)\s+(.+)$`)
)

// Files handles "exists <path>" and "size <cmp> <N>[K|M] <path>" against a
// directory tree.
type Files struct {
	Tree *vfs.Tree
}

func NewFiles(tree *vfs.Tree) *Files { return &Files{Tree: tree} }

func (f *Files) Name() string { return "files" }

func (f *Files) Match(_ context.Context, condition string, actions []string, host Host) (Result, bool) {
	cond := stripIf(condition)
	if m := reSize.FindStringSubmatch(cond); m != nil {
		return f.size(m[1], ParseSize(m[2]), strings.TrimSpace(m[3]), actions, host), true
	}
	if m := reExists.FindStringSubmatch(cond); m != nil {
		return f.exists(strings.TrimSpace(m[1]), actions, host), true
	}
	return Result{}, false
}

func (f *Files) exists(p string, actions []string, host Host) Result {
	if f.Tree == nil {
		return failed("exists %s: %v", p, executor.ErrUnavailable)
	}
	if !f.Tree.Exists(p) {
		return failed("exists %s: not found (%s)", p, f.Tree.Resolve(p))
	}
	host.RunNow(actions)
	return executed("exists " + f.Tree.Resolve(p))
}

func (f *Files) size(cmp string, threshold int64, p string, actions []string, host Host) Result {
	if f.Tree == nil {
		return failed("size %s: %v", p, executor.ErrUnavailable)
	}
	n, err := f.Tree.Size(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failed("size %s: not found (%s)", p, f.Tree.Resolve(p))
		}
		return failed("size %s: %v", p, err)
	}
	if !Compare(n, cmp, threshold) {
		return failed("size %s: %d %s %d is false", p, n, cmp, threshold)
	}
	host.RunNow(actions)
	return executed("size " + strconv.FormatInt(n, 10) + " " + cmp + " " + strconv.FormatInt(threshold, 10))
}

// ParseSize reads N, NK or NM (binary multiples). Unparsable input is 0.
func ParseSize(s string) int64 {
	s = strings.TrimSpace(s)
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1024, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1024*1024, s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v * float64(mult))
}

// Compare applies one of < > <= >= =.
func Compare(n int64, cmp string, threshold int64) bool {
	switch cmp {
	case "<":
		return n < threshold
	case ">":
		return n > threshold
	case "<=":
		return n <= threshold
	case ">=":
		return n >= threshold
	case "=":
		return n == threshold
	default:
		return false
	}
}
