// Package vfs resolves script paths against a directory tree supplied by the
// host.
//
// Paths come in three shapes:
//
//	/abs/path      from the tree root
//	~/x, home/x    from the home directory
//	rel/x          from the current directory
//
// "." and ".." are honoured; ".." never climbs above the root.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

var ErrNoTree = errors.New("no directory tree configured")

// Tree is a rooted filesystem plus the directories relative paths start from.
type Tree struct {
	fsys fs.FS
	home string
	cwd  string
}

// New builds a Tree. home and cwd are slash paths inside fsys ("/" is the root).
func New(fsys fs.FS, home, cwd string) *Tree {
	return &Tree{fsys: fsys, home: clean(home), cwd: clean(cwd)}
}

// OS roots a Tree at a real directory.
func OS(root, home, cwd string) *Tree {
	return New(os.DirFS(root), home, cwd)
}

func (t *Tree) Home() string { return t.home }
func (t *Tree) Cwd() string  { return t.cwd }

// Resolve maps p onto an absolute slash path inside the tree.
func (t *Tree) Resolve(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case p == "":
		return t.cwd
	case strings.HasPrefix(p, "/"):
		return clean(p)
	case p == "~" || p == "home":
		return t.home
	case strings.HasPrefix(p, "~/"):
		return clean(t.home + "/" + p[2:])
	case strings.HasPrefix(p, "home/"):
		return clean(t.home + "/" + p[len("home/"):])
	default:
		return clean(t.cwd + "/" + p)
	}
}

// Stat resolves p and stats it.
func (t *Tree) Stat(p string) (string, fs.FileInfo, error) {
	if t == nil || t.fsys == nil {
		return "", nil, ErrNoTree
	}
	abs := t.Resolve(p)
	fi, err := fs.Stat(t.fsys, fsName(abs))
	if err != nil {
		return abs, nil, err
	}
	return abs, fi, nil
}

// Exists reports whether p resolves to anything.
func (t *Tree) Exists(p string) bool {
	_, _, err := t.Stat(p)
	return err == nil
}

// Size returns the byte size of a file, or the recursive total of a directory.
func (t *Tree) Size(p string) (int64, error) {
	abs, fi, err := t.Stat(p)
	if err != nil {
		return 0, err
	}
	if !fi.IsDir() {
		return fi.Size(), nil
	}
	var total int64
	err = fs.WalkDir(t.fsys, fsName(abs), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", abs, err)
	}
	return total, nil
}

func clean(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	// Cleaning a rooted path drops any ".." that would escape the root.
	return path.Clean("/" + p)
}

func fsName(abs string) string {
	name := strings.TrimPrefix(abs, "/")
	if name == "" {
		return "."
	}
	return name
}
