package session

import (
	"fmt"
	"strings"

	"ward/internal/executor"
)

// HeaderMarker prefixes header lines.
const HeaderMarker = "#"

var ErrNoModules = fmt.Errorf("%w: script header lists no trigger modules", executor.ErrUnavailable)

// Block is one trigger block of a script body. A bare line is a Block with no
// actions.
type Block struct {
	Condition string
	Actions   []string
	Line      int
}

func (b Block) Bare() bool { return len(b.Actions) == 0 }

type Script struct {
	Header  map[string]string
	Modules []string
	Blocks  []Block
}

// Parse reads the header and the body blocks.
//
// Header lines ("# key: value" or "# key value") run until the first line that
// is neither blank nor a header. The body holds
//
//	if <condition>
//	- <action>
//	fi
//
// blocks and bare lines. Inside the body, lines starting with the header
// marker are comments. A block without "fi" ends at the next line that is not
// an action.
func Parse(text string) (Script, error) {
	s := Script{Header: map[string]string{}}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, HeaderMarker) {
			break
		}
		key, value := splitHeader(strings.TrimSpace(strings.TrimPrefix(line, HeaderMarker)))
		if key != "" {
			s.Header[key] = value
		}
	}

	for _, k := range []string{"modules", "module", "runtimes", "runtime"} {
		if v, ok := s.Header[k]; ok {
			for _, name := range strings.Split(v, ",") {
				if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
					s.Modules = append(s.Modules, name)
				}
			}
			break
		}
	}
	if len(s.Modules) == 0 {
		return s, ErrNoModules
	}

	var open *Block
	flush := func() {
		if open != nil {
			s.Blocks = append(s.Blocks, *open)
			open = nil
		}
	}
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "" || strings.HasPrefix(line, HeaderMarker):
			continue
		case open != nil && strings.HasPrefix(line, "-"):
			if a := strings.TrimSpace(line[1:]); a != "" {
				open.Actions = append(open.Actions, a)
			}
			continue
		case open != nil && strings.EqualFold(line, "fi"):
			flush()
			continue
		}
		flush()
		if strings.EqualFold(line, "fi") {
			continue
		}
		b := Block{Condition: line, Line: i + 1}
		if isIf(line) {
			open = &b
			continue
		}
		s.Blocks = append(s.Blocks, b)
	}
	flush()
	return s, nil
}

func splitHeader(h string) (string, string) {
	var key, value string
	if k, v, ok := strings.Cut(h, ":"); ok {
		key, value = k, v
	} else if f := strings.Fields(h); len(f) > 0 {
		key, value = f[0], strings.TrimSpace(strings.TrimPrefix(h, f[0]))
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)
}

func isIf(line string) bool {
	return len(line) > 2 && strings.EqualFold(line[:2], "if") && (line[2] == ' ' || line[2] == '\t')
}
