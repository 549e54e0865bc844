package command

import (
	"strings"
	"unicode"
)

// Parse splits text into Items, line by line.
//
// Per line:
//
//	parallel: a; b; c      one Parallel item
//	a && b; c & d          Singles; "&&" marks a ConditionalNext,
//	                       a lone "&" after whitespace backgrounds the segment before it
//
// Empty segments are dropped.
func Parse(text string) []Item {
	var out []Item
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		if rest, ok := cutParallel(line); ok {
			if cmds := splitParallel(rest); len(cmds) > 0 {
				out = append(out, NewParallel(cmds))
			}
			continue
		}
		out = append(out, scanLine(line)...)
	}
	return out
}

func cutParallel(line string) (string, bool) {
	word := line
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		word = line[:i]
	}
	switch strings.ToLower(word) {
	case "parallel", "parallel:":
		return line[len(word):], true
	}
	// "parallel:a; b" without a space after the colon.
	if len(line) > len("parallel:") && strings.EqualFold(line[:len("parallel:")], "parallel:") {
		return line[len("parallel:"):], true
	}
	return "", false
}

func splitParallel(s string) []string {
	var cmds []string
	for _, seg := range strings.Split(s, ";") {
		if seg = strings.TrimSpace(seg); seg != "" {
			cmds = append(cmds, seg)
		}
	}
	return cmds
}

func scanLine(line string) []Item {
	var (
		out []Item
		buf strings.Builder
	)
	emit := func(conditional bool) {
		seg := strings.TrimSpace(buf.String())
		buf.Reset()
		if seg == "" {
			return
		}
		out = append(out, single(seg, conditional))
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '&' && i+1 < len(line) && line[i+1] == '&':
			emit(true)
			i++
		case ch == ';':
			emit(false)
		case ch == '&' && endsInSpace(buf.String()):
			// Keep the "&" so single() sees the trailing " &" marker.
			buf.WriteByte('&')
			emit(false)
		default:
			buf.WriteByte(ch)
		}
	}
	emit(false)
	return out
}

func endsInSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}

func single(seg string, conditional bool) Item {
	background := false
	if strings.HasSuffix(seg, " &") || strings.HasSuffix(seg, "\t&") {
		background = true
		seg = strings.TrimSpace(seg[:len(seg)-1])
	}
	return NewSingle(seg, conditional, background)
}
