// Package command turns raw text into schedulable units.
//
// An Item is either a Single command or a Parallel group. Items are values:
// once Parse returns them nothing rewrites their text.
package command

import "strings"

type Kind int

const (
	KindSingle Kind = iota
	KindParallel
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Item is one schedulable unit. Exactly one of the variants is meaningful,
// selected by Kind; use NewSingle / NewParallel to build them.
type Item struct {
	kind Kind

	text            string
	conditionalNext bool
	background      bool

	commands []string
}

func NewSingle(text string, conditionalNext, background bool) Item {
	return Item{kind: KindSingle, text: text, conditionalNext: conditionalNext, background: background}
}

func NewParallel(commands []string) Item {
	return Item{kind: KindParallel, commands: append([]string(nil), commands...)}
}

func (it Item) Kind() Kind { return it.kind }

// Text is the command text of a Single. For a Parallel group it is the
// canonical "parallel: a; b" rendering used in logs and history.
func (it Item) Text() string {
	if it.kind == KindParallel {
		return "parallel: " + strings.Join(it.commands, "; ")
	}
	return it.text
}

// ConditionalNext is set when the Single was followed by "&&".
func (it Item) ConditionalNext() bool { return it.conditionalNext }

func (it Item) Background() bool { return it.background }

// Commands returns a copy of the Parallel group members.
func (it Item) Commands() []string { return append([]string(nil), it.commands...) }

func (it Item) Len() int {
	if it.kind == KindParallel {
		return len(it.commands)
	}
	return 1
}
