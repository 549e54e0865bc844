package queue

import (
	"strings"

	"ward/internal/executor"
)

const (
	skippedFalse     = "Info: skipped (condition false)"
	skippedFired     = "Info: skipped (if-chain already taken)"
	elseWithoutChain = "Error: else without preceding if-chain"
)

// chainState is the single active if/else chain of the drain loop.
type chainState struct {
	active bool
	fired  bool
}

func isIf(text string) bool {
	return hasWord(text, "if")
}

func isElse(text string) bool {
	return hasWord(text, "else")
}

func hasWord(text, word string) bool {
	t := strings.TrimSpace(text)
	if len(t) < len(word) || !strings.EqualFold(t[:len(word)], word) {
		return false
	}
	return len(t) == len(word) || t[len(word)] == ' ' || t[len(word)] == '\t'
}

type ifLine struct {
	left, right string
	then        string
}

// parseIf splits "if <left> = <right> then <command>".
func parseIf(text string) (ifLine, error) {
	rest := strings.TrimSpace(strings.TrimSpace(text)[len("if"):])
	at := strings.Index(rest, " then ")
	if at < 0 {
		return ifLine{}, &executor.ParseError{What: "if", Input: text}
	}
	cond, then := rest[:at], strings.TrimSpace(rest[at+len(" then "):])
	left, right, ok := strings.Cut(cond, "=")
	if !ok || then == "" {
		return ifLine{}, &executor.ParseError{What: "if", Input: text}
	}
	return ifLine{left: strings.TrimSpace(left), right: strings.TrimSpace(right), then: then}, nil
}

// holds applies the comparison rule: right matches the last command, the last
// result, or the literal left side.
func (l ifLine) holds(rec Record) bool {
	return l.right == strings.TrimSpace(rec.LastCommand) ||
		l.right == strings.TrimSpace(rec.LastResult) ||
		l.left == l.right
}

// evalIf runs an if line. The returned command is what the execution record
// should show.
func (p *Processor) evalIf(u *unit, text string) (string, executor.Outcome) {
	p.mu.Lock()
	fired := p.chain.fired
	// A malformed if still opens the chain.
	p.chain = chainState{active: true, fired: fired}
	rec := p.record
	p.mu.Unlock()

	line, err := parseIf(text)
	if err != nil {
		return text, executor.Outcome{Text: executor.ResultText(err)}
	}
	if !line.holds(rec) {
		return text, executor.Text(skippedFalse)
	}

	p.mu.Lock()
	p.chain.fired = true
	p.mu.Unlock()
	return line.then, p.runInner(u, line.then)
}

func (p *Processor) evalElse(u *unit, text string) (string, executor.Outcome) {
	p.mu.Lock()
	chain := p.chain
	p.chain = chainState{}
	p.mu.Unlock()

	if !chain.active {
		return text, executor.Text(elseWithoutChain)
	}
	if chain.fired {
		return text, executor.Text(skippedFired)
	}
	cmd := strings.TrimSpace(strings.TrimSpace(text)[len("else"):])
	if cmd == "" {
		return text, executor.Outcome{Text: executor.ResultText(&executor.ParseError{What: "else", Input: text})}
	}
	return cmd, p.runInner(u, cmd)
}

func (p *Processor) resetChain() {
	p.mu.Lock()
	p.chain = chainState{}
	p.mu.Unlock()
}
