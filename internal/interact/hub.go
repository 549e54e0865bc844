// Package interact holds pending interactive confirmations.
//
// A Step is a single-shot promise: the command that needs an answer blocks in
// Await until somebody calls Resolve with the step id, or until its context is
// cancelled.
package interact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ward/internal/eventbus"
	"ward/internal/executor"
)

var ErrUnknownStep = errors.New("unknown interactive step")

// Step is the public view of a pending confirmation.
type Step struct {
	ID      string
	Prompt  string
	Created time.Time
}

type pending struct {
	step Step
	seq  uint64
	once sync.Once
	done chan string
}

func (p *pending) resolve(answer string) bool {
	ok := false
	p.once.Do(func() {
		p.done <- answer
		close(p.done)
		ok = true
	})
	return ok
}

type Hub struct {
	bus eventbus.Bus
	seq atomic.Uint64
	now func() time.Time

	mu    sync.Mutex
	steps map[string]*pending
}

func NewHub(bus eventbus.Bus) *Hub {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Hub{bus: bus, now: time.Now, steps: map[string]*pending{}}
}

// Await registers a step and blocks for its answer.
func (h *Hub) Await(ctx context.Context, prompt string) (string, error) {
	seq := h.seq.Add(1)
	p := &pending{
		step: Step{ID: fmt.Sprintf("step-%d", seq), Prompt: prompt, Created: h.now()},
		seq:  seq,
		done: make(chan string, 1),
	}
	h.mu.Lock()
	h.steps[p.step.ID] = p
	h.mu.Unlock()
	defer h.forget(p.step.ID)

	h.bus.Publish(eventbus.Event{Type: eventbus.InteractPending, Data: p.step})

	select {
	case answer := <-p.done:
		return answer, nil
	case <-ctx.Done():
		return "", executor.Cancelled(ctx.Err())
	}
}

// Resolve answers a pending step.
func (h *Hub) Resolve(id, answer string) error {
	h.mu.Lock()
	p := h.steps[id]
	h.mu.Unlock()
	if p == nil || !p.resolve(answer) {
		return ErrUnknownStep
	}
	return nil
}

// ResolveOldest answers the longest-waiting step. It reports false when
// nothing is pending.
func (h *Hub) ResolveOldest(answer string) bool {
	for _, st := range h.Pending() {
		if h.Resolve(st.ID, answer) == nil {
			return true
		}
	}
	return false
}

// Pending lists waiting steps, oldest (first registered) first.
func (h *Hub) Pending() []Step {
	h.mu.Lock()
	ps := make([]*pending, 0, len(h.steps))
	for _, p := range h.steps {
		ps = append(ps, p)
	}
	h.mu.Unlock()
	sort.Slice(ps, func(i, j int) bool { return ps[i].seq < ps[j].seq })
	out := make([]Step, len(ps))
	for i, p := range ps {
		out[i] = p.step
	}
	return out
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.steps, id)
	h.mu.Unlock()
}
