package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSessionClosed is returned when work is scheduled into a stopped session.
var ErrSessionClosed = errors.New("session stopped")

type handleState int

const (
	handleLive handleState = iota
	handleFinished
	handleCancelled
)

// Handle is a cancellable reference to a pending timer or watcher delivery.
// It belongs to exactly one session and leaves the registry when it fires for
// the last time or is cancelled.
type Handle struct {
	ID      string
	Session string
	Kind    string
	Due     time.Time

	reg    *SessionRegistry
	cancel context.CancelFunc

	mu    sync.Mutex
	state handleState
}

// Cancel stops the delivery. It reports whether this call did the cancelling.
// A delivery in progress completes before Cancel returns.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.state != handleLive {
		h.mu.Unlock()
		return false
	}
	h.state = handleCancelled
	h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}
	h.reg.remove(h)
	return true
}

// Fire runs deliver unless the handle has been cancelled. last marks the final
// delivery, after which the handle removes itself.
func (h *Handle) Fire(last bool, deliver func()) bool {
	h.mu.Lock()
	if h.state != handleLive {
		h.mu.Unlock()
		return false
	}
	if deliver != nil {
		deliver()
	}
	if last {
		h.state = handleFinished
	}
	h.mu.Unlock()

	if last {
		if h.cancel != nil {
			h.cancel()
		}
		h.reg.remove(h)
	}
	return true
}

// Live reports whether the handle can still fire.
func (h *Handle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleLive
}

// SessionRegistry maps sessions to their scheduled handles. Safe for concurrent
// use by timers, watchers and stop calls.
type SessionRegistry struct {
	seq atomic.Uint64

	mu       sync.Mutex
	sessions map[string]map[string]*Handle
	// closed holds sessions ended by CancelSession; they accept no new handles.
	closed map[string]struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[string]map[string]*Handle{}, closed: map[string]struct{}{}}
}

// Open makes session known even before it owns any handle. It also reopens a
// closed session.
func (r *SessionRegistry) Open(session string) {
	r.mu.Lock()
	delete(r.closed, session)
	if _, ok := r.sessions[session]; !ok {
		r.sessions[session] = map[string]*Handle{}
	}
	r.mu.Unlock()
}

// Register adds a handle to session, opening the session if needed. cancel
// stops whatever goroutine performs the delivery. A closed session gets
// ErrSessionClosed and cancel is called right away.
func (r *SessionRegistry) Register(session, kind string, due time.Time, cancel context.CancelFunc) (*Handle, error) {
	h := &Handle{
		ID:      fmt.Sprintf("%s-%d", kind, r.seq.Add(1)),
		Session: session,
		Kind:    kind,
		Due:     due,
		reg:     r,
		cancel:  cancel,
	}
	r.mu.Lock()
	if _, gone := r.closed[session]; gone {
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, session)
	}
	set, ok := r.sessions[session]
	if !ok {
		set = map[string]*Handle{}
		r.sessions[session] = set
	}
	set[h.ID] = h
	r.mu.Unlock()
	return h, nil
}

func (r *SessionRegistry) remove(h *Handle) {
	r.mu.Lock()
	if set, ok := r.sessions[h.Session]; ok {
		delete(set, h.ID)
	}
	r.mu.Unlock()
}

// CancelSession cancels every handle of session and closes it. known is false
// when the session was never opened (or already closed). The default session
// is never closed.
func (r *SessionRegistry) CancelSession(session string) (cancelled int, known bool) {
	r.mu.Lock()
	set, known := r.sessions[session]
	delete(r.sessions, session)
	if session == DefaultSession {
		r.sessions[session] = map[string]*Handle{}
	} else {
		r.closed[session] = struct{}{}
	}
	handles := make([]*Handle, 0, len(set))
	for _, h := range set {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if h.Cancel() {
			cancelled++
		}
	}
	return cancelled, known
}

// CancelAll cancels the handles of every session. Sessions stay open.
func (r *SessionRegistry) CancelAll() int {
	r.mu.Lock()
	var handles []*Handle
	for _, set := range r.sessions {
		for _, h := range set {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, h := range handles {
		if h.Cancel() {
			n++
		}
	}
	return n
}

// Count returns the number of live handles owned by session.
func (r *SessionRegistry) Count(session string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[session])
}

// Closed reports whether session was stopped by CancelSession.
func (r *SessionRegistry) Closed(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.closed[session]
	return ok
}

func (r *SessionRegistry) Has(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[session]
	return ok
}

// Handles lists the live handles of session ordered by due time.
func (r *SessionRegistry) Handles(session string) []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.sessions[session]))
	for _, h := range r.sessions[session] {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Due.Equal(out[j].Due) {
			return out[i].Due.Before(out[j].Due)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sizes returns live handle counts per open session.
func (r *SessionRegistry) Sizes() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.sessions))
	for s, set := range r.sessions {
		out[s] = len(set)
	}
	return out
}
