package interact

import (
	"context"
	"errors"
	"testing"
	"time"

	"ward/internal/eventbus"
	"ward/internal/executor"
)

func TestAwaitResolved(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	h := NewHub(bus)

	go func() {
		e := <-events
		st, ok := e.Data.(Step)
		if !ok {
			return
		}
		_ = h.Resolve(st.ID, "yes")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	answer, err := h.Await(ctx, "delete everything?")
	if err != nil || answer != "yes" {
		t.Fatalf("Await = %q, %v", answer, err)
	}
	if n := len(h.Pending()); n != 0 {
		t.Fatalf("pending = %d after resolve", n)
	}
}

func TestAwaitCancelled(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Await(ctx, "continue?")
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(h.Pending()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, executor.ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return after cancel")
	}
}

func TestResolveUnknown(t *testing.T) {
	h := NewHub(nil)
	if err := h.Resolve("step-99", "x"); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("err = %v", err)
	}
	if h.ResolveOldest("x") {
		t.Fatal("ResolveOldest with nothing pending")
	}
}

func TestResolveOldestOrdersByArrival(t *testing.T) {
	h := NewHub(nil)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	answers := make([]chan string, 12)
	for i := range answers {
		answers[i] = make(chan string, 1)
		go func(ch chan string) {
			a, _ := h.Await(ctx, "ok?")
			ch <- a
		}(answers[i])
		// Register in order so step-N is the Nth arrival.
		want := i + 1
		deadline := time.Now().Add(time.Second)
		for len(h.Pending()) < want && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	steps := h.Pending()
	if len(steps) != 12 || steps[0].ID != "step-1" || steps[9].ID != "step-10" || steps[8].ID != "step-9" {
		t.Fatalf("pending = %+v", steps)
	}
	for i := range answers {
		if !h.ResolveOldest("yes") {
			t.Fatalf("resolve %d failed", i)
		}
		select {
		case a := <-answers[i]:
			if a != "yes" {
				t.Fatalf("answer %d = %q", i, a)
			}
		case <-time.After(time.Second):
			t.Fatalf("step %d not answered in order", i+1)
		}
	}
}
