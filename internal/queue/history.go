package queue

import "time"

// Record is the outcome of the most recently executed unit. The condition
// evaluator compares against it.
type Record struct {
	LastCommand string
	LastResult  string
}

// HistoryItem is one processed unit in the diagnostics ring.
type HistoryItem struct {
	Session    string
	Command    string
	Result     string
	Class      string
	Background bool
	Started    time.Time
	Duration   time.Duration
}

type historyRing struct {
	size  int
	items []HistoryItem
}

func (h *historyRing) add(it HistoryItem) {
	if h.size <= 0 {
		h.size = 200
	}
	h.items = append(h.items, it)
	if len(h.items) > h.size {
		h.items = h.items[len(h.items)-h.size:]
	}
}

func (h *historyRing) snapshot() []HistoryItem {
	out := make([]HistoryItem, len(h.items))
	copy(out, h.items)
	return out
}
