package notifier

import (
	"sync"
	"time"
)

const historyMax = 300

// history keeps the last historyMax shown toasts.
type history struct {
	mu    sync.Mutex
	items []HistoryItem
}

func (h *history) add(t Toast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, HistoryItem{At: time.Now(), Toast: t})
	if over := len(h.items) - historyMax; over > 0 {
		h.items = append(h.items[:0:0], h.items[over:]...)
	}
}

func (h *history) snapshot() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.items...)
}
