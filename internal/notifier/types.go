package notifier

import (
	"context"
	"time"
)

// Variant is the visual intent of a toast.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantSuccess     Variant = "success"
	VariantDestructive Variant = "destructive"
)

// Toast is one user-facing notification.
type Toast struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Variant     Variant `json:"variant"`
}

// Sink displays toasts.
type Sink interface {
	Show(ctx context.Context, t Toast) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, t Toast) error

func (f SinkFunc) Show(ctx context.Context, t Toast) error { return f(ctx, t) }

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

type HistoryItem struct {
	At    time.Time
	Toast Toast
}

// ToastEvent is emitted on the event bus for notifier lifecycle events.
type ToastEvent struct {
	Title   string    `json:"title"`
	Variant Variant   `json:"variant"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
