package notifier

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// WriterSink renders toasts as single lines on a writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Show(ctx context.Context, t Toast) error {
	_ = ctx
	line := prefixForVariant(t.Variant) + t.Title
	if d := strings.TrimSpace(t.Description); d != "" {
		line += ": " + d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, line)
	return err
}

func prefixForVariant(v Variant) string {
	switch v {
	case VariantDestructive:
		return "[!] "
	case VariantSuccess:
		return "[ok] "
	default:
		return "[i] "
	}
}
