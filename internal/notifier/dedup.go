package notifier

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"schedform/internal/storage"
	logx "schedform/pkg/logx"
)

const (
	dedupReadTimeout  = 25 * time.Millisecond
	dedupWriteTimeout = 250 * time.Millisecond
)

// dedupCache suppresses identical toasts inside a window. With a store it
// also remembers suppression across restarts.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
	store storage.Store
	log   logx.Logger
}

func newDedupCache(store storage.Store, log logx.Logger) *dedupCache {
	return &dedupCache{until: map[string]time.Time{}, store: store, log: log}
}

// toastKey identifies a toast by its visible content.
func toastKey(t Toast) string {
	h := fnv.New64a()
	for _, part := range []string{string(t.Variant), t.Title, t.Description} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// allow reports whether key may be shown now and, if so, starts its window.
func (d *dedupCache) allow(ctx context.Context, key string, window time.Duration, max int, persist bool) bool {
	now := time.Now()
	if d.suppressed(key, now) {
		return false
	}
	if persist && d.store != nil {
		rctx, cancel := context.WithTimeout(ctx, dedupReadTimeout)
		until, ok, err := d.store.GetDedup(rctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			d.mu.Lock()
			d.until[key] = until
			d.mu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	d.mu.Lock()
	d.until[key] = until
	d.pruneLocked(now, max)
	d.mu.Unlock()

	if persist && d.store != nil {
		wctx, cancel := context.WithTimeout(ctx, dedupWriteTimeout)
		if err := d.store.PutDedup(wctx, key, until); err != nil {
			d.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}

func (d *dedupCache) suppressed(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.until[key]
	return ok && now.Before(until)
}

// pruneLocked drops expired keys, then the soonest-expiring ones while the
// cache is over max.
func (d *dedupCache) pruneLocked(now time.Time, max int) {
	for k, u := range d.until {
		if !now.Before(u) {
			delete(d.until, k)
		}
	}
	for max > 0 && len(d.until) > max {
		var oldest string
		for k, u := range d.until {
			if oldest == "" || u.Before(d.until[oldest]) {
				oldest = k
			}
		}
		delete(d.until, oldest)
	}
}
