// Package controller owns the live schedule collection and the list of
// keys pending deletion, and mediates every mutation and the three calls
// against the schedule service.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedform/internal/eventbus"
	"schedform/internal/notifier"
	"schedform/internal/schedule"
	"schedform/internal/storage"
	logx "schedform/pkg/logx"
)

var (
	ErrInvalid    = errors.New("schedules incomplete")
	ErrNotFound   = errors.New("schedule not found")
	ErrFieldValue = errors.New("invalid field value")
	// ErrDuplicateKey rejects a fetched collection whose keys collide.
	ErrDuplicateKey = errors.New("duplicate schedule key")
)

// Toast texts shown by Save.
const (
	TitleInvalid      = "Invalid Schedules"
	DescInvalid       = "Please fill all the fields"
	TitleSaveFailed   = "Failed to save schedules"
	TitleDeleteFailed = "Failed to delete schedules"
	TitleSaved        = "Schedules updated successfully"
	DescSaved         = "Schedules updated successfully to DB"
)

// Remote is the schedule service as seen by the controller.
type Remote interface {
	Fetch(ctx context.Context) ([]schedule.Entry, error)
	UpsertAll(ctx context.Context, entries []schedule.Entry) error
	DeleteByKeys(ctx context.Context, keys []int) error
}

// Notifier shows toasts to the user.
type Notifier interface {
	Notify(ctx context.Context, t notifier.Toast) error
}

type Option func(*Controller)

func WithLogger(log logx.Logger) Option { return func(c *Controller) { c.log = log } }

// WithStore records every remote call in the audit log.
func WithStore(st storage.Store) Option { return func(c *Controller) { c.store = st } }

func WithBus(b eventbus.Bus) Option { return func(c *Controller) { c.bus = b } }

// Controller is safe for concurrent use. Snapshots it hands out are never
// mutated afterwards: every change builds a new slice.
type Controller struct {
	remote Remote
	notify Notifier
	store  storage.Store
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	entries  []schedule.Entry
	pending  []int
	nextKey  int
	rev      uint64
	savedRev uint64

	// serializes Save
	saveMu sync.Mutex
}

func New(remote Remote, n Notifier, opts ...Option) *Controller {
	c := &Controller{remote: remote, notify: n}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "controller"))
	return c
}

// Load replaces the live collection with the remote one. Failures are
// logged and returned but never shown to the user; the collection is left
// as it was.
func (c *Controller) Load(ctx context.Context) error {
	start := time.Now()
	entries, err := c.remote.Fetch(ctx)
	if err == nil {
		if dup := duplicateKeys(entries); len(dup) > 0 {
			err = fmt.Errorf("%w: %v", ErrDuplicateKey, dup)
		}
	}
	c.audit(ctx, uuid.NewString(), storage.ActionLoad, nil, len(entries), err, start)
	if err != nil {
		c.log.Error("load schedules failed", logx.Err(err))
		eventbus.Publish(c.bus, eventbus.ScheduleLoadFailed, err.Error())
		return fmt.Errorf("load schedules: %w", err)
	}

	next := make([]schedule.Entry, len(entries))
	copy(next, entries)

	c.mu.Lock()
	c.entries = next
	for _, e := range next {
		if e.Key >= c.nextKey {
			c.nextKey = e.Key + 1
		}
	}
	c.rev++
	if len(c.pending) == 0 {
		c.savedRev = c.rev
	}
	c.mu.Unlock()

	c.log.Info("schedules loaded", logx.Int("count", len(next)), logx.Duration("took", time.Since(start)))
	eventbus.Publish(c.bus, eventbus.ScheduleLoaded, len(next))
	return nil
}

// AddEntry appends a blank row and returns its key. Keys come from a
// counter that only grows, so a removed key is never handed out again.
func (c *Controller) AddEntry() int {
	c.mu.Lock()
	key := c.nextKey
	c.nextKey++
	next := make([]schedule.Entry, len(c.entries), len(c.entries)+1)
	copy(next, c.entries)
	c.entries = append(next, schedule.NewEntry(key))
	c.rev++
	c.mu.Unlock()

	c.log.Debug("schedule added", logx.Int("key", key))
	eventbus.Publish(c.bus, eventbus.ScheduleAdded, key)
	return key
}

// RemoveEntry drops the row with key and queues the key for deletion.
func (c *Controller) RemoveEntry(key int) error {
	c.mu.Lock()
	idx := c.indexLocked(key)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("remove %d: %w", key, ErrNotFound)
	}
	next := make([]schedule.Entry, 0, len(c.entries)-1)
	next = append(next, c.entries[:idx]...)
	next = append(next, c.entries[idx+1:]...)
	c.entries = next
	c.pending = appendPending(c.pending, key)
	c.rev++
	c.mu.Unlock()

	c.log.Debug("schedule removed", logx.Int("key", key))
	eventbus.Publish(c.bus, eventbus.ScheduleRemoved, key)
	return nil
}

// UpdateField replaces one field of the row with key.
func (c *Controller) UpdateField(key int, f schedule.Field, v any) error {
	c.mu.Lock()
	idx := c.indexLocked(key)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("update %d: %w", key, ErrNotFound)
	}
	updated, err := c.entries[idx].With(f, v)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("update %d: %w: %v", key, ErrFieldValue, err)
	}
	next := make([]schedule.Entry, len(c.entries))
	copy(next, c.entries)
	next[idx] = updated
	c.entries = next
	c.rev++
	c.mu.Unlock()

	eventbus.Publish(c.bus, eventbus.ScheduleUpdated, key)
	return nil
}

// ClearAll empties the collection and queues every key for deletion.
func (c *Controller) ClearAll() {
	c.mu.Lock()
	keys := make([]int, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.Key)
	}
	c.entries = []schedule.Entry{}
	pending := c.pending
	for _, k := range keys {
		pending = appendPending(pending, k)
	}
	c.pending = pending
	c.rev++
	c.mu.Unlock()

	c.log.Debug("schedules cleared", logx.Ints("keys", keys))
	eventbus.Publish(c.bus, eventbus.ScheduleCleared, keys)
}

// Validate reports whether every live row is complete.
func (c *Controller) Validate() bool {
	return schedule.Validate(c.Snapshot())
}

// Save validates the collection, upserts it when non-empty, deletes the
// pending keys when there are any and shows the outcome as a toast. It
// stops at the first failure; local state is never rolled back.
func (c *Controller) Save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	entries := c.entries
	pending := append([]int(nil), c.pending...)
	rev := c.rev
	c.mu.Unlock()

	if !schedule.Validate(entries) {
		c.log.Warn("save rejected: incomplete schedules", logx.Ints("keys", schedule.Incomplete(entries)))
		c.toast(ctx, notifier.Toast{Title: TitleInvalid, Description: DescInvalid, Variant: notifier.VariantDestructive})
		return ErrInvalid
	}

	// one id ties the upsert and delete records of this save together
	op := uuid.NewString()
	log := c.log.With(logx.String("op", op))

	if len(entries) > 0 {
		start := time.Now()
		err := c.remote.UpsertAll(ctx, entries)
		c.audit(ctx, op, storage.ActionUpsert, keysOf(entries), len(entries), err, start)
		if err != nil {
			log.Error("upsert schedules failed", logx.Err(err), logx.Int("count", len(entries)))
			c.toast(ctx, notifier.Toast{Title: TitleSaveFailed, Description: err.Error(), Variant: notifier.VariantDestructive})
			eventbus.Publish(c.bus, eventbus.ScheduleSaveFailed, err.Error())
			return fmt.Errorf("save schedules: %w", err)
		}
	}

	if len(pending) > 0 {
		start := time.Now()
		err := c.remote.DeleteByKeys(ctx, pending)
		c.audit(ctx, op, storage.ActionDelete, pending, len(pending), err, start)
		if err != nil {
			log.Error("delete schedules failed", logx.Err(err), logx.Ints("keys", pending))
			c.toast(ctx, notifier.Toast{Title: TitleDeleteFailed, Description: err.Error(), Variant: notifier.VariantDestructive})
			eventbus.Publish(c.bus, eventbus.ScheduleSaveFailed, err.Error())
			return fmt.Errorf("delete schedules: %w", err)
		}
	}

	c.mu.Lock()
	c.pending = withoutKeys(c.pending, pending)
	if c.rev == rev {
		c.savedRev = rev
	}
	c.mu.Unlock()

	log.Info("schedules saved", logx.Int("upserted", len(entries)), logx.Int("deleted", len(pending)))
	c.toast(ctx, notifier.Toast{Title: TitleSaved, Description: DescSaved, Variant: notifier.VariantSuccess})
	eventbus.Publish(c.bus, eventbus.ScheduleSaved, len(entries))
	return nil
}

// Snapshot returns the live collection. Callers must not modify it.
func (c *Controller) Snapshot() []schedule.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

// Pending returns a copy of the keys awaiting deletion.
func (c *Controller) Pending() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.pending...)
}

func (c *Controller) Get(key int) (schedule.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(key)
	if idx < 0 {
		return schedule.Entry{}, false
	}
	return c.entries[idx], true
}

// Dirty reports whether anything changed since the last successful save
// or load.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rev != c.savedRev || len(c.pending) > 0
}

// Revision counts mutations since the controller was created.
func (c *Controller) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rev
}

func (c *Controller) indexLocked(key int) int {
	for i := range c.entries {
		if c.entries[i].Key == key {
			return i
		}
	}
	return -1
}

func (c *Controller) toast(ctx context.Context, t notifier.Toast) {
	if c.notify == nil {
		return
	}
	if err := c.notify.Notify(ctx, t); err != nil {
		c.log.Debug("toast not shown", logx.String("title", t.Title), logx.Err(err))
	}
}

func (c *Controller) audit(ctx context.Context, op, action string, keys []int, count int, err error, start time.Time) {
	if c.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     start,
		Op:     op,
		Action: action,
		Keys:   keys,
		Count:  count,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	// the audit write must not inherit a cancelled request context
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if aerr := c.store.AppendAudit(actx, e); aerr != nil {
		c.log.Debug("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

// duplicateKeys returns each key that occurs more than once, in first
// repeat order.
func duplicateKeys(entries []schedule.Entry) []int {
	seen := make(map[int]int, len(entries))
	var dup []int
	for _, e := range entries {
		if seen[e.Key]++; seen[e.Key] == 2 {
			dup = append(dup, e.Key)
		}
	}
	return dup
}

func keysOf(entries []schedule.Entry) []int {
	keys := make([]int, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func appendPending(pending []int, key int) []int {
	for _, k := range pending {
		if k == key {
			return pending
		}
	}
	next := make([]int, len(pending), len(pending)+1)
	copy(next, pending)
	return append(next, key)
}

func withoutKeys(pending, done []int) []int {
	if len(done) == 0 {
		return pending
	}
	drop := make(map[int]struct{}, len(done))
	for _, k := range done {
		drop[k] = struct{}{}
	}
	out := make([]int, 0, len(pending))
	for _, k := range pending {
		if _, ok := drop[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
