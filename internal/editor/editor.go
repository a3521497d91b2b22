// Package editor implements the per-row editor.
//
// A RowEditor is seeded once from the controller's entry. It keeps its own
// copy of the four fields and does not follow later controller changes
// unless Resync is called. Every edit pushes all four local values back to
// the controller.
package editor

import (
	"errors"
	"fmt"
	"sync"

	"schedform/internal/schedule"
	logx "schedform/pkg/logx"
)

var ErrUnknownOption = errors.New("unknown option")

// Target is the part of the controller a row editor writes to.
type Target interface {
	Get(key int) (schedule.Entry, bool)
	UpdateField(key int, f schedule.Field, v any) error
	RemoveEntry(key int) error
}

type RowEditor struct {
	key     int
	target  Target
	catalog func() schedule.Catalog
	log     logx.Logger

	mu    sync.Mutex
	local schedule.Entry
}

// New seeds an editor from the target's current entry for key. catalog is
// consulted on every channel/location pick so live catalog changes apply.
func New(target Target, key int, catalog func() schedule.Catalog, log logx.Logger) (*RowEditor, error) {
	e, ok := target.Get(key)
	if !ok {
		return nil, fmt.Errorf("editor for %d: no such entry", key)
	}
	if catalog == nil {
		catalog = schedule.DefaultCatalog
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RowEditor{
		key:     key,
		target:  target,
		catalog: catalog,
		log:     log.With(logx.Int("key", key)),
		local:   e,
	}, nil
}

func (r *RowEditor) Key() int { return r.key }

// Local returns the editor's own view of the row.
func (r *RowEditor) Local() schedule.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// SetStartDate picks a start date. A nil pick leaves the value as is.
func (r *RowEditor) SetStartDate(d *schedule.Date) error {
	if d == nil {
		return nil
	}
	return r.set(schedule.FieldStartDate, *d)
}

// SetEndDate picks an end date. A nil pick leaves the value as is.
func (r *RowEditor) SetEndDate(d *schedule.Date) error {
	if d == nil {
		return nil
	}
	return r.set(schedule.FieldEndDate, *d)
}

// SetChannel picks a channel by 1-based index or name.
func (r *RowEditor) SetChannel(in string) error {
	return r.pick(schedule.FieldChannel, in)
}

// SetLocation picks a location by 1-based index or name.
func (r *RowEditor) SetLocation(in string) error {
	return r.pick(schedule.FieldLocation, in)
}

// Remove drops the row from the controller.
func (r *RowEditor) Remove() error {
	return r.target.RemoveEntry(r.key)
}

// Resync reloads the local copy from the controller.
func (r *RowEditor) Resync() error {
	e, ok := r.target.Get(r.key)
	if !ok {
		return fmt.Errorf("resync %d: no such entry", r.key)
	}
	r.mu.Lock()
	r.local = e
	r.mu.Unlock()
	return nil
}

func (r *RowEditor) pick(f schedule.Field, in string) error {
	v, ok := r.catalog().Resolve(f, in)
	if !ok {
		return fmt.Errorf("%s %q: %w", f, in, ErrUnknownOption)
	}
	return r.set(f, v)
}

func (r *RowEditor) set(f schedule.Field, v any) error {
	r.mu.Lock()
	next, err := r.local.With(f, v)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.local = next
	r.mu.Unlock()
	return r.propagate(next)
}

// propagate writes every field, not only the one that changed.
func (r *RowEditor) propagate(e schedule.Entry) error {
	for _, f := range schedule.Fields {
		if err := r.target.UpdateField(r.key, f, e.Value(f)); err != nil {
			r.log.Debug("propagate field failed", logx.String("field", string(f)), logx.Err(err))
			return err
		}
	}
	return nil
}
