package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "schedform/pkg/logx"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Store is what the controller and the notifier persist through.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns the newest entries first; limit <= 0 means all.
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the accepted driver names, "none" included.
func Drivers() []string {
	out := []string{"none"}
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open returns the store for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	return st, nil
}
