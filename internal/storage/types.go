package storage

import (
	"time"

	"github.com/spf13/afero"
)

// Config selects and locates a store. Driver is "file", "sqlite" or
// "none"/empty for no store at all.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs backs the file driver; nil means the OS filesystem.
	Fs afero.Fs
}

// Audit actions.
const (
	ActionLoad   = "load"
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// AuditEntry records one call against the schedule API. Entries written
// by the same save share Op.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Op     string    `json:"op,omitempty"`
	Action string    `json:"action"`
	Keys   []int     `json:"keys,omitempty"`
	Count  int       `json:"count"`
	OK     bool      `json:"ok"`
	Error  string    `json:"err,omitempty"`
	TookMS int64     `json:"took_ms"`
}
