package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "schedform/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// pruneEvery is how many dedup writes pass between sweeps of expired rows.
const pruneEvery = 500

type sqliteStore struct {
	db     *sqlx.DB
	log    logx.Logger
	writes atomic.Uint64
}

// auditRow mirrors the audit table. Nullable columns stay sql.Null* so
// empty strings round-trip as NULL.
type auditRow struct {
	At     string         `db:"at"`
	Op     sql.NullString `db:"op"`
	Action string         `db:"action"`
	Keys   sql.NullString `db:"keys"`
	Count  int            `db:"count"`
	OK     bool           `db:"ok"`
	Err    sql.NullString `db:"err"`
	TookMS int64          `db:"took_ms"`
}

func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLITE_BUSY out of the picture
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ddl, err := migrationsFS.ReadFile("migrations.sql")
	if err == nil {
		_, err = db.ExecContext(ctx, string(ddl))
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	row := auditRow{
		At:     e.At.UTC().Format(time.RFC3339Nano),
		Op:     nullString(e.Op),
		Action: e.Action,
		Count:  e.Count,
		OK:     e.OK,
		Err:    nullString(e.Error),
		TookMS: e.TookMS,
	}
	if len(e.Keys) > 0 {
		b, err := json.Marshal(e.Keys)
		if err != nil {
			return err
		}
		row.Keys = nullString(string(b))
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO audit(at, op, action, keys, count, ok, err, took_ms)
		 VALUES(:at, :op, :action, :keys, :count, :ok, :err, :took_ms)`, row)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT at, op, action, keys, count, ok, err, took_ms FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, len(rows))
	for i, r := range rows {
		e := &out[i]
		e.At, _ = time.Parse(time.RFC3339Nano, r.At)
		e.Op = r.Op.String
		e.Action = r.Action
		e.Count = r.Count
		e.OK = r.OK
		e.Error = r.Err.String
		e.TookMS = r.TookMS
		if r.Keys.Valid {
			if err := json.Unmarshal([]byte(r.Keys.String), &e.Keys); err != nil {
				s.log.Debug("audit keys unreadable", logx.Err(err))
			}
		}
	}
	return out, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli()); err != nil {
		return err
	}
	if s.writes.Add(1)%pruneEvery == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); err != nil {
			s.log.Debug("dedup prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.GetContext(ctx, &ms, `SELECT until FROM dedup WHERE key = ?`, strings.TrimSpace(key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
