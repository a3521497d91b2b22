package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	logx "schedform/pkg/logx"
)

// recentMax bounds the audit entries kept in memory for ListAudit.
const recentMax = 1000

var errClosed = errors.New("store closed")

// fileStore writes two files next to cfg.Path (extension dropped):
//
//	<base>.audit.jsonl  one AuditEntry per line, append only
//	<base>.dedup.json   {"key": until_unix_ms, ...}, replaced on every write
//
// The newest audit entries are also held in memory so ListAudit does not
// rescan the log.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu        sync.Mutex
	audit     afero.File
	recent    []AuditEntry // oldest first
	dedupPath string
	dedup     map[string]int64
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("path is required")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if err := fs.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, err
	}

	auditPath := base + ".audit.jsonl"
	recent, err := readAuditTail(fs, auditPath, recentMax)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	af, err := fs.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := &fileStore{
		log:       log,
		fs:        fs,
		audit:     af,
		recent:    recent,
		dedupPath: base + ".dedup.json",
		dedup:     map[string]int64{},
	}
	if err := st.loadDedup(); err != nil && !errors.Is(err, os.ErrNotExist) {
		// a corrupt dedup file only costs a few repeated toasts
		log.Warn("dedup state unreadable; starting empty", logx.String("path", st.dedupPath), logx.Err(err))
	}
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return nil
	}
	err := s.audit.Close()
	s.audit = nil
	return err
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return errClosed
	}
	if _, err := s.audit.Write(append(line, '\n')); err != nil {
		return err
	}
	s.recent = append(s.recent, e)
	if len(s.recent) > recentMax {
		s.recent = append([]AuditEntry(nil), s.recent[len(s.recent)-recentMax:]...)
	}
	return nil
}

func (s *fileStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AuditEntry, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return errClosed
	}
	s.dedup[key] = until.UnixMilli()
	now := time.Now().UnixMilli()
	for k, ms := range s.dedup {
		if ms < now {
			delete(s.dedup, k)
		}
	}
	return s.writeDedupLocked()
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// writeDedupLocked replaces the dedup file through a temp file so readers
// never see a partial map.
func (s *fileStore) writeDedupLocked() error {
	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	tmp := s.dedupPath + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.dedupPath)
}

func (s *fileStore) loadDedup() error {
	b, err := afero.ReadFile(s.fs, s.dedupPath)
	if err != nil {
		return err
	}
	m := map[string]int64{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for k, ms := range m {
		if ms >= now {
			s.dedup[k] = ms
		}
	}
	return nil
}

// readAuditTail returns up to max trailing entries of the log, oldest
// first. Lines that do not parse are skipped.
func readAuditTail(fs afero.Fs, path string, max int) ([]AuditEntry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e AuditEntry
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		out = append(out, e)
		if len(out) > 2*max {
			out = append([]AuditEntry(nil), out[len(out)-max:]...)
		}
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out, sc.Err()
}
