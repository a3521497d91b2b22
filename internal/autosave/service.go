// Package autosave saves the schedule collection on a cron or interval
// schedule whenever it has unsaved changes.
package autosave

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedform/internal/eventbus"
	logx "schedform/pkg/logx"
)

// Saver is the controller surface autosave needs.
type Saver interface {
	Dirty() bool
	Validate() bool
	Save(ctx context.Context) error
}

type Config struct {
	Enabled  bool
	Schedule string
}

// Outcome of one tick.
type Outcome string

const (
	OutcomeSaved      Outcome = "saved"
	OutcomeClean      Outcome = "clean"
	OutcomeIncomplete Outcome = "incomplete"
	OutcomeFailed     Outcome = "failed"
)

type Service struct {
	saver  Saver
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, saver Saver, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		saver: saver,
		log:   log.With(logx.String("comp", "autosave")),
		bus:   bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks a config without applying it.
func (s *Service) Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	tr, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	_, err = s.parser.Parse(tr.Spec())
	return err
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering. A disabled config keeps the service idle until
// Apply enables it.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
		cron.WithLogger(cronLogger{s.log}),
	)
	if err := s.registerLocked(); err != nil {
		s.c = nil
		s.cancel()
		return err
	}
	s.c.Start()
	s.log.Info("service started", logx.Bool("enabled", s.cfg.Enabled), logx.String("schedule", s.cfg.Schedule))
	return nil
}

// Apply swaps the schedule at runtime.
func (s *Service) Apply(cfg Config) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || (old.Enabled == cfg.Enabled && strings.TrimSpace(old.Schedule) == strings.TrimSpace(cfg.Schedule)) {
		return nil
	}
	return s.registerLocked()
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.entryID = 0
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Next returns the next trigger time, zero when idle.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || s.entryID == 0 {
		return time.Time{}
	}
	return s.c.Entry(s.entryID).Next
}

// Tick runs one autosave check: save when the collection is dirty and
// complete. Incomplete collections are skipped quietly so half-filled rows
// do not raise a validation toast on every tick.
func (s *Service) Tick(ctx context.Context) Outcome {
	if !s.saver.Dirty() {
		return OutcomeClean
	}
	if !s.saver.Validate() {
		s.log.Debug("autosave skipped: incomplete schedules")
		return OutcomeIncomplete
	}
	eventbus.Publish(s.bus, eventbus.AutosaveTriggered, time.Now())
	if err := s.saver.Save(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn("autosave failed", logx.Err(err))
		}
		return OutcomeFailed
	}
	s.log.Info("autosave completed")
	return OutcomeSaved
}

func (s *Service) registerLocked() error {
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
		s.entryID = 0
	}
	if !s.cfg.Enabled {
		return nil
	}
	tr, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	ctx := s.ctx
	id, err := s.c.AddFunc(tr.Spec(), func() { s.Tick(ctx) })
	if err != nil {
		return err
	}
	s.entryID = id
	s.log.Debug("schedule registered", logx.String("spec", tr.Spec()), logx.String("form", tr.Form))
	return nil
}

// cronLogger routes robfig/cron's logger through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(keysAndValues []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, keysAndValues[i+1]))
	}
	return out
}
