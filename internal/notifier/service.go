package notifier

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedform/internal/eventbus"
	rtsup "schedform/internal/runtime/supervisor"
	"schedform/internal/storage"
	logx "schedform/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrNoSink    = errors.New("notifier has no sink")
)

type job struct {
	toast Toast
	key   string
}

// pool is one running generation of workers. It is replaced on every
// Start after a Stop.
type pool struct {
	queue    chan job
	sup      *rtsup.Supervisor
	inflight sync.WaitGroup // Notify calls about to send on queue
	drained  chan struct{}  // closed once workers have exited
	stopping bool

	// guarded by Service.mu
	outstanding int             // queued or being delivered
	idle        []chan struct{} // Flush waiters, closed at outstanding == 0
}

// Service shows toasts through a Sink. Started, it queues them for a rate
// limited worker pool that retries failed deliveries; otherwise each
// Notify delivers inline. Identical toasts inside the dedup window are
// shown once.
//
// It is safe for concurrent use.
type Service struct {
	log   logx.Logger
	sink  Sink
	bus   eventbus.Bus
	dedup *dedupCache
	shown history

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *pool
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sink:  sink,
		log:   log,
		bus:   bus,
		dedup: newDedupCache(store, log),
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps rate, retry and dedup settings. Worker and queue sizes take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalize()
	s.mu.Lock()
	s.cfg = cfg
	// burst equals the per-second rate so short spikes pass
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the worker pool. It is a no-op when the pipeline is
// disabled or already running. A Start racing a Stop waits for the drain.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if p := s.run; p != nil && p.stopping {
		s.mu.Unlock()
		select {
		case <-p.drained:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.run != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	p := &pool{
		queue:   make(chan job, s.cfg.QueueSize),
		drained: make(chan struct{}),
		// toast failures must not take the app down
		sup: rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.run = p
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		p.sup.Go0("worker."+strconv.Itoa(i), func(c context.Context) { s.work(c, p) })
	}
}

// Stop refuses new toasts and lets the workers drain the queue until ctx
// ends, at which point the rest is abandoned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping
	p.stopping = true
	s.mu.Unlock()

	if first {
		go func() {
			p.inflight.Wait()
			close(p.queue)
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			if s.run == p {
				s.run = nil
			}
			// abandoned toasts never settle
			for _, ch := range p.idle {
				close(ch)
			}
			p.idle = nil
			s.mu.Unlock()
			close(p.drained)
		}()
	}

	select {
	case <-p.drained:
	case <-ctx.Done():
		if first {
			p.sup.Cancel()
		}
	}
}

// Notify shows t: enqueued when the pool runs, inline otherwise.
// Duplicates inside the dedup window are dropped silently.
func (s *Service) Notify(ctx context.Context, t Toast) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Variant == "" {
		t.Variant = VariantDefault
	}

	s.mu.Lock()
	cfg := s.cfg
	p := s.run
	if p != nil && p.stopping {
		p = nil
	}
	if p != nil {
		p.inflight.Add(1)
	}
	s.mu.Unlock()
	if p != nil {
		defer p.inflight.Done()
	}

	j := job{toast: t, key: toastKey(t)}
	if cfg.DedupWindow > 0 && !s.dedup.allow(ctx, j.key, cfg.DedupWindow, cfg.DedupMaxEntries, cfg.PersistDedup) {
		s.publish(eventbus.ToastDeduped, j, nil)
		return nil
	}
	if p == nil {
		return s.deliver(ctx, j)
	}

	s.publish(eventbus.ToastQueued, j, nil)
	s.mu.Lock()
	p.outstanding++
	s.mu.Unlock()
	select {
	case p.queue <- j:
		return nil
	default:
		s.settle(p)
		s.publish(eventbus.ToastDropped, j, ErrQueueFull)
		return ErrQueueFull
	}
}

// Flush waits until every queued toast has been delivered or given up on,
// or ctx ends. It returns at once when the pool is not running.
func (s *Service) Flush(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.run
	if p == nil || p.outstanding == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.idle = append(p.idle, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle marks one queued toast of p as finished.
func (s *Service) settle(p *pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.outstanding--; p.outstanding > 0 {
		return
	}
	for _, ch := range p.idle {
		close(ch)
	}
	p.idle = nil
}

// Snapshot returns the recently shown toasts, oldest first.
func (s *Service) Snapshot() []HistoryItem { return s.shown.snapshot() }

func (s *Service) work(ctx context.Context, p *pool) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			_ = s.deliver(ctx, j)
			s.settle(p)
		}
	}
}

// deliver shows j, retrying up to cfg.RetryMax times.
func (s *Service) deliver(ctx context.Context, j job) error {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.sink == nil {
		return ErrNoSink
	}

	var err error
	for attempt := 1; ; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return werr
		}
		if err = s.sink.Show(ctx, j.toast); err == nil {
			s.shown.add(j.toast)
			s.publish(eventbus.ToastShown, j, nil)
			return nil
		}
		s.log.Debug("toast delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", cfg.RetryMax+1))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(cfg.backoff(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	s.publish(eventbus.ToastFailed, j, err)
	return err
}

func (s *Service) publish(typ string, j job, err error) {
	if s.bus == nil {
		return
	}
	ev := ToastEvent{Title: j.toast.Title, Variant: j.toast.Variant, Key: j.key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
