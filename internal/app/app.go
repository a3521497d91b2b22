// Package app wires configuration, logging, storage, the API client, the
// toast pipeline, the controller, autosave and the console together and
// owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"schedform/internal/api"
	"schedform/internal/autosave"
	"schedform/internal/config"
	"schedform/internal/console"
	"schedform/internal/controller"
	"schedform/internal/debugsrv"
	"schedform/internal/eventbus"
	"schedform/internal/notifier"
	rtsup "schedform/internal/runtime/supervisor"
	"schedform/internal/schedule"
	"schedform/internal/storage"
	logx "schedform/pkg/logx"
)

// Options configure NewApp. Zero values fall back to stdin/stdout and a
// default HTTP client.
type Options struct {
	ConfigPath string
	// BaseURL overrides api.base_url from the file.
	BaseURL    string
	In         io.Reader
	Out        io.Writer
	HTTPClient *http.Client
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client *api.Client
	notif  *notifier.Service
	ctrl   *controller.Controller
	saver  *autosave.Service
	debug  *debugsrv.Server

	catalog atomic.Value // schedule.Catalog

	in  io.Reader
	out io.Writer
}

func NewApp(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = logx.Stdout()
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	apiCfg, err := mapAPIConfig(cfg, opts.BaseURL)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	client, err := api.New(apiCfg, opts.HTTPClient, log.With(logx.String("comp", "api")))
	if err != nil {
		closeStore(store)
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	notif := notifier.New(ncfg, notifier.NewWriterSink(out), log.With(logx.String("comp", "notifier")), bus, store)

	ctrl := controller.New(client, notif,
		controller.WithLogger(log),
		controller.WithStore(store),
		controller.WithBus(bus),
	)

	saver := autosave.New(mapAutosaveConfig(cfg), ctrl, log, bus)
	if err := saver.Validate(mapAutosaveConfig(cfg)); err != nil {
		closeStore(store)
		return nil, fmt.Errorf("autosave.schedule: %w", err)
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		client: client,
		notif:  notif,
		ctrl:   ctrl,
		saver:  saver,
		in:     in,
		out:    out,
	}
	a.catalog.Store(cfg.Catalog.Catalog())
	a.debug = debugsrv.New(mapDebugConfig(cfg), a.debugState, log.With(logx.String("comp", "debug")))
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func (a *App) Controller() *controller.Controller { return a.ctrl }

func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Catalog returns the live option lists.
func (a *App) Catalog() schedule.Catalog {
	if c, ok := a.catalog.Load().(schedule.Catalog); ok {
		return c
	}
	return schedule.DefaultCatalog()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the background services: toast workers, autosave, the
// event log and config hot reload. It does not load schedules.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAPIConfig(cfg, ""); err != nil {
			return err
		}
		return a.saver.Validate(mapAutosaveConfig(cfg))
	})

	// toast workers outlive the supervisor so Stop can drain them
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(a.sup.Context()))
	}
	if err := a.saver.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.debug.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("debug: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts; only the newest matters
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", 250*time.Millisecond, 5*time.Second, func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig pushes a reloaded config into the live services. api and
// storage only change on restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.catalog.Store(newCfg.Catalog.Catalog())

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(context.WithoutCancel(ctx))
		}
	}

	if err := a.saver.Apply(mapAutosaveConfig(newCfg)); err != nil {
		a.log.Warn("invalid autosave config; keeping previous", logx.Err(err))
	}

	if err := a.debug.Reconfigure(ctx, mapDebugConfig(newCfg)); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

type debugState struct {
	Entries  []schedule.Entry `json:"entries"`
	Pending  []int            `json:"pendingDeletion"`
	Dirty    bool             `json:"dirty"`
	Revision uint64           `json:"revision"`
	Valid    bool             `json:"valid"`
	Autosave *time.Time       `json:"nextAutosave,omitempty"`
	Toasts   int              `json:"toastsShown"`

	Goroutines rtsup.SupervisorCounters `json:"goroutines"`
}

func (a *App) debugState() any {
	st := debugState{
		Entries:  a.ctrl.Snapshot(),
		Pending:  a.ctrl.Pending(),
		Dirty:    a.ctrl.Dirty(),
		Revision: a.ctrl.Revision(),
		Valid:    a.ctrl.Validate(),
		Toasts:   len(a.notif.Snapshot()),

		Goroutines: a.sup.Counters(),
	}
	if next := a.saver.Next(); !next.IsZero() {
		st.Autosave = &next
	}
	return st
}

// Load fetches the remote collection into the controller.
func (a *App) Load(ctx context.Context) error {
	return a.ctrl.Load(ctx)
}

// RunShell runs the interactive console until the user quits, input ends
// or the app stops.
func (a *App) RunShell(ctx context.Context) error {
	sh := console.New(console.Options{
		Controller: a.ctrl,
		Catalog:    a.Catalog,
		History:    a.notif.Snapshot,
		Audit:      a.store,
		Flush:      a.notif.Flush,
		Log:        a.log,
	}, a.in, a.out)
	runCtx := ctx
	if a.sup != nil {
		runCtx = a.sup.Context()
	}
	return sh.Run(runCtx)
}

// Print renders the live collection on the app's output.
func (a *App) Print() {
	console.RenderTable(a.out, a.ctrl.Snapshot())
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		closeStore(a.store)
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	a.step(ctx, "debug", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "autosave", 2*time.Second, func(c context.Context) error { a.saver.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.Int64("events_dropped", int64(a.bus.Dropped())))
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step bounded by max and by ctx's deadline. A step
// that overruns is left to finish in the background.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
