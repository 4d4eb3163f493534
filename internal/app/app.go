// Package app wires the gateway together: configuration, logging, the
// plugin registry, runtime state, the worker supervisor, the status
// aggregator and the refresh scheduler.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"chanhub/internal/activity"
	"chanhub/internal/catalog"
	"chanhub/internal/channel"
	"chanhub/internal/config"
	"chanhub/internal/eventbus"
	"chanhub/internal/gateway"
	"chanhub/internal/refresh"
	rt "chanhub/internal/runtime"
	"chanhub/internal/runtime/supervisor"
	"chanhub/internal/status"
	"chanhub/internal/worker"
	logx "chanhub/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	registry *channel.Registry
	runtime  *rt.State
	activity *activity.Tracker
	workers  *worker.Supervisor
	agg      *status.Aggregator
	gw       *gateway.Gateway
	refresh  *refresh.Service
}

// New loads configuration and constructs every component. Plugins are
// registered once here; the set never changes at runtime.
func New(cfgPath string, plugins ...channel.Plugin) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	act, err := activity.Open(activity.Config{
		Driver: cfg.Activity.Driver,
		Path:   cfg.Activity.Path,
	}, log.With(logx.String("comp", "activity")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open activity tracker: %w", err)
	}

	runtimeState := rt.NewState()
	registry := channel.NewRegistry(plugins...)
	cat := catalog.Build(registry.Plugins())

	agg := status.NewAggregator(registry, cfgm, runtimeState, act, cat,
		log.With(logx.String("comp", "status")))
	workers := worker.NewSupervisor(registry, cfgm, runtimeState, act, bus,
		log.With(logx.String("comp", "worker")))
	gw := gateway.New(registry, cfgm, runtimeState, agg, workers, bus,
		log.With(logx.String("comp", "gateway")))
	ref := refresh.New(agg, bus, log.With(logx.String("comp", "refresh")))

	ids := make([]string, 0, len(registry.Plugins()))
	for _, p := range registry.Plugins() {
		ids = append(ids, p.ID())
	}
	log.Info("channels registered", logx.String("channels", strings.Join(ids, ",")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		registry: registry,
		runtime:  runtimeState,
		activity: act,
		workers:  workers,
		agg:      agg,
		gw:       gw,
		refresh:  ref,
	}, nil
}

// Gateway returns the operation surface callers expose over their
// transport of choice.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Reloads are transactional: a config that fails validation is never
	// committed or published.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.workers.StartAll(a.sup.Context())
	a.refresh.Apply(a.cfgm.Get().Status.Refresh)

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
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
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("gateway started")
	return nil
}

func (a *App) applyReload(prev, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if prev != nil &&
		(prev.Activity.Driver != cfg.Activity.Driver || prev.Activity.Path != cfg.Activity.Path) {
		a.log.Warn("activity config changed; restart required for changes to take effect")
	}
	a.refresh.Apply(cfg.Status.Refresh)
	a.workers.Reconcile()
	a.log.Info("config reloaded")
}

// validateConfig rejects configs that would break a hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg.Status.ProbesPerSec < 0 {
		return fmt.Errorf("status.probes_per_sec must be >= 0")
	}
	if _, err := config.ParseDurationField("status.refresh.timeout", cfg.Status.Refresh.Timeout); err != nil {
		return err
	}
	if cfg.Status.Refresh.Enabled && cfg.Status.Refresh.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Status.Refresh.Schedule); err != nil {
			return fmt.Errorf("status.refresh.schedule: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Activity.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Activity.Path) == "" {
			return fmt.Errorf("activity.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("activity.driver: unknown driver %q", cfg.Activity.Driver)
	}
	return nil
}

// Stop shuts components down in dependency order, bounding each step so
// one stalled component cannot hang the process.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("stop step panic", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("refresh", 5*time.Second, func(context.Context) { a.refresh.Stop() })
	step("workers", 15*time.Second, func(context.Context) { a.workers.StopAll(12 * time.Second) })
	step("background", 5*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })
	step("activity", 3*time.Second, func(context.Context) {
		if err := a.activity.Close(); err != nil {
			a.log.Warn("activity close failed", logx.Err(err))
		}
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
