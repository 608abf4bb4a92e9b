// Package app assembles the process: config, logging, storage, the
// scheduling pipeline, and the HTTP control surface. It owns start/stop
// ordering; no other package wires components together.
package app

import (
	"context"
	"time"

	"hooksched/internal/api"
	"hooksched/internal/audit"
	"hooksched/internal/config"
	"hooksched/internal/delivery"
	"hooksched/internal/eventbus"
	"hooksched/internal/scheduler"
	"hooksched/internal/store"
	"hooksched/internal/timer"
	logx "hooksched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	st    store.Store
	bus   eventbus.Bus
	sched *scheduler.Service
	audit *audit.Recorder
	api   *api.Service

	watchCancel context.CancelFunc
	cfgCh       chan *config.Config
	cfgDone     chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
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

	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout(cfg),
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	disp := delivery.New(
		log.With(logx.String("comp", "delivery")),
		cfg.DeliveryTimeout(delivery.DefaultTimeout),
	)

	var sched *scheduler.Service
	eng := timer.New(
		log.With(logx.String("comp", "timer")),
		func(id string) { sched.OnTimerFire(id) },
	)
	sched = scheduler.New(scheduler.Config{
		ReconcileInterval: cfg.ReconcileInterval(time.Minute),
	}, st, disp, eng, bus, log.With(logx.String("comp", "scheduler")))

	rec := audit.New(st, bus, log.With(logx.String("comp", "audit")))

	apiSvc := api.New(api.Config{
		Addr:          cfg.HTTP.EffectiveAddr(),
		AllowInsecure: cfg.HTTP.AllowInsecure,
		ReadTimeout:   httpTimeout(cfg.HTTP.ReadTimeout),
		WriteTimeout:  httpTimeout(cfg.HTTP.WriteTimeout),
		IdleTimeout:   httpTimeout(cfg.HTTP.IdleTimeout),
	}, sched, st, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		st:      st,
		bus:     bus,
		sched:   sched,
		audit:   rec,
		api:     apiSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.audit.Start(ctx); err != nil {
		return err
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if err := a.api.Start(ctx); err != nil {
		a.sched.Stop(ctx)
		a.audit.Stop(ctx)
		return err
	}

	// Hot reload: only the logging section can change at runtime; storage,
	// listener and pipeline changes need a restart.
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.cfgCh = a.cfgm.Subscribe(4)
	a.cfgDone = make(chan struct{})
	go func() { _ = a.cfgm.Watch(wctx) }()
	go a.applyConfigUpdates(wctx)

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		a.cfgm.Unsubscribe(a.cfgCh)
		select {
		case <-a.cfgDone:
		case <-ctx.Done():
		}
	}
	a.api.Stop(ctx)
	a.sched.Stop(ctx)
	a.audit.Stop(ctx)
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// APIAddr returns the bound control-surface address, or "" before Start.
func (a *App) APIAddr() string { return a.api.Addr() }

func (a *App) applyConfigUpdates(ctx context.Context) {
	defer close(a.cfgDone)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}

func busyTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return 0
	}
	return d
}

func httpTimeout(raw string) time.Duration {
	d, err := config.ParseDurationField("http", raw)
	if err != nil {
		return 0
	}
	return d
}
