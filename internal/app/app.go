// Package app assembles the service: config, logging, storage, solver,
// orchestrator, HTTP server and background workers.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"timebox/internal/auth"
	"timebox/internal/config"
	"timebox/internal/eventbus"
	"timebox/internal/httpapi"
	"timebox/internal/runtime/supervisor"
	"timebox/internal/schedule"
	"timebox/internal/solver"
	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

const (
	defaultResweepSpec    = "0 3 * * *"
	defaultAuditRetention = 720 * time.Hour
	defaultPruneInterval  = time.Hour
)

// App owns the whole service lifecycle.
type App struct {
	cfgMgr   *config.Manager
	logSvc   *logx.Service
	log      logx.Logger
	store    storage.Store
	gateway  *solver.Gateway
	orch     *schedule.Orchestrator
	server   *httpapi.Server
	verifier *auth.Static
	bus      eventbus.Bus
}

// New loads and validates the config file and wires every component.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
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
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	solverCfg, err := solverConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	gateway := solver.NewGateway(solverCfg, log.With(logx.String("comp", "solver")))

	bus := eventbus.New()
	orch := schedule.NewOrchestrator(store, gateway, bus, log.With(logx.String("comp", "schedule")))

	verifier := auth.NewStatic(authKeys(cfg))

	httpCfg, err := httpConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	server := httpapi.NewServer(httpCfg, orch, verifier, log.With(logx.String("comp", "http")))

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		gateway:  gateway,
		orch:     orch,
		server:   server,
		verifier: verifier,
		bus:      bus,
	}, nil
}

// Run starts every worker and blocks until ctx is cancelled or a fatal
// component fails.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	sup.Go("http", a.server.Run)
	sup.GoRestart("config-watch", a.cfgMgr.Watch)
	sup.Go("config-apply", a.applyConfigUpdates)
	sup.Go("audit", a.auditWorker)

	if cfg := a.cfgMgr.Get(); cfg != nil && cfg.Maintenance.Enabled {
		if err := a.startMaintenance(sup, cfg); err != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
			a.shutdown()
			return err
		}
	}

	a.log.Info("timebox started")
	err := sup.Wait(context.Background())
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("timebox stopped")
	_ = a.logSvc.Close()
}

// applyConfigUpdates pushes hot-reloaded settings into the live components.
// Storage and the listen address need a restart; everything else applies live.
func (a *App) applyConfigUpdates(ctx context.Context) error {
	ch := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if sc, err := solverConfig(cfg); err == nil {
				a.gateway.Apply(sc)
			}
			a.verifier.Replace(authKeys(cfg))
			a.server.ApplyRate(cfg.HTTP.Rate.PerSec, cfg.HTTP.Rate.Burst)
			a.log.Info("config applied")
		}
	}
}

// auditWorker persists mutation and run outcomes published on the bus.
// Audit is best-effort; a write failure never affects request handling.
func (a *App) auditWorker(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != schedule.EventRunCompleted && ev.Type != schedule.EventRunFailed {
				continue
			}
			info, ok := ev.Data.(schedule.RunInfo)
			if !ok {
				continue
			}
			entry := storage.AuditEntry{
				At:     ev.Time,
				Owner:  info.Owner,
				Action: info.Action,
				TaskID: info.TaskID,
				OK:     info.OK,
				Error:  info.Error,
				TookMS: info.TookMS,
			}
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.store.AppendAudit(wctx, entry); err != nil {
				a.log.Warn("audit write failed", logx.Err(err))
			}
			cancel()
		}
	}
}

// startMaintenance schedules the conflict resweep and audit pruning.
func (a *App) startMaintenance(sup *supervisor.Supervisor, cfg *config.Config) error {
	spec := cfg.Maintenance.ResweepSpec
	if spec == "" {
		spec = defaultResweepSpec
	}
	retention, err := config.ParseDurationOrDefault(
		"maintenance.audit_retention", cfg.Maintenance.AuditRetention, defaultAuditRetention)
	if err != nil {
		return err
	}

	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(sup.Context(), 30*time.Minute)
		defer cancel()
		if err := a.orch.Resweep(ctx); err != nil {
			a.log.Warn("conflict resweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance.resweep_spec: %w", err)
	}

	sup.Go("cron", func(ctx context.Context) error {
		c.Start()
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return nil
	})

	sup.Go("audit-prune", func(ctx context.Context) error {
		tick := time.NewTicker(defaultPruneInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				n, err := a.store.PruneAudit(ctx, time.Now().Add(-retention))
				if err != nil {
					a.log.Warn("audit prune failed", logx.Err(err))
					continue
				}
				if n > 0 {
					a.log.Debug("audit pruned", logx.Int64("rows", n))
				}
			}
		}
	})
	return nil
}

func solverConfig(cfg *config.Config) (solver.Config, error) {
	timeout, err := config.ParseDurationField("solver.timeout", cfg.Solver.Timeout)
	if err != nil {
		return solver.Config{}, err
	}
	base, err := config.ParseDurationField("solver.retry_base", cfg.Solver.RetryBase)
	if err != nil {
		return solver.Config{}, err
	}
	return solver.Config{
		Command:   cfg.Solver.Command,
		Timeout:   timeout,
		RetryMax:  cfg.Solver.RetryMax,
		RetryBase: base,
	}, nil
}

func httpConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		RatePerSec:   cfg.HTTP.Rate.PerSec,
		RateBurst:    cfg.HTTP.Rate.Burst,
	}, nil
}

func authKeys(cfg *config.Config) []auth.Key {
	keys := make([]auth.Key, 0, len(cfg.Auth.Keys))
	for _, k := range cfg.Auth.Keys {
		keys = append(keys, auth.Key{Token: k.Token, Owner: k.Owner})
	}
	return keys
}
