// Package app assembles and supervises the bot: config, logging,
// storage, the publication dispatcher, the deletion scheduler, the
// Telegram adapter and the conversational UI.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Lebouse/telegram-reminder/internal/adapters/telegram"
	"github.com/Lebouse/telegram-reminder/internal/bot"
	"github.com/Lebouse/telegram-reminder/internal/config"
	"github.com/Lebouse/telegram-reminder/internal/dispatch"
	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	logs *logx.Service
	log  logx.Logger

	store   *storage.Store
	adapter *telegram.Adapter
	deleter *dispatch.Deleter
	disp    *dispatch.Dispatcher
	router  *bot.Router

	maint *cron.Cron

	runCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	deleter := dispatch.NewDeleter(store, adapter, logs.Logger().With(logx.String("comp", "deleter")))
	disp := dispatch.New(store, adapter, deleter, dispatch.Config{
		Horizon: cfg.Horizon(),
	}, logs.Logger().With(logx.String("comp", "dispatch")))

	loc, err := cfg.Location()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	router := bot.NewRouter(adapter.Bot(), disp, store, bot.Config{
		AdminUserIDs: cfg.Telegram.AdminUserIDs,
		Location:     loc,
		Horizon:      cfg.Horizon(),
	}, logs.Logger().With(logx.String("comp", "bot")))

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logs:    logs,
		log:     log,
		store:   store,
		adapter: adapter,
		deleter: deleter,
		disp:    disp,
		router:  router,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.router.Register(runCtx)

	if err := a.deleter.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start deleter: %w", err)
	}
	if err := a.disp.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := a.adapter.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start telegram: %w", err)
	}

	if err := a.startMaintenance(runCtx); err != nil {
		cancel()
		return err
	}

	// Hot reload applies the logging section live; the rest of the
	// config takes effect on restart.
	if err := config.Watch(runCtx, a.cfgPath, a.log, func(cfg *config.Config) {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// startMaintenance schedules the periodic safety sweep and, when
// retention is configured, the nightly archive prune.
func (a *App) startMaintenance(ctx context.Context) error {
	sweep, err := config.ParseDurationOrDefault("scheduler.sweep_interval", a.cfg.Scheduler.SweepInterval, 2*time.Minute)
	if err != nil {
		return err
	}

	a.maint = cron.New()

	if _, err := a.maint.AddFunc(fmt.Sprintf("@every %s", sweep), func() {
		opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := a.disp.Resync(opCtx); err != nil {
			a.log.Warn("safety sweep failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	if days := a.cfg.Scheduler.ArchiveRetentionDays; days > 0 {
		retention := time.Duration(days) * 24 * time.Hour
		if _, err := a.maint.AddFunc("@daily", func() {
			opCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			n, err := a.store.PruneDeliveries(opCtx, time.Now().Add(-retention))
			if err != nil {
				a.log.Warn("archive prune failed", logx.Err(err))
				return
			}
			if n > 0 {
				a.log.Info("archive pruned", logx.Int64("removed", n))
			}
		}); err != nil {
			return fmt.Errorf("schedule archive prune: %w", err)
		}
	}

	a.maint.Start()
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if a.runCancel != nil {
		a.runCancel()
	}

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.maint != nil {
		step("maintenance", 2*time.Second, func(c context.Context) error {
			stopped := a.maint.Stop()
			select {
			case <-stopped.Done():
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
	}

	// Stop the inbound surface first, then the engines, then storage.
	step("telegram", 3*time.Second, a.adapter.Stop)
	step("dispatcher", 3*time.Second, a.disp.Stop)
	step("deleter", 2*time.Second, a.deleter.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
