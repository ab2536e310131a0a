// Package app assembles the bot: config, logging, storage, transport,
// content generation, the scheduling engine, and the command router.
package app

import (
	"context"
	"fmt"
	"time"

	"postbot/internal/bot"
	"postbot/internal/broadcast"
	"postbot/internal/config"
	"postbot/internal/content"
	"postbot/internal/eventbus"
	"postbot/internal/notify"
	"postbot/internal/schedule"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	telegram "postbot/internal/transport/telegram"
	logx "postbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	sched  *schedule.Service
	notif  *notify.Service
	bcast  *broadcast.Service
	router *bot.Router

	updates chan kit.Update

	runCancel context.CancelFunc
	done      chan struct{}
}

func New(cfgPath string) (*App, error) {
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

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout, 10*time.Second),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout, 5*time.Second),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	gen, err := content.New(content.Config{
		Provider: cfg.Content.Provider,
		APIKey:   cfg.Content.APIKey,
		BaseURL:  cfg.Content.BaseURL,
		Model:    cfg.Content.Model,
		Timeout:  config.Duration(cfg.Content.Timeout, 0),
	}, log.With(logx.String("comp", "content")))
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("content generator: %w", err)
	}

	bus := eventbus.New()

	sched := schedule.New(schedule.Config{
		WarmUp:   config.Duration(cfg.Schedule.WarmUp, 0),
		MinDelay: config.Duration(cfg.Schedule.MinDelay, 0),
	}, store, gen, adapter, bus, log.With(logx.String("comp", "schedule")))

	notif := notify.New(mapNotifyConfig(cfg), adapter, log.With(logx.String("comp", "notify")))
	bcast := broadcast.New(mapBroadcastConfig(cfg), store, adapter, log.With(logx.String("comp", "broadcast")))

	router := bot.NewRouter(adapter, store, sched, bcast, notif, bus,
		log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: adapter,
		sched:   sched,
		notif:   notif,
		bcast:   bcast,
		router:  router,
		updates: make(chan kit.Update, 256),
		done:    make(chan struct{}),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	a.notif.Start(runCtx)
	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	go func() {
		defer close(a.done)
		a.router.Run(runCtx, a.updates)
	}()

	go a.reloadLoop(runCtx)
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot-reloadable sections of the config. Storage and the
// Telegram token require a restart; logging and rate limits apply live.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
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
			a.notif.Apply(mapNotifyConfig(cfg))
			a.log.Info("config changes applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) {
	a.log.Info("stopping")
	if a.runCancel != nil {
		a.runCancel()
	}

	// Shutdown steps are individually bounded so one stuck component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("schedule", 3*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("notify", 2*time.Second, func(c context.Context) { a.notif.Stop(c) })
	step("adapter", 3*time.Second, func(c context.Context) { _ = a.adapter.Stop(c) })
	step("router", 2*time.Second, func(c context.Context) {
		select {
		case <-a.done:
		case <-c.Done():
		}
	})

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	a.logs.Close()
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
		RetryMax:   cfg.Notify.RetryMax,
		RetryBase:  config.Duration(cfg.Notify.RetryBase, 0),
	}
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		RatePerSec: cfg.Broadcast.RatePerSec,
		Pause:      config.Duration(cfg.Broadcast.Pause, 0),
	}
}
