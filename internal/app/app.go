// Package app wires the quiz bot together: config, logging, storage, slot
// registry, scheduler, engine and the Telegram transport.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/runtime/supervisor"
	"quizbot/internal/scheduler"
	"quizbot/internal/slots"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	telegram "quizbot/internal/transport/telegram/adapter"
	"quizbot/internal/transport/telegram/router"
	logx "quizbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	adapter  kit.Adapter
	registry *slots.Registry
	sched    *scheduler.Service
	engine   *Engine
	router   *router.Router

	loc     atomic.Pointer[time.Location]
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfgPath: cfgPath, cfgm: cfgm, updates: make(chan kit.Update, 256)}
	if err := a.storeLocation(cfg.Scheduler.Timezone); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}
	a.adapter = ad

	// Bootstrap with the Telegram sink disabled so Apply() doesn't send
	// before the target chat is known, then apply the real config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.Apply(logCfg)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = st
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	a.registry = slots.NewRegistry(st, log.With(logx.String("comp", "slots")))
	a.engine = NewEngine(st, ad, cfgm.Get, a.location, log)

	sched, err := scheduler.New(scheduler.Config{
		Timezone:  cfg.Scheduler.Timezone,
		ReportAt:  cfg.Scheduler.ReportTime,
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
	}, a.registry, scheduler.Jobs{
		PostSlot: a.engine.PostSlot,
		Nightly:  a.engine.Nightly,
	}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}
	a.sched = sched
	a.registry.SetReplanner(sched)

	a.router = router.New(ad, cfgm.Get, router.Services{
		Slots:     a.registry,
		Questions: st,
		Boards:    a.engine,
		Scheduler: sched,
		Answers:   a.engine,
	}, log)

	return a, nil
}

func (a *App) location() *time.Location {
	if loc := a.loc.Load(); loc != nil {
		return loc
	}
	return time.Local
}

func (a *App) storeLocation(tz string) error {
	if strings.TrimSpace(tz) == "" {
		a.loc.Store(time.Local)
		return nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	a.loc.Store(loc)
	return nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Seed the slot table on first start; existing slots always win.
	defaults, err := defaultSlots(a.cfgm.Get())
	if err != nil {
		return err
	}
	if err := a.registry.Seed(ctx, defaults); err != nil {
		return err
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Publish the command menu; purely cosmetic, so best-effort.
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

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
				// Coalesce bursts: keep only the newest config.
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

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if err := a.storeLocation(newCfg.Scheduler.Timezone); err != nil {
		// Validator should have rejected this; keep the old location.
		a.log.Warn("timezone not applied", logx.Err(err))
	}
	if err := a.sched.Apply(ctx, scheduler.Config{
		Timezone:  newCfg.Scheduler.Timezone,
		ReportAt:  newCfg.Scheduler.ReportTime,
		Workers:   newCfg.Scheduler.Workers,
		QueueSize: newCfg.Scheduler.QueueSize,
	}); err != nil {
		a.log.Warn("scheduler config not applied", logx.Err(err))
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required")
			break
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 3*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" && driver != "memory" {
		path = "./quizbot.db"
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func defaultSlots(cfg *config.Config) ([]quiz.Slot, error) {
	out := make([]quiz.Slot, 0, len(cfg.Quiz.DefaultSlots))
	for _, s := range cfg.Quiz.DefaultSlots {
		parts := strings.SplitN(s.Time, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("quiz.default_slots: time %q is not HH:MM", s.Time)
		}
		hour, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("quiz.default_slots: time %q is not HH:MM", s.Time)
		}
		minute, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("quiz.default_slots: time %q is not HH:MM", s.Time)
		}
		out = append(out, quiz.Slot{Name: strings.TrimSpace(s.Name), Hour: hour, Minute: minute, Active: true})
	}
	return out, nil
}
