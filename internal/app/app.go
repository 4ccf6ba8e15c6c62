package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"groupcast/internal/activity"
	"groupcast/internal/bot"
	"groupcast/internal/config"
	"groupcast/internal/dispatch"
	"groupcast/internal/eventbus"
	"groupcast/internal/runtime/supervisor"
	"groupcast/internal/scheduler"
	"groupcast/internal/storage"
	kit "groupcast/internal/transport"
	"groupcast/internal/transport/telegram"
	logx "groupcast/pkg/logx"
)

// commands is the menu Telegram shows next to the input box.
var commands = []kit.BotCommand{
	{Command: "start", Description: "Show the welcome screen"},
	{Command: "menu", Description: "Open the main menu"},
	{Command: "help", Description: "How to use the bot"},
	{Command: "cancel", Description: "Cancel the pending prompt"},
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *activity.Recorder

	adapter *telegram.Adapter
	sender  *telegram.Sender

	settings *settingsPort
	dispatch *dispatch.Service
	sched    *scheduler.Scheduler
	bot      *bot.Bot
	cron     *cron.Cron

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Telegram logging needs the adapter, which needs the recorder; start
	// with it off and Apply the final config once the sender exists.
	bootLog := cfg.LogxConfig()
	bootLog.Telegram.Enabled = false
	logSvc, log := logx.New(bootLog, nil)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	rec := activity.New(store, bus, log)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		OnPollError: func(err error) { rec.Record(activity.KindPollingError, err.Error()) },
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logSvc.SetSender(ad)
	logSvc.Apply(cfg.LogxConfig())

	policy, err := mapRetryPolicy(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sender := telegram.NewSender(ad, policy, log)

	settings := newSettingsPort(store, cfg.Dispatch)
	bc := dispatch.NewBroadcaster(sender, rec, log.With(logx.String("comp", "dispatch")))
	svc := dispatch.NewService(directory{store: store}, settings, bc, log.With(logx.String("comp", "dispatch")))
	sched := scheduler.New(svc, rec, log, scheduler.WithBus(bus))

	loc, err := loadLocation(cfg.Session.Timezone)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("session.timezone: %w", err)
	}
	backup := &sessionBackup{store: store, settings: settings, pending: sched.Pending, rec: rec, now: time.Now}

	b, err := bot.New(bot.Options{
		Adapter:    ad,
		Groups:     store,
		Settings:   settings,
		Broadcasts: svc,
		Timers:     sched,
		Activity:   rec,
		Backup:     backup,
		Owners:     cfg.Telegram.OwnerUserIDs,
		Log:        log.With(logx.String("comp", "bot")),
		Location:   loc,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cr, err := newBackupCron(cfg.Session.BackupSchedule, loc, backup, log.With(logx.String("comp", "session")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		rec:      rec,
		adapter:  ad,
		sender:   sender,
		settings: settings,
		dispatch: svc,
		sched:    sched,
		bot:      b,
		cron:     cr,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional reload: a config that cannot be mapped is never committed.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRetryPolicy(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.SetCommands(cctx, commands); err != nil {
		a.log.Warn("set bot commands failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("bot.updates", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})
	a.sup.Go0("eventbus.fanout", a.watchEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	if a.cron != nil {
		a.cron.Start()
	}

	a.rec.Record(activity.KindBotStarted, "bot started as @"+a.adapter.Username())
	a.log.Info("app started")
	return nil
}

// watchEvents forwards scheduled-run summaries to the owners.
func (a *App) watchEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type != eventbus.TypeJobFired {
				continue
			}
			f, ok := e.Data.(scheduler.Fired)
			if !ok {
				continue
			}
			nctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			a.bot.NotifyFired(nctx, f)
			cancel()
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: apply only the newest.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply pushes the live-reloadable parts of next into running components.
func (a *App) apply(prev, next *config.Config) {
	a.logs.Apply(next.LogxConfig())
	a.bot.SetOwners(next.Telegram.OwnerUserIDs)
	a.settings.SetSeed(next.Dispatch)
	if p, err := mapRetryPolicy(next); err == nil {
		a.sender.SetPolicy(p)
	}

	var restart []string
	if prev.Storage != next.Storage {
		restart = append(restart, "storage")
	}
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		restart = append(restart, "telegram")
	}
	if prev.Session != next.Session {
		restart = append(restart, "session")
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: next})
	a.log.Info("config reloaded",
		logx.Int("owners", len(next.Telegram.OwnerUserIDs)),
		logx.Bool("owners_changed", !slices.Equal(prev.Telegram.OwnerUserIDs, next.Telegram.OwnerUserIDs)),
		logx.String("log_level", next.Logging.Level),
	)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(sctx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("scheduler", 3*time.Second, func(context.Context) error { a.sched.Close(); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
