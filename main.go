package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-savings-365/internal/config"
	"telegram-savings-365/internal/handlers"
	"telegram-savings-365/internal/ledger"
	"telegram-savings-365/internal/logger"
	"telegram-savings-365/internal/metrics"
	"telegram-savings-365/internal/scheduler"
	"telegram-savings-365/internal/storage"
	"telegram-savings-365/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	clock := clockwork.NewRealClock()

	snap, err := storage.NewSnapshot(cfg.SnapshotPath(), log, clock)
	utils.Must(err)
	l := ledger.New(snap,
		ledger.WithClock(clock),
		ledger.WithLocation(cfg.Location),
		ledger.WithHours(cfg.NotifyHours),
		ledger.WithLogger(log))
	l.Open()

	db, err := storage.New(cfg.SessionPath())
	utils.Must(err)
	defer db.Close()

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatal("telegram init failed", zap.Error(err))
	}
	log.Info("authorized", zap.String("bot", bot.Self.UserName))

	schedCfg := scheduler.DefaultConfig(cfg.DataDir)
	schedCfg.Hours = cfg.NotifyHours
	schedCfg.TickInterval = cfg.TickInterval
	schedCfg.Window = cfg.NotifyWindow
	schedCfg.LockFreshness = cfg.LockFreshness
	schedCfg.Retention = cfg.LogRetention
	schedCfg.Location = cfg.Location

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(schedCfg, l, handlers.NewGateway(bot),
		scheduler.WithClock(clock),
		scheduler.WithLogger(log))
	started, err := sched.Start()
	if err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}
	retryDone := make(chan struct{})
	if started {
		close(retryDone)
	} else {
		log.Warn("scheduler is owned by another process, retrying until its lock goes stale",
			zap.Duration("freshness", cfg.LockFreshness))
		go func() {
			defer close(retryDone)
			sched.Retry(ctx)
		}()
	}

	backups, err := startBackups(cfg, l, log)
	if err != nil {
		log.Fatal("backup job failed", zap.Error(err))
	}

	if err := metrics.RegisterUsers(l.Len); err != nil {
		log.Warn("users gauge not registered", zap.Error(err))
	}
	if cfg.HTTPAddr != "" {
		go metrics.Serve(ctx, cfg.HTTPAddr, log)
	}

	h := handlers.NewHandler(bot, l, db,
		handlers.WithAdmin(cfg.AdminID),
		handlers.WithBroadcaster(sched),
		handlers.WithHours(cfg.NotifyHours),
		handlers.WithClock(clock),
		handlers.WithLogger(log))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	log.Info("bot is running",
		zap.Ints("hours", cfg.NotifyHours),
		zap.String("timezone", cfg.Location.String()),
		zap.Bool("scheduler", started))

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			bot.StopReceivingUpdates()
			if backups != nil {
				if err := backups.Shutdown(); err != nil {
					log.Warn("backup scheduler shutdown", zap.Error(err))
				}
			}
			<-retryDone
			if err := sched.Stop(); err != nil {
				log.Error("scheduler stop failed", zap.Error(err))
			}
			return
		case upd := <-updates:
			h.HandleUpdate(upd)
		}
	}
}

// startBackups copies the snapshot once a day at BACKUP_AT. It returns nil
// when backups are disabled.
func startBackups(cfg config.Config, l *ledger.Ledger, log *zap.Logger) (gocron.Scheduler, error) {
	if !cfg.BackupEnabled() {
		return nil, nil
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, err
	}
	_, err = s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(cfg.BackupHour, cfg.BackupMinute, 0))),
		gocron.NewTask(func() {
			path, err := l.Backup()
			if err != nil {
				log.Error("scheduled backup failed", zap.Error(err))
				return
			}
			log.Info("scheduled backup done", zap.String("path", path))
		}),
		gocron.WithName("snapshot-backup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	s.Start()
	return s, nil
}
