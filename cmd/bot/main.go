package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"household_reminder_bot/internal/app"
	"household_reminder_bot/internal/infra/channels"
	"household_reminder_bot/internal/infra/config"
	idb "household_reminder_bot/internal/infra/database"
	"household_reminder_bot/internal/infra/lock"
	"household_reminder_bot/internal/infra/logger"
	"household_reminder_bot/internal/infra/scheduler"
	"household_reminder_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.Environment)
	mainLogger := logger.For("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"timezone":    cfg.Location.String(),
	}).Info("Household reminder bot starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	if err := idb.RunMigrations(ctx, db); err != nil {
		mainLogger.WithError(err).Fatal("Could not apply database migrations")
	}
	mainLogger.Info("Database connection established and migrations applied.")

	// Initialize Repositories
	obligationRepo := idb.NewPostgresObligationRepository(db)
	scheduleRepo := idb.NewPostgresScheduleRepository(db)
	notificationRepo := idb.NewPostgresNotificationRepository(db)
	userRepo := idb.NewPostgresUserRepository(db)

	// Per-user lock: Redis when configured so several instances share rate limits.
	var locker app.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedisLocker(ctx, cfg.RedisURL)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to Redis")
		}
		defer redisLocker.Close()
		locker = redisLocker
		mainLogger.Info("Using Redis for per-user dispatch locks.")
	}

	// Initialize Telegram Bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			logCtx := logger.For("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				logCtx = logCtx.WithFields(logrus.Fields{"text": c.Text(), "sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			logCtx.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}

	// Channel senders
	pushSender := channels.NewPushSender(telegram.NewTelebotAdapter(bot), notificationRepo)
	emailSender := channels.NewEmailSender(channels.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     strconv.Itoa(cfg.SMTPPort),
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, userRepo)
	inAppSender := channels.NewInAppSender(notificationRepo)

	dispatcherCfg := app.DefaultDispatcherConfig()
	dispatcherCfg.GlobalLimit = cfg.RateLimitGlobal
	dispatcherCfg.ChannelLimit = cfg.RateLimitChannel
	dispatcherCfg.MaxAttempts = cfg.QueueMaxAttempts
	dispatcher := app.NewDispatcher(
		notificationRepo, notificationRepo, notificationRepo, locker, dispatcherCfg, logger.For("app"),
		pushSender, emailSender, inAppSender,
	)

	reminderJob := app.NewReminderJob(obligationRepo, scheduleRepo, dispatcher, cfg.ReminderWorkers, logger.For("app"))
	drainJob := app.NewQueueDrainJob(notificationRepo, dispatcher, cfg.QueueBatchSize, logger.For("app"))
	obligationService := app.NewObligationService(obligationRepo, scheduleRepo, logger.For("app"))
	preferenceService := app.NewPreferenceService(notificationRepo, logger.For("app"))

	// Register Handlers
	deps := telegram.BotDeps{
		Contacts:      userRepo,
		Subscriptions: notificationRepo,
		Bills:         obligationService,
		Preferences:   preferenceService,
		Location:      cfg.Location,
	}
	telegram.RegisterBotCommands(ctx, bot, deps, logger.For("telegram"))
	telegram.RegisterPaymentCallbackHandlers(ctx, bot, deps, logger.For("telegram"))
	mainLogger.Info("Bot command handlers registered.")

	reminderScheduler := scheduler.NewReminderScheduler(
		reminderJob,
		drainJob,
		cfg.Location,
		logger.For("scheduler"),
		cfg.CronSpecReminders,
		cfg.CronSpecQueueDrain,
	)
	if err := reminderScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start reminder scheduler")
	}

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()
	mainLogger.Info("Application setup complete. Bot and scheduler are running.")

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	bot.Stop()
	reminderScheduler.Stop()
	mainLogger.Info("Application shut down gracefully.")
}
