package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/photostudio/internal/bot"
	bothandlers "github.com/Proton-105/photostudio/internal/bot/handlers"
	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	"github.com/Proton-105/photostudio/internal/database"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/health"
	"github.com/Proton-105/photostudio/internal/httpapi"
	"github.com/Proton-105/photostudio/internal/i18n"
	"github.com/Proton-105/photostudio/internal/idempotency"
	"github.com/Proton-105/photostudio/internal/jobs"
	jobhandlers "github.com/Proton-105/photostudio/internal/jobs/handlers"
	"github.com/Proton-105/photostudio/internal/kie"
	"github.com/Proton-105/photostudio/internal/lifecycle"
	"github.com/Proton-105/photostudio/internal/notify"
	"github.com/Proton-105/photostudio/internal/payment"
	"github.com/Proton-105/photostudio/internal/qstash"
	"github.com/Proton-105/photostudio/internal/ratelimit"
	"github.com/Proton-105/photostudio/internal/referral"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/internal/state"
	"github.com/Proton-105/photostudio/internal/storage"
	"github.com/Proton-105/photostudio/internal/user"
	"github.com/Proton-105/photostudio/internal/usercache"
	"github.com/Proton-105/photostudio/locales"
	"github.com/Proton-105/photostudio/migrations"
	"github.com/Proton-105/photostudio/pkg/config"
	"github.com/Proton-105/photostudio/pkg/metrics"
	pkgredis "github.com/Proton-105/photostudio/pkg/redis"
)

const (
	stateTTL             = 24 * time.Hour
	stateCleanupInterval = time.Hour
	idempotencyMaxTTL    = 25 * time.Hour
	idempotencyInterval  = time.Hour
)

// app owns every long-lived component of the server process.
type app struct {
	cfg *config.Config
	log *slog.Logger

	db    *sql.DB
	redis *pkgredis.Client

	router http.Handler
	probes *lifecycle.Probes
	bot    *bot.Bot

	background []func(ctx context.Context)

	worker    jobs.Worker
	scheduler jobs.Scheduler
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Database.AutoMigrate {
		applied, err := database.NewMigrator(db, log).ApplyFS(ctx, migrations.FS, ".")
		if err != nil {
			a.close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("database migrations applied", slog.Int("count", applied))
	}

	rc, err := pkgredis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	a.redis = rc

	translations, err := loadTranslations(cfg.Bot)
	if err != nil {
		a.close()
		return nil, err
	}

	// repositories
	users := repository.NewUserRepository(db, log)
	avatars := repository.NewAvatarRepository(db, log)
	tasks := repository.NewTaskRepository(db, log)
	payments := repository.NewPaymentRepository(db, log)
	referrals := repository.NewReferralRepository(db, log)
	notifications := repository.NewNotificationRepository(db, log)
	webhookLogs := repository.NewWebhookLogRepository(db, log)
	stats := repository.NewStatsRepository(db, log)
	tx := repository.NewTransactor(db, log)
	messages := idempotency.NewPostgresMessageStore(db, log)

	// rate limiting
	memoryLimiter := ratelimit.NewMemoryLimiter(log)
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rc.Client, log), memoryLimiter, log)
	guard := ratelimit.NewGuard(limiter, ratelimit.NewRules(cfg.RateLimit, cfg.Generation), cfg.RateLimit.Enabled)

	// services
	userSvc := user.NewService(users, usercache.NewCache(pkgredis.NewMetricsClient(rc), 0), cfg.Generation.WelcomeCredits, log)
	notifier := notify.NewService(notifications, users, translations, cfg.Bot.AdminChatID, log)
	referralSvc := referral.NewService(referrals, users, cfg.Referral.RewardPercent, cfg.Referral.SignupBonus, cfg.Bot.Username, log)

	genDeps := generation.Deps{
		Users:     users,
		Avatars:   avatars,
		Tasks:     tasks,
		Tx:        tx,
		Generator: kie.NewClient(cfg.KIE, log),
		Scheduler: qstash.NewClient(cfg.QStash, nil, log),
		Limiter:   guard,
		Notifier:  notifier,
		Balances:  userSvc,
		Log:       log,
	}
	if cfg.S3.Enabled {
		uploader, err := storage.NewUploader(cfg.S3)
		if err != nil {
			a.close()
			return nil, err
		}
		genDeps.Uploader = uploader
	}
	genSvc := generation.NewService(genDeps, generation.OptionsFromConfig(cfg))

	paymentSvc := payment.NewService(payment.Deps{
		Payments:  payments,
		Users:     users,
		Tx:        tx,
		Gateway:   payment.NewClient(cfg.Payments.YooKassa, nil, log),
		Referrals: referralSvc,
		Notifier:  notifier,
		Balances:  userSvc,
		Log:       log,
	}, cfg.Payments)

	// conversation state
	var sessions state.Storage
	if cfg.Bot.SessionStore == "postgres" {
		sessions = repository.NewSessionRepository(db, log)
	} else {
		sessions = state.NewRedisStorage(rc.Client, log)
	}
	fsm := state.NewStateMachine(sessions, log, rc.Client)

	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(rc.Client))

	var telegram http.Handler
	if cfg.Bot.Enabled {
		b, err := bot.New(*cfg, bot.Deps{
			Env: &bothandlers.Env{
				FSM:        fsm,
				Users:      userSvc,
				Generation: genSvc,
				Payments:   paymentSvc,
				Referrals:  referralSvc,
				I18n:       translations,
				Keyboard:   keyboard.NewBuilder(log),
				Log:        log,
			},
			Idempotency: idempotency.NewManager(idempotency.NewRedisStore(rc.Client, log), log),
			Limiter:     guard,
			Admin:       notifier,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		a.bot = b
		notifier.SetSender(b)
		telegram = b.WebhookHandler()
		checker.AddCheck("telegram", health.NewTelegramChecker(b.Telebot()))
	}

	a.probes = lifecycle.NewProbes(checker, log)
	a.router = httpapi.NewRouter(*cfg, httpapi.Deps{
		Users:         userSvc,
		Generation:    genSvc,
		Payments:      paymentSvc,
		Referrals:     referralSvc,
		Broadcaster:   notifier,
		Notifications: notifications,
		WebhookLogs:   webhookLogs,
		Stats:         stats,
		Messages:      messages,
		Verifier: qstash.NewVerifier(
			cfg.QStash.CurrentSigningKey,
			cfg.QStash.NextSigningKey,
			cfg.Server.PublicURL+"/api/webhooks/qstash",
			cfg.QStash.SkipVerify,
		),
		Probes:   a.probes,
		Telegram: telegram,
		Log:      log,
	})

	maxWindow := max(cfg.RateLimit.PerUser.Window, cfg.Generation.StartsRateWindow)
	a.background = append(a.background,
		ratelimit.NewCleaner(rc.Client, memoryLimiter, log, cfg.RateLimit.Cleanup, maxWindow).Run,
		state.NewCleaner(sessions, log, stateTTL, stateCleanupInterval).Run,
		idempotency.NewCleaner(rc.Client, log, idempotencyInterval, idempotencyMaxTTL).Run,
		metrics.NewStateCollector(fsm, 0).Run,
	)

	if cfg.Jobs.Enabled {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

		a.worker = jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
		a.worker.RegisterHandler(jobs.TaskTypePurgeMessages, jobhandlers.NewPurgeMessagesHandler(messages, log))
		a.worker.RegisterHandler(jobs.TaskTypeSweepStale, jobhandlers.NewSweepStaleHandler(genSvc, log))

		a.scheduler = jobs.NewScheduler(redisOpt, jobs.Schedule{
			PurgeSpec:      cfg.Jobs.PurgeSchedule,
			PurgeOlderThan: cfg.QStash.Retention,
			SweepSpec:      cfg.Jobs.SweepSchedule,
			SweepOlderThan: cfg.Generation.StaleAfter,
		}, log)
		if err := a.scheduler.RegisterTasks(); err != nil {
			a.close()
			return nil, fmt.Errorf("register scheduled jobs: %w", err)
		}
	}

	return a, nil
}

// startBackground launches the bot, the job worker and the periodic cleaners.
func (a *app) startBackground(ctx context.Context) {
	for _, run := range a.background {
		go run(ctx)
	}

	if a.bot != nil {
		go a.bot.Start()
	}

	if a.worker != nil {
		go func() {
			if err := a.worker.Run(); err != nil {
				a.log.Error("jobs worker stopped", slog.Any("error", err))
			}
		}()
		a.scheduler.Run()
	}
}

func (a *app) registerShutdown(s *lifecycle.Shutdown) {
	if a.bot != nil {
		s.Register("telegram bot", func(context.Context) error {
			a.bot.Stop()
			return nil
		})
	}
	if a.worker != nil {
		s.Register("jobs worker", func(context.Context) error {
			a.worker.Shutdown()
			return nil
		})
		s.Register("jobs scheduler", func(context.Context) error {
			a.scheduler.Shutdown()
			return nil
		})
	}

	s.RegisterPhase(lifecycle.PhaseRelease, "redis", func(context.Context) error {
		return a.redis.Close()
	})
	s.RegisterPhase(lifecycle.PhaseRelease, "postgres", func(context.Context) error {
		return a.db.Close()
	})
}

// close releases whatever buildApp opened before it failed.
func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("error closing redis", slog.Any("error", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("error closing database", slog.Any("error", err))
		}
	}
}

// loadTranslations prefers catalogs on disk so they can be edited without a
// rebuild, and falls back to the embedded copy.
func loadTranslations(cfg config.BotConfig) (*i18n.Manager, error) {
	if cfg.LocalesDir != "" {
		if info, err := os.Stat(cfg.LocalesDir); err == nil && info.IsDir() {
			return i18n.LoadFromDir(cfg.LocalesDir, cfg.DefaultLang)
		}
	}
	return i18n.LoadFS(locales.FS, ".", cfg.DefaultLang)
}
