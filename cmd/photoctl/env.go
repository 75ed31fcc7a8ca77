package main

import (
	"context"
	"database/sql"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"
	"gopkg.in/yaml.v3"

	"github.com/Proton-105/photostudio/internal/database"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/i18n"
	"github.com/Proton-105/photostudio/internal/idempotency"
	"github.com/Proton-105/photostudio/internal/jobs"
	"github.com/Proton-105/photostudio/internal/kie"
	"github.com/Proton-105/photostudio/internal/notify"
	"github.com/Proton-105/photostudio/internal/qstash"
	"github.com/Proton-105/photostudio/internal/ratelimit"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/internal/user"
	"github.com/Proton-105/photostudio/locales"
	"github.com/Proton-105/photostudio/pkg/config"
)

// env is the shared state handed to every command.
type env struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer

	db            *sql.DB
	users         repository.UserRepository
	tasks         repository.TaskRepository
	stats         repository.StatsRepository
	notifications repository.NotificationRepository
	messages      idempotency.MessageStore
}

func connect(ctx context.Context, cfg *config.Config, log *slog.Logger, out io.Writer) (*env, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:           cfg,
		log:           log,
		out:           out,
		db:            db,
		users:         repository.NewUserRepository(db, log),
		tasks:         repository.NewTaskRepository(db, log),
		stats:         repository.NewStatsRepository(db, log),
		notifications: repository.NewNotificationRepository(db, log),
		messages:      idempotency.NewPostgresMessageStore(db, log),
	}, nil
}

func (e *env) close() {
	if err := e.db.Close(); err != nil {
		e.log.Warn("error closing database", slog.Any("error", err))
	}
}

// print writes v to the command output as YAML.
func (e *env) print(v any) error {
	enc := yaml.NewEncoder(e.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// generation builds a generation service that records admin notifications
// but has no Telegram transport, so users are not messaged from the CLI.
func (e *env) generation() (*generation.Service, error) {
	translations, err := i18n.LoadFS(locales.FS, ".", e.cfg.Bot.DefaultLang)
	if err != nil {
		return nil, err
	}

	userSvc := user.NewService(e.users, nil, e.cfg.Generation.WelcomeCredits, e.log)
	notifier := notify.NewService(e.notifications, e.users, translations, e.cfg.Bot.AdminChatID, e.log)

	return generation.NewService(generation.Deps{
		Users:     e.users,
		Avatars:   repository.NewAvatarRepository(e.db, e.log),
		Tasks:     e.tasks,
		Tx:        repository.NewTransactor(e.db, e.log),
		Generator: kie.NewClient(e.cfg.KIE, e.log),
		Scheduler: qstash.NewClient(e.cfg.QStash, nil, e.log),
		Limiter:   ratelimit.NewGuard(nil, ratelimit.NewRules(e.cfg.RateLimit, e.cfg.Generation), false),
		Notifier:  notifier,
		Balances:  userSvc,
		Log:       e.log,
	}, generation.OptionsFromConfig(e.cfg)), nil
}

// enqueue hands a task to the running server's job worker.
func (e *env) enqueue(ctx context.Context, task *asynq.Task) error {
	manager := jobs.NewManager(asynq.RedisClientOpt{
		Addr:     e.cfg.Redis.Addr,
		Password: e.cfg.Redis.Password,
		DB:       e.cfg.Redis.DB,
	}, e.log)
	defer manager.Close()

	info, err := manager.Enqueue(ctx, task)
	if err != nil {
		return err
	}
	return e.print(map[string]string{"enqueued": info.ID, "queue": info.Queue, "type": task.Type()})
}
