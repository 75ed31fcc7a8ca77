// Package generation manages avatars and the lifecycle of kie.ai generation tasks.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/kie"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/pkg/config"
)

// MessageTypePoll marks the QStash message that asks for a task status check.
const MessageTypePoll = "generation.poll"

// PollMessage is the body of a scheduled status check.
type PollMessage struct {
	Type   string `json:"type"`
	TaskID int64  `json:"task_id"`
}

type Generator interface {
	CreateTask(ctx context.Context, in kie.TaskInput) (string, error)
	GetTask(ctx context.Context, taskID string) (*kie.TaskInfo, error)
	Model() string
}

type Scheduler interface {
	Publish(ctx context.Context, destination string, payload any, delay time.Duration) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType, prefix string) (string, error)
	Mirror(ctx context.Context, src, prefix string) (string, error)
	Delete(ctx context.Context, url string) error
}

type Limiter interface {
	AllowGeneration(ctx context.Context, userID int64) error
}

type Notifier interface {
	GenerationCompleted(ctx context.Context, task *domain.GenerationTask, photos []domain.GeneratedPhoto)
	GenerationFailed(ctx context.Context, task *domain.GenerationTask)
	Admin(ctx context.Context, kind domain.NotificationKind, message string, payload any) error
}

// BalanceObserver is told when a user's credit balance changes.
type BalanceObserver interface {
	Invalidate(ctx context.Context, userID int64)
}

type Deps struct {
	Users     repository.UserRepository
	Avatars   repository.AvatarRepository
	Tasks     repository.TaskRepository
	Tx        repository.Transactor
	Generator Generator
	Scheduler Scheduler
	Uploader  Uploader // nil when S3 is disabled
	Limiter   Limiter
	Notifier  Notifier
	Balances  BalanceObserver
	Log       *slog.Logger
}

type Options struct {
	Cost            int
	MaxPromptLength int
	MaxReferences   int
	MaxPollAttempts int
	PollDelay       time.Duration
	DefaultRatio    string
	MirrorResults   bool
	// PollURL receives scheduled status checks; CallbackURL receives kie.ai callbacks.
	PollURL     string
	CallbackURL string
}

// OptionsFromConfig derives Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Cost:            cfg.Generation.Cost,
		MaxPromptLength: cfg.Generation.MaxPromptLength,
		MaxReferences:   cfg.Generation.MaxReferences,
		MaxPollAttempts: cfg.Generation.MaxPollAttempts,
		PollDelay:       cfg.QStash.PollDelay,
		DefaultRatio:    cfg.Generation.DefaultRatio,
		MirrorResults:   cfg.S3.Enabled && cfg.S3.MirrorResults,
		PollURL:         cfg.Server.PublicURL + "/api/webhooks/qstash",
		CallbackURL:     cfg.Server.PublicURL + "/api/webhooks/kie",
	}
}

type Service struct {
	Deps
	opts Options
	now  func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	deps.Log = deps.Log.With(slog.String("component", "generation"))

	if opts.Cost <= 0 {
		opts.Cost = 1
	}
	if opts.MaxPromptLength <= 0 {
		opts.MaxPromptLength = 1000
	}
	if opts.MaxReferences <= 0 {
		opts.MaxReferences = 10
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 40
	}
	if opts.DefaultRatio == "" {
		opts.DefaultRatio = "1:1"
	}

	return &Service{Deps: deps, opts: opts, now: time.Now}
}

// Cost returns the credits charged per generation.
func (s *Service) Cost() int {
	return s.opts.Cost
}

// MaxReferences returns the reference photo limit per avatar.
func (s *Service) MaxReferences() int {
	return s.opts.MaxReferences
}

func (s *Service) MaxPromptLength() int {
	return s.opts.MaxPromptLength
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.Balances != nil {
		s.Balances.Invalidate(ctx, userID)
	}
}

func dbError(err error, resource string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError(resource)
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewDatabaseError(err)
}
