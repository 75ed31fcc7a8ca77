// Package user implements user registration, lookup and credit adjustments.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/internal/usercache"
)

// Service provides business operations over users.
type Service struct {
	repo           repository.UserRepository
	cache          *usercache.Cache
	welcomeCredits int
	log            *slog.Logger
}

func NewService(repo repository.UserRepository, cache *usercache.Cache, welcomeCredits int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, welcomeCredits: welcomeCredits, log: log}
}

// Get returns the user by internal id, consulting the cache first.
func (s *Service) Get(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.cache.Fetch(ctx, id, s.repo.FindByID, func(err error) {
		s.log.WarnContext(ctx, "user cache unavailable", slog.Int64("user_id", id), slog.Any("error", err))
	})
	if err != nil {
		return nil, s.wrap("get", id, err)
	}
	return u, nil
}

func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	u, err := s.repo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, s.wrap("get_by_telegram_id", telegramID, err)
	}
	return u, nil
}

// Ensure fetches the user for a Telegram profile or registers a new one with
// the welcome credits. created reports whether this call registered the user.
func (s *Service) Ensure(ctx context.Context, profile domain.TelegramProfile) (u *domain.User, created bool, err error) {
	if profile.TelegramID == 0 {
		return nil, false, apperrors.NewValidationError("telegram id is required")
	}

	u, err = s.repo.FindByTelegramID(ctx, profile.TelegramID)
	switch {
	case err == nil:
		if profileChanged(u, profile) {
			if err := s.repo.UpdateProfile(ctx, u.ID, profile); err != nil {
				s.log.WarnContext(ctx, "failed to refresh user profile", slog.Int64("user_id", u.ID), slog.Any("error", err))
			} else {
				u.Username, u.FirstName, u.LastName = profile.Username, profile.FirstName, profile.LastName
				_ = s.cache.Invalidate(ctx, u.ID)
			}
		}
		return u, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, s.wrap("ensure.find", profile.TelegramID, err)
	}

	now := time.Now().UTC()
	u = &domain.User{
		TelegramID:   profile.TelegramID,
		Username:     profile.Username,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Language:     normalizeLang(profile.Language),
		Credits:      s.welcomeCredits,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent update registered the same account
			existing, findErr := s.repo.FindByTelegramID(ctx, profile.TelegramID)
			if findErr != nil {
				return nil, false, s.wrap("ensure.refetch", profile.TelegramID, findErr)
			}
			return existing, false, nil
		}
		return nil, false, s.wrap("ensure.create", profile.TelegramID, err)
	}

	s.log.InfoContext(ctx, "user registered", slog.Int64("user_id", u.ID), slog.Int64("telegram_id", u.TelegramID))
	return u, true, nil
}

func (s *Service) List(ctx context.Context, page repository.Page) ([]domain.User, int, error) {
	users, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, 0, s.wrap("list", 0, err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, s.wrap("count", 0, err)
	}
	return users, total, nil
}

// AdjustCredits applies delta to the balance and returns the new balance.
func (s *Service) AdjustCredits(ctx context.Context, id int64, delta int) (int, error) {
	if delta == 0 {
		return 0, apperrors.NewValidationError("delta must not be zero")
	}

	balance, err := s.repo.AddCredits(ctx, id, delta)
	if err != nil {
		return 0, s.wrap("adjust_credits", id, err)
	}
	s.Invalidate(ctx, id)

	s.log.InfoContext(ctx, "credits adjusted", slog.Int64("user_id", id), slog.Int("delta", delta), slog.Int("balance", balance))
	return balance, nil
}

func (s *Service) SetLanguage(ctx context.Context, id int64, lang string) error {
	if err := s.repo.SetLanguage(ctx, id, normalizeLang(lang)); err != nil {
		return s.wrap("set_language", id, err)
	}
	s.Invalidate(ctx, id)
	return nil
}

func (s *Service) TouchLastActive(ctx context.Context, id int64) error {
	if err := s.repo.TouchLastActive(ctx, id); err != nil {
		return s.wrap("touch_last_active", id, err)
	}
	return nil
}

// Invalidate drops the cached profile after a balance or settings change.
func (s *Service) Invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.WarnContext(ctx, "user cache invalidate failed", slog.Int64("user_id", id), slog.Any("error", err))
	}
}

func (s *Service) wrap(operation string, id int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError("user")
	}

	s.log.Error("user service operation failed",
		slog.String("operation", operation),
		slog.Int64("id", id),
		slog.Any("error", err),
	)
	return apperrors.NewDatabaseError(fmt.Errorf("%s: %w", operation, err))
}

func profileChanged(u *domain.User, p domain.TelegramProfile) bool {
	return u.Username != p.Username || u.FirstName != p.FirstName || u.LastName != p.LastName
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	switch lang {
	case "en", "ru":
		return lang
	default:
		return "ru"
	}
}
