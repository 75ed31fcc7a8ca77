// Package notify delivers messages to users and to the admin chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/i18n"
	"github.com/Proton-105/photostudio/internal/repository"
)

// Sender delivers messages to a Telegram chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhotos(ctx context.Context, chatID int64, urls []string, caption string) error
}

// Service persists admin notifications and sends user-facing messages.
// User messages are best effort: failures are logged, never returned.
type Service struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	i18n          *i18n.Manager
	adminChatID   int64
	log           *slog.Logger

	mu     sync.RWMutex
	sender Sender

	broadcastDelay time.Duration
}

func NewService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	translations *i18n.Manager,
	adminChatID int64,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		notifications:  notifications,
		users:          users,
		i18n:           translations,
		adminChatID:    adminChatID,
		log:            log.With(slog.String("component", "notify")),
		broadcastDelay: 40 * time.Millisecond,
	}
}

// SetSender attaches the Telegram transport once the bot is running.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

func (s *Service) currentSender() Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sender
}

// Admin stores a notification for the dashboard and forwards it to the admin chat.
func (s *Service) Admin(ctx context.Context, kind domain.NotificationKind, message string, payload any) error {
	n := &domain.AdminNotification{Kind: kind, Message: message}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode notification payload: %w", err)
		}
		n.Payload = raw
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		return err
	}

	if sender := s.currentSender(); sender != nil && s.adminChatID != 0 {
		if err := sender.SendText(ctx, s.adminChatID, fmt.Sprintf("[%s] %s", kind, message)); err != nil {
			s.log.WarnContext(ctx, "admin chat delivery failed", slog.Int64("notification_id", n.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) GenerationCompleted(ctx context.Context, task *domain.GenerationTask, photos []domain.GeneratedPhoto) {
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.URL)
	}

	s.toUser(ctx, task.UserID, func(sender Sender, u *domain.User, tr i18n.Translator) error {
		return sender.SendPhotos(ctx, u.TelegramID, urls, tr.Tf("generate.done", task.Prompt))
	})
}

func (s *Service) GenerationFailed(ctx context.Context, task *domain.GenerationTask) {
	s.toUser(ctx, task.UserID, func(sender Sender, u *domain.User, tr i18n.Translator) error {
		return sender.SendText(ctx, u.TelegramID, tr.T("generate.failed"))
	})
}

func (s *Service) PaymentSucceeded(ctx context.Context, p *domain.Payment, balance int) {
	s.toUser(ctx, p.UserID, func(sender Sender, u *domain.User, tr i18n.Translator) error {
		return sender.SendText(ctx, u.TelegramID, tr.Tf("buy.succeeded", p.Credits, balance))
	})
}

func (s *Service) ReferralReward(ctx context.Context, referrerID, amount int64, currency string) {
	s.toUser(ctx, referrerID, func(sender Sender, u *domain.User, tr i18n.Translator) error {
		return sender.SendText(ctx, u.TelegramID, tr.Tf("referral.reward", domain.FormatMoney(amount, currency)))
	})
}

// Broadcast sends text to every user that has not blocked the bot.
func (s *Service) Broadcast(ctx context.Context, text string) (sent, failed int, err error) {
	sender := s.currentSender()
	if sender == nil {
		return 0, 0, apperrors.NewStateError("broadcast: bot is not running")
	}

	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sent, failed, err
		}

		if err := sender.SendText(ctx, id, text); err != nil {
			failed++
			s.log.DebugContext(ctx, "broadcast delivery failed", slog.Int64("telegram_id", id), slog.Any("error", err))
		} else {
			sent++
		}

		if s.broadcastDelay > 0 {
			timer := time.NewTimer(s.broadcastDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sent, failed, ctx.Err()
			case <-timer.C:
			}
		}
	}

	summary := fmt.Sprintf("broadcast finished: sent=%d failed=%d", sent, failed)
	if err := s.Admin(ctx, domain.NotifyBroadcast, summary, map[string]any{"text": text, "sent": sent, "failed": failed}); err != nil {
		s.log.WarnContext(ctx, "failed to record broadcast", slog.Any("error", err))
	}
	return sent, failed, nil
}

func (s *Service) toUser(ctx context.Context, userID int64, send func(Sender, *domain.User, i18n.Translator) error) {
	sender := s.currentSender()
	if sender == nil {
		return
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "notification recipient lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	if u.IsBlocked {
		return
	}

	if err := send(sender, u, s.i18n.Translator(u.Language)); err != nil {
		s.log.WarnContext(ctx, "user notification failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
