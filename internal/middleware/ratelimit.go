package middleware

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/handlers"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/i18n"
)

// MessageLimiter decides whether a Telegram user may send another update.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, telegramID int64) error
}

// RateLimit enforces per-user limits on incoming Telegram updates.
func RateLimit(limiter MessageLimiter, translations *i18n.Manager, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			if limiter == nil || c == nil || c.Sender() == nil {
				return next(c)
			}

			sender := c.Sender()
			err := limiter.AllowMessage(context.Background(), sender.ID)
			if err == nil {
				return next(c)
			}

			appErr, ok := apperrors.As(err)
			if !ok || appErr.Code != apperrors.CodeRateLimit {
				return next(c)
			}

			log.Warn("rate limit exceeded", slog.Int64("telegram_id", sender.ID), slog.Int("retry_after", appErr.RetryAfter))

			tr := translations.Translator(languageOf(c))
			if c.Callback() != nil {
				return c.Respond(&telebot.CallbackResponse{Text: tr.Tf("ratelimit.exceeded", appErr.RetryAfter)})
			}
			return c.Send(tr.Tf("ratelimit.exceeded", appErr.RetryAfter))
		}
	}
}

func languageOf(c telebot.Context) string {
	if u := handlers.CurrentUser(c); u != nil {
		return u.Language
	}
	return c.Sender().LanguageCode
}
