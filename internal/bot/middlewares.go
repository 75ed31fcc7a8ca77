package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/handlers"
	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
)

const fallbackUserMessage = "Произошла ошибка. Попробуйте позже"

// UserEnsurer resolves or registers the user behind a Telegram account.
type UserEnsurer interface {
	Ensure(ctx context.Context, profile domain.TelegramProfile) (*domain.User, bool, error)
	TouchLastActive(ctx context.Context, id int64) error
}

// AdminNotifier receives admin-facing events.
type AdminNotifier interface {
	Admin(ctx context.Context, kind domain.NotificationKind, message string, payload any) error
}

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))

					userMsg := fallbackUserMessage
					if errHandler != nil {
						appErr := apperrors.NewDatabaseError(fmt.Errorf("panic recovered: %v", r))
						if msg, _ := errHandler.Handle(context.Background(), appErr); msg != "" {
							userMsg = msg
						}
					}

					if c != nil {
						if sendErr := c.Send(userMsg); sendErr != nil {
							log.Error("failed to notify user about panic", slog.Any("error", sendErr))
						}
					}

					err = nil
				}
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging for handler failures.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			userMsg := fallbackUserMessage
			if errHandler != nil {
				if msg, _ := errHandler.Handle(context.Background(), err); msg != "" {
					userMsg = msg
				}
			}

			if c != nil {
				if c.Callback() != nil {
					_ = c.Respond()
				}
				_ = c.Send(userMsg)
			}

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()
			telegramID := int64(0)
			if c != nil && c.Sender() != nil {
				telegramID = c.Sender().ID
			}

			action := updateAction(c)

			log.Debug("handling update", slog.Int64("telegram_id", telegramID), slog.String("action", action))
			err := next(c)
			log.Info("handled update",
				slog.Int64("telegram_id", telegramID),
				slog.String("action", action),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}

// updateAction describes the update without logging free text, which may hold prompts.
func updateAction(c telebot.Context) string {
	if c == nil {
		return ""
	}
	if cb := c.Callback(); cb != nil {
		return "callback:" + cb.Data
	}
	if msg := c.Message(); msg != nil {
		switch {
		case msg.Photo != nil:
			return "photo"
		case msg.Document != nil:
			return "document"
		case len(msg.Text) > 0 && msg.Text[0] == '/':
			return commandName(msg.Text)
		}
	}
	return "text"
}

// AuthMiddleware resolves the sender into a user record, registering new
// accounts, and stores it on the context for handlers.
func AuthMiddleware(users UserEnsurer, admin AdminNotifier, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			if users == nil || c == nil || c.Sender() == nil {
				return next(c)
			}

			ctx := context.Background()
			sender := c.Sender()

			u, created, err := users.Ensure(ctx, domain.TelegramProfile{
				TelegramID: sender.ID,
				Username:   sender.Username,
				FirstName:  sender.FirstName,
				LastName:   sender.LastName,
				Language:   sender.LanguageCode,
			})
			if err != nil {
				log.Error("failed to resolve user", slog.Int64("telegram_id", sender.ID), slog.Any("error", err))
				return err
			}

			if created && admin != nil {
				msg := fmt.Sprintf("Новый пользователь: %s (tg %d)", u.DisplayName(), u.TelegramID)
				if err := admin.Admin(ctx, domain.NotifyNewUser, msg, map[string]any{"user_id": u.ID}); err != nil {
					log.Warn("failed to notify admin about new user", slog.Int64("user_id", u.ID), slog.Any("error", err))
				}
			}

			handlers.SetCurrentUser(c, u)
			return next(c)
		}
	}
}

// LastActiveMiddleware records user activity timestamps without blocking request flow.
func LastActiveMiddleware(users UserEnsurer, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			if u := handlers.CurrentUser(c); u != nil && users != nil {
				go func(id int64) {
					if err := users.TouchLastActive(context.Background(), id); err != nil {
						log.Debug("failed to touch last active", slog.Int64("user_id", id), slog.Any("error", err))
					}
				}(u.ID)
			}

			return next(c)
		}
	}
}
