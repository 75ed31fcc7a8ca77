package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/handlers"
	"github.com/Proton-105/photostudio/internal/idempotency"
)

// Telegram redelivers an unacknowledged webhook update for up to a day.
const updateKeyTTL = 24 * time.Hour

// Idempotency runs the handler at most once per Telegram update. Webhook
// redeliveries and double taps on a button are acknowledged and dropped.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler { return next }
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key, ok := updateKey(c)
			if !ok {
				return next(c)
			}

			res, err := manager.Execute(context.Background(), idempotency.GenerateKey("telegram", key), updateKeyTTL,
				func(context.Context) (any, error) {
					return nil, next(c)
				})
			switch {
			case errors.Is(err, idempotency.ErrRequestInProgress):
				log.Debug("telegram update already in progress", slog.String("update", key))
				return nil
			case err != nil:
				return err
			case res != nil && res.FromCache:
				log.Debug("duplicate telegram update dropped", slog.String("update", key))
			}
			return nil
		}
	}
}

// updateKey identifies the update. The update id is unique per bot; the
// callback and message ids cover updates built without one.
func updateKey(c telebot.Context) (string, bool) {
	if c == nil {
		return "", false
	}

	if id := c.Update().ID; id != 0 {
		return "upd:" + strconv.Itoa(id), true
	}

	if cb := c.Callback(); cb != nil && cb.ID != "" {
		return "cb:" + cb.ID, true
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		var chatID int64
		if msg.Chat != nil {
			chatID = msg.Chat.ID
		}
		return "msg:" + strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(msg.ID), true
	}

	return "", false
}
