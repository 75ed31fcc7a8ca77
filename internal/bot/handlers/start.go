package handlers

import (
	"context"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	"github.com/Proton-105/photostudio/internal/referral"
)

// NewStartHandler greets the user and applies a referral code passed as /start ref_CODE.
func NewStartHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		env.reset(ctx, c)
		tr := env.Tr(c)

		if payload := messagePayload(c); strings.HasPrefix(payload, referral.CodePrefix) && u.ReferredBy == nil {
			if _, err := env.Referrals.Apply(ctx, u.ID, payload); err != nil {
				env.Log.InfoContext(ctx, "referral code not applied", slog.Int64("user_id", u.ID), slog.Any("error", err))
			} else {
				if fresh, err := env.Users.Get(ctx, u.ID); err == nil {
					u = fresh
				}
				_ = c.Send(tr.T("start.referral_applied"))
			}
		}

		return c.Send(tr.Tf("start.welcome", u.DisplayName(), u.Credits), keyboard.MainMenu(tr))
	}
}

func NewBalanceHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}
		return c.Send(env.Tr(c).Tf("balance.text", u.Credits))
	}
}

func messagePayload(c telebot.Context) string {
	if msg := c.Message(); msg != nil {
		return strings.TrimSpace(msg.Payload)
	}
	return ""
}
