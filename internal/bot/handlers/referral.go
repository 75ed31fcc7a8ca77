package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/referral"
)

func NewReferralHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		stats, err := env.Referrals.Stats(context.Background(), u.ID)
		if err != nil {
			return err
		}

		link := stats.Link
		if link == "" {
			link = referral.CodePrefix + stats.Code
		}
		currency := env.Payments.Currency()

		return c.Send(env.Tr(c).Tf("referral.text",
			link,
			stats.InvitedCount,
			domain.FormatMoney(stats.TotalEarned, currency),
			domain.FormatMoney(stats.Balance, currency),
		), telebot.NoPreview)
	}
}
