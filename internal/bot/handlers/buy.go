package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"
)

// NewBuyHandler lists the credit packages.
func NewBuyHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		tr := env.Tr(c)

		markup, err := env.Keyboard.Packages(tr, env.Payments.Packages(), env.Payments.Currency())
		if err != nil {
			return err
		}
		return c.Send(tr.T("buy.choose"), markup)
	}
}

// NewPackageCallback opens a payment for the chosen package and sends the checkout link.
func NewPackageCallback(env *Env) CallbackHandler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		p, err := env.Payments.CreatePayment(context.Background(), u.ID, callbackData(c))
		if err != nil {
			answer(c, "")
			return err
		}

		tr := env.Tr(c)
		markup, err := env.Keyboard.PaymentLink(tr, p.ConfirmationURL)
		if err != nil {
			return err
		}

		answer(c, "")
		return c.Send(tr.Tf("buy.link", p.ConfirmationURL), markup, telebot.NoPreview)
	}
}
