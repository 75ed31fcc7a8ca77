package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/i18n"
	"github.com/Proton-105/photostudio/internal/payment"
	"github.com/Proton-105/photostudio/internal/referral"
	"github.com/Proton-105/photostudio/internal/state"
	"github.com/Proton-105/photostudio/internal/user"
)

const (
	userKey  = "user"
	stateKey = "fsm_state"
)

// Env carries the services shared by all handlers.
type Env struct {
	FSM        state.StateMachine
	Users      *user.Service
	Generation *generation.Service
	Payments   *payment.Service
	Referrals  *referral.Service
	I18n       *i18n.Manager
	Keyboard   *keyboard.Builder
	Log        *slog.Logger
}

// SetCurrentUser stores the resolved user on the update context.
func SetCurrentUser(c telebot.Context, u *domain.User) {
	c.Set(userKey, u)
}

// CurrentUser returns the user resolved by the auth middleware.
func CurrentUser(c telebot.Context) *domain.User {
	if c == nil {
		return nil
	}
	u, _ := c.Get(userKey).(*domain.User)
	return u
}

// SetCurrentState stores the state the dispatcher resolved for this update.
func SetCurrentState(c telebot.Context, s *state.UserState) {
	c.Set(stateKey, s)
}

// current returns the state stored by the dispatcher, loading it when the
// handler was reached some other way.
func (e *Env) current(ctx context.Context, c telebot.Context) (*state.UserState, error) {
	if s, ok := c.Get(stateKey).(*state.UserState); ok && s != nil {
		return s, nil
	}
	return e.FSM.Current(ctx, c.Sender().ID)
}

// Tr returns the translator for the current user's language.
func (e *Env) Tr(c telebot.Context) i18n.Translator {
	lang := ""
	if u := CurrentUser(c); u != nil {
		lang = u.Language
	} else if c != nil && c.Sender() != nil {
		lang = c.Sender().LanguageCode
	}
	return e.I18n.Translator(lang)
}

func (e *Env) reset(ctx context.Context, c telebot.Context) {
	if c.Sender() == nil {
		return
	}
	if err := e.FSM.SetState(ctx, c.Sender().ID, state.StateIdle, nil); err != nil {
		e.Log.WarnContext(ctx, "failed to reset user state", slog.Int64("telegram_id", c.Sender().ID), slog.Any("error", err))
	}
}

// answer acknowledges a callback query so the client stops its spinner.
func answer(c telebot.Context, text string) {
	if c.Callback() == nil {
		return
	}
	_ = c.Respond(&telebot.CallbackResponse{Text: text})
}
