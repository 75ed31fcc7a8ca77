package handlers

import (
	"context"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	"github.com/Proton-105/photostudio/internal/state"
)

// NewCancelHandler resets user state and returns the user to the main menu.
func NewCancelHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		if c == nil || c.Sender() == nil {
			env.Log.Warn("cancel handler invoked without sender context")
			return nil
		}

		ctx := context.Background()
		userID := c.Sender().ID
		tr := env.Tr(c)

		current, err := env.FSM.Current(ctx, userID)
		if err != nil {
			return err
		}
		if current.CurrentState == state.StateIdle {
			answer(c, "")
			return c.Send(tr.T("common.nothing_to_cancel"), keyboard.MainMenu(tr))
		}

		if err := env.FSM.ClearState(ctx, userID); err != nil {
			env.Log.Error("failed to clear user state", slog.Int64("user_id", userID), slog.Any("error", err))
			return err
		}

		answer(c, "")
		return c.Send(tr.T("common.cancelled"), keyboard.MainMenu(tr))
	}
}
