package handlers

import (
	"context"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/state"
)

// NewGenerateHandler shows the user's ready avatars.
func NewGenerateHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		tr := env.Tr(c)

		avatars, err := readyAvatars(ctx, env, u.ID)
		if err != nil {
			return err
		}
		if len(avatars) == 0 {
			return c.Send(tr.T("generate.no_avatars"))
		}

		markup, err := env.Keyboard.Avatars(tr, avatars, 1)
		if err != nil {
			return err
		}
		if err := env.FSM.SetState(ctx, c.Sender().ID, state.StateChoosingAvatar, nil); err != nil {
			return err
		}
		return c.Send(tr.T("generate.choose_avatar"), markup)
	}
}

// NewAvatarPageCallback flips the avatar list to another page.
func NewAvatarPageCallback(env *Env) CallbackHandler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		page, _ := strconv.Atoi(callbackData(c))
		avatars, err := readyAvatars(context.Background(), env, u.ID)
		if err != nil {
			return err
		}

		tr := env.Tr(c)
		markup, err := env.Keyboard.Avatars(tr, avatars, page)
		if err != nil {
			return err
		}
		answer(c, "")
		return c.Edit(tr.T("generate.choose_avatar"), markup)
	}
}

// NewAvatarChosenCallback remembers the avatar and asks for a prompt.
func NewAvatarChosenCallback(env *Env) CallbackHandler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		tr := env.Tr(c)

		avatarID, err := keyboard.CallbackID(c.Callback().Data)
		if err != nil {
			answer(c, tr.T("common.error"))
			return nil
		}

		avatar, err := env.Generation.GetAvatar(ctx, avatarID)
		if err != nil {
			return err
		}
		if avatar.UserID != u.ID || avatar.Status != domain.AvatarReady {
			answer(c, tr.T("common.error"))
			return nil
		}

		if err := env.FSM.SetState(ctx, c.Sender().ID, state.StateEnteringPrompt, map[string]any{
			state.KeyAvatarID:   avatar.ID,
			state.KeyAvatarName: avatar.Name,
		}); err != nil {
			return err
		}

		answer(c, avatar.Name)
		return c.Send(tr.T("generate.ask_prompt"))
	}
}

// NewPromptHandler starts a generation with the typed prompt.
func NewPromptHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		tr := env.Tr(c)

		current, err := env.current(ctx, c)
		if err != nil {
			return err
		}
		avatarID, ok := current.Int64(state.KeyAvatarID)
		if !ok {
			env.reset(ctx, c)
			return c.Send(tr.T("generate.no_avatars"), keyboard.MainMenu(tr))
		}

		_, err = env.Generation.Start(ctx, generation.Request{
			UserID:   u.ID,
			AvatarID: avatarID,
			Prompt:   c.Text(),
		})
		if err != nil {
			if isValidation(err) && strings.Contains(err.Error(), "prompt") {
				return c.Send(tr.Tf("generate.prompt_invalid", env.Generation.MaxPromptLength()))
			}
			env.reset(ctx, c)
			return err
		}

		env.reset(ctx, c)
		return c.Send(tr.T("generate.started"), keyboard.MainMenu(tr))
	}
}

func readyAvatars(ctx context.Context, env *Env, userID int64) ([]domain.Avatar, error) {
	avatars, err := env.Generation.ListAvatars(ctx, userID)
	if err != nil {
		return nil, err
	}

	ready := avatars[:0]
	for _, a := range avatars {
		if a.Status == domain.AvatarReady {
			ready = append(ready, a)
		}
	}
	return ready, nil
}

func callbackData(c telebot.Context) string {
	cb := c.Callback()
	if cb == nil {
		return ""
	}
	_, data, _ := keyboard.DecodeCallback(cb.Data)
	return data
}
