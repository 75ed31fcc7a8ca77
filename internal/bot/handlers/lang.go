package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
)

func NewLangHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		markup, err := env.Keyboard.Languages(env.I18n.Languages())
		if err != nil {
			return err
		}
		return c.Send(env.Tr(c).T("lang.choose"), markup)
	}
}

// NewLanguageCallback stores the picked language and redraws the menu in it.
func NewLanguageCallback(env *Env) CallbackHandler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		lang := callbackData(c)
		if !env.I18n.Supports(lang) {
			answer(c, "")
			return nil
		}

		if err := env.Users.SetLanguage(context.Background(), u.ID, lang); err != nil {
			return err
		}
		u.Language = lang

		tr := env.I18n.Translator(lang)
		answer(c, tr.T("lang.changed"))
		return c.Send(tr.T("lang.changed"), keyboard.MainMenu(tr))
	}
}
