package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/i18n"
)

// MenuKeys are the catalog keys of the main menu buttons, in display order.
var MenuKeys = []string{
	"menu.generate", "menu.avatar",
	"menu.balance", "menu.buy",
	"menu.referral", "menu.lang",
}

// MainMenu builds a localized reply keyboard for the bot main menu.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{ResizeKeyboard: true}

	lookup := func(key string) string {
		if t == nil {
			return key
		}
		return t.T(key)
	}

	rows := make([]telebot.Row, 0, (len(MenuKeys)+1)/2)
	for i := 0; i < len(MenuKeys); i += 2 {
		row := telebot.Row{markup.Text(lookup(MenuKeys[i]))}
		if i+1 < len(MenuKeys) {
			row = append(row, markup.Text(lookup(MenuKeys[i+1])))
		}
		rows = append(rows, row)
	}
	markup.Reply(rows...)

	return markup
}
