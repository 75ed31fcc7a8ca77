package keyboard

import (
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/i18n"
)

// Callback prefixes understood by the bot router.
const (
	CallbackAvatar     = "gen_avatar"
	CallbackAvatarPage = "gen_page"
	CallbackPackage    = "buy_pkg"
	CallbackLanguage   = "lang"
	CallbackCancel     = "cancel"
)

// AvatarsPerPage is the number of avatar buttons shown at once.
const AvatarsPerPage = 6

// Builder creates the bot's inline keyboards.
type Builder struct {
	log *slog.Logger
}

func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// Avatars lists one page of avatars, one per row, with pagination when needed.
func (b *Builder) Avatars(t i18n.Translator, avatars []domain.Avatar, page int) (*telebot.ReplyMarkup, error) {
	total := TotalPages(len(avatars), AvatarsPerPage)
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}

	kb := NewInlineKeyboard()
	start := (page - 1) * AvatarsPerPage
	for i := start; i < len(avatars) && i < start+AvatarsPerPage; i++ {
		a := avatars[i]
		kb.AddRow(InlineButton{Text: a.Name, Unique: CallbackAvatar, Data: strconv.FormatInt(a.ID, 10)})
	}
	if total > 1 {
		kb.AddRow(PaginationButtons(t, CallbackAvatarPage, page, total)...)
	}
	kb.AddRow(b.cancelButton(t))

	return b.build(kb)
}

// Packages shows one button per credit package with its price.
func (b *Builder) Packages(t i18n.Translator, packages []domain.CreditPackage, currency string) (*telebot.ReplyMarkup, error) {
	kb := NewInlineKeyboard()
	for _, p := range packages {
		text := p.Title + " - " + domain.FormatMoney(p.Price, currency)
		if t != nil {
			text = t.Tf("buy.package", p.Title, domain.FormatMoney(p.Price, currency))
		}
		kb.AddRow(InlineButton{Text: text, Unique: CallbackPackage, Data: p.ID})
	}
	kb.AddRow(b.cancelButton(t))

	return b.build(kb)
}

// PaymentLink renders a single URL button leading to the checkout page.
func (b *Builder) PaymentLink(t i18n.Translator, url string) (*telebot.ReplyMarkup, error) {
	return b.build(NewInlineKeyboard().AddRow(InlineButton{Text: translated(t, "buy.pay", "Pay"), URL: url}))
}

// Languages offers every language that has a catalog.
func (b *Builder) Languages(langs []string) (*telebot.ReplyMarkup, error) {
	row := make([]InlineButton, 0, len(langs))
	for _, lang := range langs {
		row = append(row, InlineButton{Text: strings.ToUpper(lang), Unique: CallbackLanguage, Data: lang})
	}
	return b.build(NewInlineKeyboard().AddRow(row...))
}

func (b *Builder) cancelButton(t i18n.Translator) InlineButton {
	return InlineButton{Text: translated(t, "common.back", "« Back"), Unique: CallbackCancel}
}

func (b *Builder) build(kb *InlineKeyboardBuilder) (*telebot.ReplyMarkup, error) {
	markup, err := kb.Build()
	if err != nil {
		b.log.Error("failed to build keyboard", slog.Any("error", err))
		return nil, err
	}
	return markup, nil
}
