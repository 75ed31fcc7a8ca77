// Package bot runs the Telegram front end: update routing, middleware and
// the transport used by notifications.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/handlers"
	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/idempotency"
	"github.com/Proton-105/photostudio/internal/middleware"
	"github.com/Proton-105/photostudio/internal/state"
	"github.com/Proton-105/photostudio/pkg/config"
)

const (
	webhookPath  = "/api/webhooks/telegram"
	maxAlbumSize = 10
)

// Deps are the collaborators the bot needs besides its configuration.
type Deps struct {
	Env         *handlers.Env
	Idempotency idempotency.Manager
	Limiter     middleware.MessageLimiter
	Admin       AdminNotifier
}

// Bot wraps telebot.Bot with application dependencies required for handling updates.
type Bot struct {
	telebot    *telebot.Bot
	webhook    *telebot.Webhook
	log        *slog.Logger
	cfg        config.Config
	env        *handlers.Env
	router     *Router
	dispatcher *Dispatcher
	errHandler *apperrors.Handler
	running    atomic.Bool
}

// New builds a telegram bot instance configured according to the application settings.
func New(cfg config.Config, deps Deps) (*Bot, error) {
	if deps.Env == nil {
		return nil, fmt.Errorf("bot: handler environment is required")
	}

	log := deps.Env.Log
	if log == nil {
		log = slog.Default()
		deps.Env.Log = log
	}
	log = log.With(slog.String("component", "bot"))

	settings := telebot.Settings{
		Token: cfg.Bot.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", slog.Any("error", err))
		},
	}

	var webhook *telebot.Webhook
	if cfg.Bot.Mode == "webhook" {
		// Listen stays empty: updates arrive through the HTTP server's router.
		webhook = &telebot.Webhook{
			SecretToken:    cfg.Bot.WebhookSecret,
			AllowedUpdates: []string{"message", "callback_query"},
			Endpoint: &telebot.WebhookEndpoint{
				PublicURL: strings.TrimRight(cfg.Server.PublicURL, "/") + webhookPath,
			},
		}
		settings.Poller = webhook
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	if deps.Env.Keyboard == nil {
		deps.Env.Keyboard = keyboard.NewBuilder(log)
	}

	dispatcher := NewDispatcher(deps.Env.FSM, log)
	b := &Bot{
		telebot:    tb,
		webhook:    webhook,
		log:        log,
		cfg:        cfg,
		env:        deps.Env,
		router:     NewRouter(dispatcher, log),
		dispatcher: dispatcher,
		errHandler: apperrors.NewHandler(log, cfg.Sentry.Enabled),
	}

	b.setupRouter(deps)
	b.registerTelebotHandlers()

	return b, nil
}

func (b *Bot) setupRouter(deps Deps) {
	env := deps.Env

	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(middleware.Idempotency(deps.Idempotency, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(AuthMiddleware(env.Users, deps.Admin, b.log))
	b.router.Use(middleware.RateLimit(deps.Limiter, env.I18n, b.log))
	b.router.Use(LastActiveMiddleware(env.Users, b.log))
	b.router.Use(middleware.Metrics)

	b.router.RegisterCommand(CommandStart, handlers.NewStartHandler(env))
	b.router.RegisterCommand(CommandBalance, handlers.NewBalanceHandler(env))
	b.router.RegisterCommand(CommandAvatar, handlers.NewAvatarHandler(env))
	b.router.RegisterCommand(CommandDone, handlers.NewDoneHandler(env))
	b.router.RegisterCommand(CommandGenerate, handlers.NewGenerateHandler(env))
	b.router.RegisterCommand(CommandReferral, handlers.NewReferralHandler(env))
	b.router.RegisterCommand(CommandBuy, handlers.NewBuyHandler(env))
	b.router.RegisterCommand(CommandLang, handlers.NewLangHandler(env))
	b.router.RegisterCommand(CommandCancel, handlers.NewCancelHandler(env))

	for _, lang := range env.I18n.Languages() {
		tr := env.I18n.Translator(lang)
		for key, cmd := range menuCommands {
			if label := tr.T(key); label != key {
				b.router.RegisterAlias(label, cmd)
			}
		}
	}

	b.router.RegisterCallback(keyboard.CallbackAvatar, handlers.NewAvatarChosenCallback(env))
	b.router.RegisterCallback(keyboard.CallbackAvatarPage, handlers.NewAvatarPageCallback(env))
	b.router.RegisterCallback(keyboard.CallbackPackage, handlers.NewPackageCallback(env))
	b.router.RegisterCallback(keyboard.CallbackLanguage, handlers.NewLanguageCallback(env))
	b.router.RegisterCallback(keyboard.CallbackCancel, handlers.CallbackHandler(handlers.NewCancelHandler(env)))

	b.dispatcher.RegisterStateHandler(state.StateAvatarNaming, handlers.NewAvatarNameHandler(env))
	b.dispatcher.RegisterStateHandler(state.StateAvatarUploading, handlers.NewAvatarPhotoHandler(env))
	b.dispatcher.RegisterStateHandler(state.StateEnteringPrompt, handlers.NewPromptHandler(env))

	b.router.SetDefault(func(c telebot.Context) error {
		tr := env.Tr(c)
		return c.Send(tr.T("common.unknown"), keyboard.MainMenu(tr))
	})
}

func (b *Bot) registerTelebotHandlers() {
	for _, endpoint := range []string{telebot.OnText, telebot.OnCallback, telebot.OnPhoto, telebot.OnDocument} {
		b.telebot.Handle(endpoint, b.router.Route)
	}
}

// Start publishes the command list and runs the update loop until Stop.
func (b *Bot) Start() {
	commands := make([]telebot.Command, 0, len(commandList))
	for _, c := range commandList {
		commands = append(commands, telebot.Command{Text: strings.TrimPrefix(c.Command, "/"), Description: c.Description})
	}
	if err := b.telebot.SetCommands(commands); err != nil {
		b.log.Warn("failed to publish bot commands", slog.Any("error", err))
	}

	b.log.Info("telegram bot started", slog.String("mode", b.cfg.Bot.Mode))
	b.running.Store(true)
	b.telebot.Start()
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if !b.running.Swap(false) {
		return
	}
	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// WebhookHandler returns the HTTP handler for Telegram webhook deliveries, or
// nil in polling mode. Updates are rejected until the bot is started.
func (b *Bot) WebhookHandler() http.Handler {
	if b.webhook == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.running.Load() {
			http.Error(w, "bot is not running", http.StatusServiceUnavailable)
			return
		}
		b.webhook.ServeHTTP(w, r)
	})
}

// SendText implements notify.Sender.
func (b *Bot) SendText(_ context.Context, chatID int64, text string) error {
	_, err := b.telebot.Send(telebot.ChatID(chatID), text)
	if err != nil {
		return apperrors.NewExternalAPIError("telegram", err)
	}
	return nil
}

// SendPhotos implements notify.Sender. Photos go out as albums of up to ten
// with the caption on the first photo.
func (b *Bot) SendPhotos(_ context.Context, chatID int64, urls []string, caption string) error {
	if len(urls) == 0 {
		return nil
	}

	to := telebot.ChatID(chatID)
	if len(urls) == 1 {
		if _, err := b.telebot.Send(to, &telebot.Photo{File: telebot.FromURL(urls[0]), Caption: caption}); err != nil {
			return apperrors.NewExternalAPIError("telegram", err)
		}
		return nil
	}

	for start := 0; start < len(urls); start += maxAlbumSize {
		end := min(start+maxAlbumSize, len(urls))

		album := make(telebot.Album, 0, end-start)
		for i, url := range urls[start:end] {
			photo := &telebot.Photo{File: telebot.FromURL(url)}
			if start == 0 && i == 0 {
				photo.Caption = caption
			}
			album = append(album, photo)
		}

		if _, err := b.telebot.SendAlbum(to, album); err != nil {
			return apperrors.NewExternalAPIError("telegram", err)
		}
	}
	return nil
}
