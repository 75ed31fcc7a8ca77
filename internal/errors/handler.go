package errors

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/photostudio/pkg/logger"
	"github.com/Proton-105/photostudio/pkg/metrics"
)

// Handler logs errors, reports severe ones to Sentry and turns them into user messages.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		log:           log,
		sentryEnabled: sentryEnabled,
	}
}

// Handle returns the message to show the user and whether the operation may be retried.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}

	if ctx == nil {
		ctx = context.Background()
	}

	log := logger.FromContext(ctx, h.log)

	appErr, ok := As(err)
	if !ok {
		log.Error("unknown error", slog.Any("error", err), slog.String("severity", string(SeverityHigh)))
		metrics.RecordError("unknown", string(SeverityHigh))
		h.capture(ctx, err)
		return defaultUserMessage, false
	}

	attrs := []any{
		slog.String("code", appErr.Code),
		slog.Any("error", err),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	}

	switch appErr.Severity {
	case SeverityHigh, SeverityCritical:
		log.Error("application error", attrs...)
		h.capture(ctx, err)
	case SeverityMedium:
		log.Warn("application error", attrs...)
	default:
		log.Info("application error", attrs...)
	}
	metrics.RecordError(appErr.Code, string(appErr.Severity))

	userMessage := appErr.UserMessage
	if userMessage == "" {
		userMessage = defaultUserMessage
	}

	return userMessage, appErr.Retryable
}

func (h *Handler) capture(ctx context.Context, err error) {
	if !h.sentryEnabled {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		if appErr, ok := As(err); ok {
			scope.SetTag("code", appErr.Code)
			scope.SetTag("severity", string(appErr.Severity))
		}
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			scope.SetTag("correlation_id", id)
		}

		hub.CaptureException(err)
	})
}
