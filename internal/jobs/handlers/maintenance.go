// Package handlers implements the asynq task handlers.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/photostudio/internal/jobs"
)

// MessagePurger deletes webhook idempotency markers older than a cutoff.
type MessagePurger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StaleSweeper fails and refunds generations that never finished.
type StaleSweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type PurgeMessagesHandler struct {
	store MessagePurger
	log   *slog.Logger
}

func NewPurgeMessagesHandler(store MessagePurger, log *slog.Logger) *PurgeMessagesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeMessagesHandler{store: store, log: log}
}

func (h *PurgeMessagesHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.PurgeMessagesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "purge messages: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	removed, err := h.store.Purge(ctx, payload.OlderThan)
	if err != nil {
		return fmt.Errorf("purge processed messages: %w", err)
	}

	h.log.InfoContext(ctx, "processed messages purged", slog.Int64("removed", removed), slog.Duration("older_than", payload.OlderThan))
	return nil
}

type SweepStaleHandler struct {
	generations StaleSweeper
	log         *slog.Logger
}

func NewSweepStaleHandler(generations StaleSweeper, log *slog.Logger) *SweepStaleHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SweepStaleHandler{generations: generations, log: log}
}

func (h *SweepStaleHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.SweepStalePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "sweep stale: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	failed, err := h.generations.SweepStale(ctx, payload.OlderThan)
	if err != nil {
		return fmt.Errorf("sweep stale generations: %w", err)
	}

	if failed > 0 {
		h.log.WarnContext(ctx, "stale generations failed and refunded", slog.Int("count", failed), slog.Duration("older_than", payload.OlderThan))
	}
	return nil
}
