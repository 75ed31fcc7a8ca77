// Package idempotency keeps webhook deliveries and bot updates from being processed twice.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Proton-105/photostudio/internal/domain"
)

// ErrEmptyMessageID is returned when a delivery carries no message identifier.
var ErrEmptyMessageID = errors.New("message id is empty")

// MessageStore records externally supplied message ids in qstash_processed_messages.
type MessageStore interface {
	// Claim records messageID and reports whether this call was the first to do so.
	Claim(ctx context.Context, messageID, source string) (bool, error)
	// Release forgets messageID so a redelivery is processed again.
	Release(ctx context.Context, messageID string) error
	// Purge deletes markers older than the given age.
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	Recent(ctx context.Context, limit int) ([]domain.ProcessedMessage, error)
}

type postgresMessageStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresMessageStore creates a MessageStore backed by Postgres.
func NewPostgresMessageStore(db *sql.DB, log *slog.Logger) MessageStore {
	if log == nil {
		log = slog.Default()
	}
	return &postgresMessageStore{db: db, log: log}
}

func (s *postgresMessageStore) Claim(ctx context.Context, messageID, source string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, ErrEmptyMessageID
	}

	const query = `
		INSERT INTO qstash_processed_messages (message_id, source)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, messageID, source)
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", messageID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", messageID, err)
	}
	return n == 1, nil
}

func (s *postgresMessageStore) Release(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM qstash_processed_messages WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("release message %s: %w", messageID, err)
	}
	return nil
}

func (s *postgresMessageStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM qstash_processed_messages WHERE processed_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge processed messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge processed messages: %w", err)
	}
	if n > 0 {
		s.log.Info("processed messages purged", slog.Int64("count", n), slog.Duration("older_than", olderThan))
	}
	return n, nil
}

func (s *postgresMessageStore) Recent(ctx context.Context, limit int) ([]domain.ProcessedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, source, processed_at FROM qstash_processed_messages ORDER BY processed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessedMessage
	for rows.Next() {
		var m domain.ProcessedMessage
		if err := rows.Scan(&m.MessageID, &m.Source, &m.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan processed message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Once runs fn the first time messageID is seen. It reports duplicate=true
// without calling fn for ids already claimed. When fn fails the claim is
// released so the sender's retry can be processed.
func Once(ctx context.Context, store MessageStore, messageID, source string, log *slog.Logger, fn func(ctx context.Context) error) (duplicate bool, err error) {
	if log == nil {
		log = slog.Default()
	}

	claimed, err := store.Claim(ctx, messageID, source)
	if err != nil {
		return false, err
	}
	if !claimed {
		log.Info("duplicate delivery skipped", slog.String("message_id", messageID), slog.String("source", source))
		return true, nil
	}

	if err := fn(ctx); err != nil {
		// the caller's context may be done already; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if relErr := store.Release(releaseCtx, messageID); relErr != nil {
			log.Error("failed to release message claim", slog.String("message_id", messageID), slog.Any("error", relErr))
		}
		return false, err
	}

	return false, nil
}
