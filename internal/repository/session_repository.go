package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/photostudio/internal/state"
)

// SessionRepository stores bot conversation state in telegram_sessions.
// It implements state.Storage.
type SessionRepository struct {
	base
}

var _ state.Storage = (*SessionRepository)(nil)

func NewSessionRepository(db *sql.DB, log *slog.Logger) *SessionRepository {
	return &SessionRepository{base: newBase(db, log)}
}

func (r *SessionRepository) GetState(ctx context.Context, telegramID int64) (*state.UserState, error) {
	var (
		st   state.UserState
		data []byte
	)
	err := r.q(ctx).QueryRowContext(ctx,
		`SELECT telegram_id, state, data, updated_at FROM telegram_sessions WHERE telegram_id = $1`, telegramID,
	).Scan(&st.UserID, &st.CurrentState, &data, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session %d: %w", telegramID, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &st.Context); err != nil {
			return nil, fmt.Errorf("decode session %d: %w", telegramID, err)
		}
	}
	return &st, nil
}

func (r *SessionRepository) SetState(ctx context.Context, telegramID int64, st *state.UserState) error {
	data := []byte("{}")
	if len(st.Context) > 0 {
		encoded, err := json.Marshal(st.Context)
		if err != nil {
			return fmt.Errorf("encode session %d: %w", telegramID, err)
		}
		data = encoded
	}

	const query = `
		INSERT INTO telegram_sessions (telegram_id, state, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (telegram_id) DO UPDATE SET state = EXCLUDED.state, data = EXCLUDED.data, updated_at = NOW()
		RETURNING updated_at
	`
	if err := r.q(ctx).QueryRowContext(ctx, query, telegramID, st.CurrentState, data).Scan(&st.UpdatedAt); err != nil {
		return fmt.Errorf("upsert session %d: %w", telegramID, err)
	}
	return nil
}

func (r *SessionRepository) ClearState(ctx context.Context, telegramID int64) error {
	if _, err := r.q(ctx).ExecContext(ctx, `DELETE FROM telegram_sessions WHERE telegram_id = $1`, telegramID); err != nil {
		return fmt.Errorf("delete session %d: %w", telegramID, err)
	}
	return nil
}

func (r *SessionRepository) GetAllStates(ctx context.Context) ([]*state.UserState, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT telegram_id, state, data, updated_at FROM telegram_sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*state.UserState
	for rows.Next() {
		var (
			st   state.UserState
			data []byte
		)
		if err := rows.Scan(&st.UserID, &st.CurrentState, &data, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal(data, &st.Context); err != nil {
			r.log.Warn("skipping malformed session", slog.Int64("telegram_id", st.UserID), slog.Any("error", err))
			continue
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
