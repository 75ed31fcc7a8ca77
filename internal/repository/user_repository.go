package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/photostudio/internal/domain"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	UpdateProfile(ctx context.Context, id int64, profile domain.TelegramProfile) error
	List(ctx context.Context, page Page) ([]domain.User, error)
	Count(ctx context.Context) (int, error)
	// AddCredits applies delta and returns the new balance. It never lets the balance go negative.
	AddCredits(ctx context.Context, id int64, delta int) (int, error)
	// DebitCredits subtracts amount only when the balance covers it.
	DebitCredits(ctx context.Context, id int64, amount int) (bool, error)
	// SetReferrer records referrerID once; later calls are no-ops.
	SetReferrer(ctx context.Context, id, referrerID int64) (bool, error)
	CountReferred(ctx context.Context, referrerID int64) (int, error)
	SetLanguage(ctx context.Context, id int64, lang string) error
	SetBlocked(ctx context.Context, id int64, blocked bool) error
	TouchLastActive(ctx context.Context, id int64) error
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

type userRepository struct {
	base
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	return &userRepository{base: newBase(db, log)}
}

const userColumns = `id, telegram_id, username, first_name, last_name, language, credits, referred_by, is_blocked, created_at, updated_at, last_active_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var (
		user       domain.User
		referredBy sql.NullInt64
	)
	if err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Language,
		&user.Credits,
		&referredBy,
		&user.IsBlocked,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastActiveAt,
	); err != nil {
		return nil, err
	}
	if referredBy.Valid {
		user.ReferredBy = &referredBy.Int64
	}
	return &user, nil
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(r.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("select user %d: %w", id, notFound(err))
	}
	return user, nil
}

// FindByTelegramID retrieves a user from the database by their Telegram identifier.
func (r *userRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	user, err := scanUser(r.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
	if err != nil {
		return nil, fmt.Errorf("select user by telegram id: %w", notFound(err))
	}
	return user, nil
}

// Create persists a new user record and fills generated columns.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
		INSERT INTO users (telegram_id, username, first_name, last_name, language, credits, referred_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at, last_active_at
	`

	var referredBy sql.NullInt64
	if user.ReferredBy != nil {
		referredBy = sql.NullInt64{Int64: *user.ReferredBy, Valid: true}
	}

	err := r.q(ctx).QueryRowContext(ctx, query,
		user.TelegramID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.Language,
		user.Credits,
		referredBy,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.LastActiveAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user %d: %w", user.TelegramID, ErrDuplicate)
		}
		r.log.Error("failed to create user", slog.Int64("telegram_id", user.TelegramID), slog.Any("error", err))
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id int64, p domain.TelegramProfile) error {
	const query = `
		UPDATE users SET username = $2, first_name = $3, last_name = $4, updated_at = NOW()
		WHERE id = $1 AND (username, first_name, last_name) IS DISTINCT FROM ($2, $3, $4)
	`
	if _, err := r.q(ctx).ExecContext(ctx, query, id, p.Username, p.FirstName, p.LastName); err != nil {
		return fmt.Errorf("update profile %d: %w", id, err)
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, page Page) ([]domain.User, error) {
	page = page.Normalize()

	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id DESC LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *userRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *userRepository) AddCredits(ctx context.Context, id int64, delta int) (int, error) {
	const query = `
		UPDATE users SET credits = GREATEST(credits + $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING credits
	`
	var credits int
	if err := r.q(ctx).QueryRowContext(ctx, query, id, delta).Scan(&credits); err != nil {
		return 0, fmt.Errorf("add credits to user %d: %w", id, notFound(err))
	}
	return credits, nil
}

func (r *userRepository) DebitCredits(ctx context.Context, id int64, amount int) (bool, error) {
	const query = `
		UPDATE users SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, amount)
	if err != nil {
		return false, fmt.Errorf("debit credits of user %d: %w", id, err)
	}
	return affected(res)
}

func (r *userRepository) SetReferrer(ctx context.Context, id, referrerID int64) (bool, error) {
	const query = `
		UPDATE users SET referred_by = $2, updated_at = NOW()
		WHERE id = $1 AND referred_by IS NULL AND id <> $2
		  AND NOT EXISTS (SELECT 1 FROM users r WHERE r.id = $2 AND r.referred_by = $1)
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, referrerID)
	if err != nil {
		return false, fmt.Errorf("set referrer of user %d: %w", id, err)
	}
	return affected(res)
}

func (r *userRepository) CountReferred(ctx context.Context, referrerID int64) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE referred_by = $1`, referrerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referred users: %w", err)
	}
	return n, nil
}

func (r *userRepository) SetLanguage(ctx context.Context, id int64, lang string) error {
	res, err := r.q(ctx).ExecContext(ctx, `UPDATE users SET language = $2, updated_at = NOW() WHERE id = $1`, id, lang)
	if err != nil {
		return fmt.Errorf("set language of user %d: %w", id, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return fmt.Errorf("set language of user %d: %w", id, firstErr(err, ErrNotFound))
	}
	return nil
}

func (r *userRepository) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	res, err := r.q(ctx).ExecContext(ctx, `UPDATE users SET is_blocked = $2, updated_at = NOW() WHERE id = $1`, id, blocked)
	if err != nil {
		return fmt.Errorf("set blocked flag of user %d: %w", id, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return fmt.Errorf("set blocked flag of user %d: %w", id, firstErr(err, ErrNotFound))
	}
	return nil
}

func (r *userRepository) TouchLastActive(ctx context.Context, id int64) error {
	if _, err := r.q(ctx).ExecContext(ctx, `UPDATE users SET last_active_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch user %d: %w", id, err)
	}
	return nil
}

func (r *userRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT telegram_id FROM users WHERE NOT is_blocked ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
