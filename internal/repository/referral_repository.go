package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/photostudio/internal/domain"
)

// ReferralRepository persists referral codes, balances and earnings.
type ReferralRepository interface {
	CreateCode(ctx context.Context, userID int64, code string) (*domain.ReferralCode, error)
	CodeByUser(ctx context.Context, userID int64) (*domain.ReferralCode, error)
	UserIDByCode(ctx context.Context, code string) (int64, error)
	// InsertEarning records an earning once per payment and reports whether it was new.
	InsertEarning(ctx context.Context, e *domain.ReferralEarning) (bool, error)
	AddBalance(ctx context.Context, userID, amount int64) error
	Balance(ctx context.Context, userID int64) (*domain.ReferralBalance, error)
	ListEarnings(ctx context.Context, referrerID int64, page Page) ([]domain.ReferralEarning, error)
}

type referralRepository struct {
	base
}

func NewReferralRepository(db *sql.DB, log *slog.Logger) ReferralRepository {
	return &referralRepository{base: newBase(db, log)}
}

func (r *referralRepository) CreateCode(ctx context.Context, userID int64, code string) (*domain.ReferralCode, error) {
	rc := &domain.ReferralCode{UserID: userID, Code: code}

	const query = `INSERT INTO referral_codes (user_id, code) VALUES ($1, $2) RETURNING id, created_at`
	if err := r.q(ctx).QueryRowContext(ctx, query, userID, code).Scan(&rc.ID, &rc.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert referral code: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert referral code: %w", err)
	}
	return rc, nil
}

func (r *referralRepository) CodeByUser(ctx context.Context, userID int64) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	err := r.q(ctx).QueryRowContext(ctx,
		`SELECT id, user_id, code, created_at FROM referral_codes WHERE user_id = $1`, userID,
	).Scan(&rc.ID, &rc.UserID, &rc.Code, &rc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("select referral code of user %d: %w", userID, notFound(err))
	}
	return &rc, nil
}

func (r *referralRepository) UserIDByCode(ctx context.Context, code string) (int64, error) {
	var userID int64
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT user_id FROM referral_codes WHERE code = $1`, code).Scan(&userID); err != nil {
		return 0, fmt.Errorf("select referral code %q: %w", code, notFound(err))
	}
	return userID, nil
}

func (r *referralRepository) InsertEarning(ctx context.Context, e *domain.ReferralEarning) (bool, error) {
	const query = `
		INSERT INTO referral_earnings (referrer_id, referred_id, payment_id, amount, percent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at
	`
	err := r.q(ctx).QueryRowContext(ctx, query, e.ReferrerID, e.ReferredID, e.PaymentID, e.Amount, e.Percent).
		Scan(&e.ID, &e.CreatedAt)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("insert referral earning: %w", err)
}

func (r *referralRepository) AddBalance(ctx context.Context, userID, amount int64) error {
	const query = `
		INSERT INTO referral_balances (user_id, balance, total_earned)
		VALUES ($1, $2, GREATEST($2, 0))
		ON CONFLICT (user_id) DO UPDATE SET
			balance      = referral_balances.balance + EXCLUDED.balance,
			total_earned = referral_balances.total_earned + EXCLUDED.total_earned,
			updated_at   = NOW()
	`
	if _, err := r.q(ctx).ExecContext(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("add referral balance of user %d: %w", userID, err)
	}
	return nil
}

// Balance returns a zero balance when the user never earned anything.
func (r *referralRepository) Balance(ctx context.Context, userID int64) (*domain.ReferralBalance, error) {
	b := domain.ReferralBalance{UserID: userID}
	err := r.q(ctx).QueryRowContext(ctx,
		`SELECT balance, total_earned, updated_at FROM referral_balances WHERE user_id = $1`, userID,
	).Scan(&b.Balance, &b.TotalEarned, &b.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select referral balance of user %d: %w", userID, err)
	}
	return &b, nil
}

func (r *referralRepository) ListEarnings(ctx context.Context, referrerID int64, page Page) ([]domain.ReferralEarning, error) {
	page = page.Normalize()

	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT id, referrer_id, referred_id, payment_id, amount, percent, created_at
		FROM referral_earnings WHERE referrer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, referrerID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list referral earnings: %w", err)
	}
	defer rows.Close()

	var out []domain.ReferralEarning
	for rows.Next() {
		var e domain.ReferralEarning
		if err := rows.Scan(&e.ID, &e.ReferrerID, &e.ReferredID, &e.PaymentID, &e.Amount, &e.Percent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral earning: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
