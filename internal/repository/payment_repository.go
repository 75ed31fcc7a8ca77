package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Proton-105/photostudio/internal/domain"
)

// PaymentRepository persists credit purchases.
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id int64) (*domain.Payment, error)
	GetByProviderID(ctx context.Context, provider, providerPaymentID string) (*domain.Payment, error)
	// TransitionStatus moves a payment from one status to another and reports
	// whether this call performed the change.
	TransitionStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) (bool, error)
	ListByUser(ctx context.Context, userID int64, page Page) ([]domain.Payment, error)
	List(ctx context.Context, page Page) ([]domain.Payment, error)
	Revenue(ctx context.Context) (count int, amount int64, err error)
}

type paymentRepository struct {
	base
}

func NewPaymentRepository(db *sql.DB, log *slog.Logger) PaymentRepository {
	return &paymentRepository{base: newBase(db, log)}
}

const paymentColumns = `id, user_id, provider, provider_payment_id, package_id, credits, amount, currency, status, confirmation_url, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.ProviderPaymentID, &p.PackageID, &p.Credits,
		&p.Amount, &p.Currency, &p.Status, &p.ConfirmationURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}

	const query = `
		INSERT INTO payments (user_id, provider, provider_payment_id, package_id, credits, amount, currency, status, confirmation_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.q(ctx).QueryRowContext(ctx, query,
		p.UserID, p.Provider, p.ProviderPaymentID, p.PackageID, p.Credits, p.Amount, p.Currency, p.Status, p.ConfirmationURL,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert payment %s: %w", p.ProviderPaymentID, ErrDuplicate)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id int64) (*domain.Payment, error) {
	p, err := scanPayment(r.q(ctx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("select payment %d: %w", id, notFound(err))
	}
	return p, nil
}

func (r *paymentRepository) GetByProviderID(ctx context.Context, provider, providerPaymentID string) (*domain.Payment, error) {
	p, err := scanPayment(r.q(ctx).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND provider_payment_id = $2`, provider, providerPaymentID))
	if err != nil {
		return nil, fmt.Errorf("select payment %s: %w", providerPaymentID, notFound(err))
	}
	return p, nil
}

func (r *paymentRepository) TransitionStatus(ctx context.Context, id int64, from, to domain.PaymentStatus) (bool, error) {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE payments SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update payment %d status: %w", id, err)
	}
	return affected(res)
}

func (r *paymentRepository) list(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *paymentRepository) ListByUser(ctx context.Context, userID int64, page Page) ([]domain.Payment, error) {
	page = page.Normalize()
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset)
}

func (r *paymentRepository) List(ctx context.Context, page Page) ([]domain.Payment, error) {
	page = page.Normalize()
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY id DESC LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
}

func (r *paymentRepository) Revenue(ctx context.Context) (int, int64, error) {
	var (
		count  int
		amount int64
	)
	err := r.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM payments WHERE status = 'succeeded'`).Scan(&count, &amount)
	if err != nil {
		return 0, 0, fmt.Errorf("sum payments: %w", err)
	}
	return count, amount, nil
}
