package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/pkg/config"
	"github.com/Proton-105/photostudio/pkg/metrics"
)

type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*ProviderPayment, error)
	GetPayment(ctx context.Context, id string) (*ProviderPayment, error)
}

type Rewarder interface {
	Accrue(ctx context.Context, p *domain.Payment) (*domain.ReferralEarning, error)
}

type Notifier interface {
	Admin(ctx context.Context, kind domain.NotificationKind, message string, payload any) error
	PaymentSucceeded(ctx context.Context, p *domain.Payment, balance int)
	ReferralReward(ctx context.Context, referrerID, amount int64, currency string)
}

type BalanceObserver interface {
	Invalidate(ctx context.Context, userID int64)
}

type Deps struct {
	Payments  repository.PaymentRepository
	Users     repository.UserRepository
	Tx        repository.Transactor
	Gateway   Gateway
	Referrals Rewarder
	Notifier  Notifier
	Balances  BalanceObserver
	Log       *slog.Logger
}

type Service struct {
	Deps
	cfg config.PaymentsConfig
}

func NewService(deps Deps, cfg config.PaymentsConfig) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	deps.Log = deps.Log.With(slog.String("component", "payment"))

	return &Service{Deps: deps, cfg: cfg}
}

// Packages lists the credit packages on sale.
func (s *Service) Packages() []domain.CreditPackage {
	out := make([]domain.CreditPackage, 0, len(s.cfg.Packages))
	for _, p := range s.cfg.Packages {
		out = append(out, domain.CreditPackage{ID: p.ID, Title: p.Title, Credits: p.Credits, Price: p.Price})
	}
	return out
}

func (s *Service) Currency() string {
	return s.cfg.YooKassa.Currency
}

// CreatePayment opens a YooKassa payment for a package and records it as pending.
func (s *Service) CreatePayment(ctx context.Context, userID int64, packageID string) (*domain.Payment, error) {
	pkg, ok := s.cfg.Package(packageID)
	if !ok {
		return nil, apperrors.NewNotFoundError("package")
	}

	if _, err := s.Users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("user")
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	remote, err := s.Gateway.CreatePayment(ctx, CreateRequest{
		Amount:      pkg.Price,
		Currency:    s.cfg.YooKassa.Currency,
		Description: pkg.Title,
		ReturnURL:   s.cfg.YooKassa.ReturnURL,
		Metadata: map[string]string{
			"user_id":    strconv.FormatInt(userID, 10),
			"package_id": pkg.ID,
		},
	})
	if err != nil {
		metrics.RecordPayment("error")
		return nil, err
	}

	p := &domain.Payment{
		UserID:            userID,
		Provider:          domain.ProviderYooKassa,
		ProviderPaymentID: remote.ID,
		PackageID:         pkg.ID,
		Credits:           pkg.Credits,
		Amount:            pkg.Price,
		Currency:          s.cfg.YooKassa.Currency,
		Status:            domain.PaymentPending,
		ConfirmationURL:   remote.Confirmation.ConfirmationURL,
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	metrics.RecordPayment(string(domain.PaymentPending))
	s.Log.InfoContext(ctx, "payment opened",
		slog.Int64("payment_id", p.ID),
		slog.Int64("user_id", userID),
		slog.String("package_id", pkg.ID),
	)
	return p, nil
}

// HandleWebhook applies a YooKassa notification. The payment state is re-read from the
// API, so a forged body cannot credit anyone; repeated deliveries are no-ops.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return apperrors.NewValidationError("invalid notification payload")
	}
	if n.Object.ID == "" {
		return apperrors.NewValidationError("notification without payment id")
	}

	p, err := s.Payments.GetByProviderID(ctx, domain.ProviderYooKassa, n.Object.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Log.WarnContext(ctx, "notification for unknown payment", slog.String("provider_payment_id", n.Object.ID))
			return apperrors.NewNotFoundError("payment")
		}
		return apperrors.NewDatabaseError(err)
	}
	if p.Status != domain.PaymentPending {
		return nil
	}

	remote, err := s.Gateway.GetPayment(ctx, n.Object.ID)
	if err != nil {
		return err
	}

	switch remote.Status {
	case StatusSucceeded:
		return s.succeed(ctx, p, remote)
	case StatusCanceled:
		return s.cancel(ctx, p)
	default:
		s.Log.DebugContext(ctx, "payment not final yet", slog.Int64("payment_id", p.ID), slog.String("status", remote.Status))
		return nil
	}
}

func (s *Service) succeed(ctx context.Context, p *domain.Payment, remote *ProviderPayment) error {
	paid, err := ParseAmount(remote.Amount.Value)
	if err != nil || paid != p.Amount || remote.Amount.Currency != p.Currency {
		s.Log.ErrorContext(ctx, "payment amount mismatch",
			slog.Int64("payment_id", p.ID),
			slog.String("paid", remote.Amount.Value+" "+remote.Amount.Currency),
			slog.Int64("expected", p.Amount),
		)
		return apperrors.NewValidationError("payment amount does not match")
	}

	var (
		applied bool
		balance int
		earning *domain.ReferralEarning
	)
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Payments.TransitionStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentSucceeded)
		if err != nil || !ok {
			return err
		}
		applied = true

		if balance, err = s.Users.AddCredits(ctx, p.UserID, p.Credits); err != nil {
			return err
		}

		if s.Referrals != nil {
			if earning, err = s.Referrals.Accrue(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.NewDatabaseError(err)
	}
	if !applied {
		return nil
	}

	p.Status = domain.PaymentSucceeded
	if s.Balances != nil {
		s.Balances.Invalidate(ctx, p.UserID)
	}
	metrics.RecordPayment(string(domain.PaymentSucceeded))
	s.Log.InfoContext(ctx, "payment succeeded",
		slog.Int64("payment_id", p.ID),
		slog.Int64("user_id", p.UserID),
		slog.Int("credits", p.Credits),
	)

	msg := fmt.Sprintf("user %d paid %s for %s (+%d credits)", p.UserID, domain.FormatMoney(p.Amount, p.Currency), p.PackageID, p.Credits)
	if err := s.Notifier.Admin(ctx, domain.NotifyPayment, msg, p); err != nil {
		s.Log.WarnContext(ctx, "failed to record payment notification", slog.Any("error", err))
	}
	s.Notifier.PaymentSucceeded(ctx, p, balance)
	if earning != nil {
		s.Notifier.ReferralReward(ctx, earning.ReferrerID, earning.Amount, p.Currency)
	}
	return nil
}

func (s *Service) cancel(ctx context.Context, p *domain.Payment) error {
	ok, err := s.Payments.TransitionStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentCanceled)
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	if ok {
		p.Status = domain.PaymentCanceled
		metrics.RecordPayment(string(domain.PaymentCanceled))
		s.Log.InfoContext(ctx, "payment canceled", slog.Int64("payment_id", p.ID))
	}
	return nil
}
