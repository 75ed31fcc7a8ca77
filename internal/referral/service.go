// Package referral manages invite codes and the rewards referrers earn on payments.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/repository"
)

const (
	// CodePrefix marks a referral code in a /start deep link payload.
	CodePrefix = "ref_"

	codeLength   = 8
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxAttempts  = 5
)

type Service struct {
	referrals     repository.ReferralRepository
	users         repository.UserRepository
	rewardPercent int
	signupBonus   int
	botUsername   string
	log           *slog.Logger

	generate func() (string, error)
}

func NewService(
	referrals repository.ReferralRepository,
	users repository.UserRepository,
	rewardPercent, signupBonus int,
	botUsername string,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		referrals:     referrals,
		users:         users,
		rewardPercent: rewardPercent,
		signupBonus:   signupBonus,
		botUsername:   strings.TrimPrefix(botUsername, "@"),
		log:           log.With(slog.String("component", "referral")),
		generate:      generateCode,
	}
}

// Code returns the user's referral code, creating one on first use.
func (s *Service) Code(ctx context.Context, userID int64) (string, error) {
	rc, err := s.referrals.CodeByUser(ctx, userID)
	if err == nil {
		return rc.Code, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", apperrors.NewDatabaseError(err)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", err
		}

		rc, err := s.referrals.CreateCode(ctx, userID, code)
		if err == nil {
			s.log.InfoContext(ctx, "referral code created", slog.Int64("user_id", userID))
			return rc.Code, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return "", apperrors.NewDatabaseError(err)
		}

		// the conflict may be a concurrent request creating this user's code
		if rc, err := s.referrals.CodeByUser(ctx, userID); err == nil {
			return rc.Code, nil
		}
	}

	return "", apperrors.NewConflictError("could not allocate a unique referral code")
}

// Apply links userID to the owner of code. A user gets a referrer once, never
// themselves and never someone they invited.
func (s *Service) Apply(ctx context.Context, userID int64, code string) (int64, error) {
	code = NormalizeCode(code)
	if code == "" {
		return 0, apperrors.NewValidationError("referral code is empty")
	}

	referrerID, err := s.referrals.UserIDByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, apperrors.NewNotFoundError("referral code")
		}
		return 0, apperrors.NewDatabaseError(err)
	}
	if referrerID == userID {
		return 0, apperrors.NewValidationError("you cannot use your own referral code")
	}

	referrer, err := s.users.FindByID(ctx, referrerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, apperrors.NewNotFoundError("referral code")
		}
		return 0, apperrors.NewDatabaseError(err)
	}
	if referrer.ReferredBy != nil && *referrer.ReferredBy == userID {
		return 0, apperrors.NewValidationError("you cannot use the code of a user you invited")
	}

	ok, err := s.users.SetReferrer(ctx, userID, referrerID)
	if err != nil {
		return 0, apperrors.NewDatabaseError(err)
	}
	if !ok {
		return 0, apperrors.NewConflictError("referrer is already set")
	}

	if s.signupBonus > 0 {
		if _, err := s.users.AddCredits(ctx, userID, s.signupBonus); err != nil {
			s.log.ErrorContext(ctx, "failed to grant signup bonus", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}

	s.log.InfoContext(ctx, "referral applied", slog.Int64("user_id", userID), slog.Int64("referrer_id", referrerID))
	return referrerID, nil
}

// Accrue credits the payer's referrer with a share of the payment. It returns nil when
// the payer has no referrer, the reward rounds to zero or the payment was already rewarded.
func (s *Service) Accrue(ctx context.Context, p *domain.Payment) (*domain.ReferralEarning, error) {
	if s.rewardPercent <= 0 || p.Amount <= 0 {
		return nil, nil
	}

	payer, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if payer.ReferredBy == nil || *payer.ReferredBy == payer.ID {
		return nil, nil
	}

	reward := p.Amount * int64(s.rewardPercent) / 100
	if reward <= 0 {
		return nil, nil
	}

	earning := &domain.ReferralEarning{
		ReferrerID: *payer.ReferredBy,
		ReferredID: payer.ID,
		PaymentID:  p.ID,
		Amount:     reward,
		Percent:    s.rewardPercent,
	}

	created, err := s.referrals.InsertEarning(ctx, earning)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if !created {
		return nil, nil
	}

	if err := s.referrals.AddBalance(ctx, earning.ReferrerID, reward); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	s.log.InfoContext(ctx, "referral reward accrued",
		slog.Int64("referrer_id", earning.ReferrerID),
		slog.Int64("payment_id", p.ID),
		slog.Int64("amount", reward),
	)
	return earning, nil
}

func (s *Service) Stats(ctx context.Context, userID int64) (*domain.ReferralStats, error) {
	code, err := s.Code(ctx, userID)
	if err != nil {
		return nil, err
	}

	invited, err := s.users.CountReferred(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	balance, err := s.referrals.Balance(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	return &domain.ReferralStats{
		Code:         code,
		Link:         s.Link(code),
		InvitedCount: invited,
		Balance:      balance.Balance,
		TotalEarned:  balance.TotalEarned,
	}, nil
}

func (s *Service) Earnings(ctx context.Context, userID int64, page repository.Page) ([]domain.ReferralEarning, error) {
	earnings, err := s.referrals.ListEarnings(ctx, userID, page)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return earnings, nil
}

// Link builds the bot deep link carrying the code, or "" when the bot username is unknown.
func (s *Service) Link(code string) string {
	if s.botUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=%s%s", s.botUsername, CodePrefix, code)
}

// NormalizeCode strips the deep link prefix and upper-cases the code.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, CodePrefix)
	return strings.ToUpper(code)
}

func generateCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)

	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
