package domain

import "time"

type ReferralCode struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralBalance tracks rewards in minor currency units.
type ReferralBalance struct {
	UserID      int64     `json:"user_id"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReferralEarning is the reward accrued to a referrer for one payment.
type ReferralEarning struct {
	ID         int64     `json:"id"`
	ReferrerID int64     `json:"referrer_id"`
	ReferredID int64     `json:"referred_id"`
	PaymentID  int64     `json:"payment_id"`
	Amount     int64     `json:"amount"`
	Percent    int       `json:"percent"`
	CreatedAt  time.Time `json:"created_at"`
}

type ReferralStats struct {
	Code         string `json:"code"`
	Link         string `json:"link,omitempty"`
	InvitedCount int    `json:"invited_count"`
	Balance      int64  `json:"balance"`
	TotalEarned  int64  `json:"total_earned"`
}
