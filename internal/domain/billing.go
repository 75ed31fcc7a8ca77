package domain

import (
	"fmt"
	"time"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
)

const ProviderYooKassa = "yookassa"

// Payment is a credit package purchase. Amounts are in minor currency units.
type Payment struct {
	ID                int64         `json:"id"`
	UserID            int64         `json:"user_id"`
	Provider          string        `json:"provider"`
	ProviderPaymentID string        `json:"provider_payment_id"`
	PackageID         string        `json:"package_id"`
	Credits           int           `json:"credits"`
	Amount            int64         `json:"amount"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	ConfirmationURL   string        `json:"confirmation_url,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CreditPackage is a purchasable bundle of generation credits.
type CreditPackage struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Credits int    `json:"credits"`
	Price   int64  `json:"price"`
}

// FormatMoney renders minor units as "299.00 RUB".
func FormatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}
