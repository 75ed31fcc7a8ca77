// Package payment sells credit packages through YooKassa.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/pkg/config"
)

const apiName = "yookassa"

const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"

	EventSucceeded = "payment.succeeded"
	EventCanceled  = "payment.canceled"
)

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// ProviderPayment is the payment object returned by the YooKassa API and sent in notifications.
type ProviderPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Description  string            `json:"description,omitempty"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Notification is the body of a YooKassa webhook.
type Notification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object ProviderPayment `json:"object"`
}

// CreateRequest describes a new payment; Amount is in minor units.
type CreateRequest struct {
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

type createPaymentBody struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.YooKassaConfig, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		httpClient: httpClient,
		log:        log.With(slog.String("component", "yookassa")),
	}
}

// CreatePayment registers a payment with redirect confirmation and immediate capture.
func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (*ProviderPayment, error) {
	if c.shopID == "" || c.secretKey == "" {
		return nil, apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName, fmt.Errorf("credentials are not configured")))
	}

	body := createPaymentBody{
		Amount:  Amount{Value: FormatAmount(req.Amount), Currency: req.Currency},
		Capture: true,
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Description: req.Description,
		Metadata:    req.Metadata,
	}

	var out ProviderPayment
	if err := c.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.Confirmation == nil || out.Confirmation.ConfirmationURL == "" {
		return nil, apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName, fmt.Errorf("response without id or confirmation url")))
	}

	c.log.InfoContext(ctx, "payment created", slog.String("payment_id", out.ID), slog.String("amount", out.Amount.Value))
	return &out, nil
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*ProviderPayment, error) {
	var out ProviderPayment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", apiName, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", apiName, err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := apperrors.NewExternalAPIError(apiName, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return apiErr
		}
		return apperrors.NonRetryable(apiErr)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName, fmt.Errorf("decode response: %w", err)))
	}
	return nil
}

// FormatAmount renders minor units as the decimal string YooKassa expects.
func FormatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// ParseAmount converts a decimal amount like "299.00" into minor units.
func ParseAmount(value string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(value), ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", value)
	}
	frac += strings.Repeat("0", 2-len(frac))

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("parse amount %q: bad whole part", value)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("parse amount %q: bad fraction", value)
	}
	return units*100 + cents, nil
}
