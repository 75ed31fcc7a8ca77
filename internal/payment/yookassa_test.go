package payment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.YooKassaConfig{
		BaseURL:   srv.URL,
		ShopID:    "shop",
		SecretKey: "secret",
	}, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreatePayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)

		var body createPaymentBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "299.00", body.Amount.Value)
		assert.Equal(t, "RUB", body.Amount.Currency)
		assert.True(t, body.Capture)
		assert.Equal(t, "redirect", body.Confirmation.Type)
		assert.Equal(t, "7", body.Metadata["user_id"])

		_, _ = w.Write([]byte(`{"id":"pay-1","status":"pending","amount":{"value":"299.00","currency":"RUB"},
			"confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.ru/checkout/pay-1"}}`))
	})

	p, err := client.CreatePayment(context.Background(), CreateRequest{
		Amount:   29900,
		Currency: "RUB",
		Metadata: map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)
	assert.Equal(t, "https://yoomoney.ru/checkout/pay-1", p.Confirmation.ConfirmationURL)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error"}`))
			})

			_, err := client.GetPayment(context.Background(), "pay-1")
			require.Error(t, err)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestCreatePaymentWithoutCredentials(t *testing.T) {
	client := NewClient(config.YooKassaConfig{BaseURL: "http://127.0.0.1:1"}, nil, nil)

	_, err := client.CreatePayment(context.Background(), CreateRequest{Amount: 100, Currency: "RUB"})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestAmounts(t *testing.T) {
	assert.Equal(t, "299.00", FormatAmount(29900))
	assert.Equal(t, "0.05", FormatAmount(5))

	tests := map[string]int64{"299.00": 29900, "10": 1000, "1.5": 150, "0.01": 1}
	for in, want := range tests {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "abc", "1.234", "-1.00", "1.-5"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}
