package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/idempotency"
	"github.com/Proton-105/photostudio/pkg/logger"
	"github.com/Proton-105/photostudio/pkg/metrics"
)

const (
	sourceQStash   = "qstash"
	sourceKIE      = "kie"
	sourceYooKassa = "yookassa"

	headerQStashSignature = "Upstash-Signature"
	headerQStashMessageID = "Upstash-Message-Id"
)

// Webhook results, used as the metrics label and the response status.
const (
	resultProcessed = "processed"
	resultDuplicate = "duplicate"
	resultSkipped   = "skipped"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

type webhookResponse struct {
	Status string `json:"status"`
}

// handleQStash processes a scheduled message at most once per Upstash message id.
// A failed handler releases the id and answers 500 so QStash retries; a
// permanent client error keeps the id and answers 200 so it does not.
func (s *Server) handleQStash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID := strings.TrimSpace(r.Header.Get(headerQStashMessageID))

	body, err := readBody(w, r)
	if err != nil {
		s.rejectWebhook(w, r, sourceQStash, messageID, body, http.StatusBadRequest, err)
		return
	}

	if err := s.Verifier.Verify(r.Header.Get(headerQStashSignature), body); err != nil {
		s.rejectWebhook(w, r, sourceQStash, messageID, body, http.StatusUnauthorized, err)
		return
	}

	if messageID == "" {
		s.rejectWebhook(w, r, sourceQStash, messageID, body, http.StatusBadRequest, errors.New("missing message id"))
		return
	}

	var msg generation.PollMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.Type != generation.MessageTypePoll || msg.TaskID <= 0 {
		s.rejectWebhook(w, r, sourceQStash, messageID, body, http.StatusBadRequest, fmt.Errorf("unsupported message %q", msg.Type))
		return
	}

	result := resultProcessed
	duplicate, err := idempotency.Once(ctx, s.Messages, messageID, sourceQStash, s.log, func(ctx context.Context) error {
		err := s.Generation.Poll(ctx, msg.TaskID)
		if err != nil && apperrors.IsClientError(err) {
			s.log.WarnContext(ctx, "poll message dropped", slog.String("message_id", messageID), slog.Int64("task_id", msg.TaskID), slog.Any("error", err))
			result = resultSkipped
			return nil
		}
		return err
	})
	if duplicate {
		result = resultDuplicate
	}
	if err != nil {
		s.failWebhook(w, r, sourceQStash, messageID, body, err)
		return
	}

	s.recordDelivery(ctx, sourceQStash, messageID, http.StatusOK, body, nil, result)
	writeJSON(w, http.StatusOK, webhookResponse{Status: result})
}

func (s *Server) handleKIECallback(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.rejectWebhook(w, r, sourceKIE, "", body, http.StatusBadRequest, err)
		return
	}

	if err := s.Generation.HandleCallback(r.Context(), body); err != nil {
		if apperrors.IsClientError(err) {
			s.rejectWebhook(w, r, sourceKIE, "", body, apperrors.HTTPStatus(err), err)
			return
		}
		s.failWebhook(w, r, sourceKIE, "", body, err)
		return
	}

	s.recordDelivery(r.Context(), sourceKIE, "", http.StatusOK, body, nil, resultProcessed)
	writeJSON(w, http.StatusOK, webhookResponse{Status: resultProcessed})
}

func (s *Server) handleYooKassa(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.rejectWebhook(w, r, sourceYooKassa, "", body, http.StatusBadRequest, err)
		return
	}

	if err := s.Payments.HandleWebhook(r.Context(), body); err != nil {
		if apperrors.IsClientError(err) {
			s.rejectWebhook(w, r, sourceYooKassa, "", body, apperrors.HTTPStatus(err), err)
			return
		}
		s.failWebhook(w, r, sourceYooKassa, "", body, err)
		return
	}

	s.recordDelivery(r.Context(), sourceYooKassa, "", http.StatusOK, body, nil, resultProcessed)
	writeJSON(w, http.StatusOK, webhookResponse{Status: resultProcessed})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		return body, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (s *Server) rejectWebhook(w http.ResponseWriter, r *http.Request, source, messageID string, body []byte, status int, err error) {
	s.log.WarnContext(r.Context(), "webhook rejected",
		slog.String("source", source),
		slog.String("message_id", messageID),
		slog.Int("status", status),
		slog.Any("error", err),
	)
	s.recordDelivery(r.Context(), source, messageID, status, body, err, resultRejected)
	writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
}

// failWebhook answers 500 whatever the error class, so the sender retries and
// webhook_logs records the status that was actually sent.
func (s *Server) failWebhook(w http.ResponseWriter, r *http.Request, source, messageID string, body []byte, err error) {
	logger.FromContext(r.Context(), s.log).Error("webhook delivery failed",
		slog.String("source", source),
		slog.String("message_id", messageID),
		slog.Any("error", err),
	)
	s.recordDelivery(r.Context(), source, messageID, http.StatusInternalServerError, body, err, resultFailed)

	resp := errorResponse{Error: genericError}
	if appErr, ok := apperrors.As(err); ok {
		resp.Code = appErr.Code
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

// recordDelivery writes the webhook_logs row. It must not fail the delivery.
func (s *Server) recordDelivery(ctx context.Context, source, messageID string, status int, body []byte, deliveryErr error, result string) {
	metrics.RecordWebhook(source, result)

	if s.WebhookLogs == nil {
		return
	}

	entry := &domain.WebhookLog{
		Source:     source,
		MessageID:  messageID,
		StatusCode: status,
		Payload:    string(body),
	}
	if deliveryErr != nil {
		entry.Error = deliveryErr.Error()
	}

	if err := s.WebhookLogs.Insert(context.WithoutCancel(ctx), entry); err != nil {
		s.log.WarnContext(ctx, "failed to record webhook delivery", slog.String("source", source), slog.Any("error", err))
	}
}
