package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/lifecycle"
	"github.com/Proton-105/photostudio/internal/qstash"
	"github.com/Proton-105/photostudio/pkg/config"
)

type fixture struct {
	handler  http.Handler
	users    *usersMock
	gen      *generationMock
	payments *paymentsMock
	messages *memoryMessages
	logs     *webhookLogsMock
	probes   *lifecycle.Probes
}

func newFixture(t *testing.T, verifyErr error) *fixture {
	t.Helper()

	cfg := config.Config{}
	cfg.Admin = config.AdminConfig{Username: "admin", Password: "secret"}
	cfg.Server.MaxUploadBytes = 1 << 10

	f := &fixture{
		users:    &usersMock{},
		gen:      &generationMock{},
		payments: &paymentsMock{},
		messages: newMemoryMessages(),
		logs:     &webhookLogsMock{},
		probes:   lifecycle.NewProbes(nil, nil),
	}
	f.handler = NewRouter(cfg, Deps{
		Users:       f.users,
		Generation:  f.gen,
		Payments:    f.payments,
		WebhookLogs: f.logs,
		Messages:    f.messages,
		Verifier:    verifierMock{err: verifyErr},
		Probes:      f.probes,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func qstashRequest(messageID string, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/qstash", strings.NewReader(body))
	req.Header.Set(headerQStashMessageID, messageID)
	req.Header.Set(headerQStashSignature, "token")
	return req
}

func pollBody(taskID int64) string {
	b, _ := json.Marshal(generation.PollMessage{Type: generation.MessageTypePoll, TaskID: taskID})
	return string(b)
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Status
}

func TestQStashDuplicateDeliveryIsNotReprocessed(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("Poll", mock.Anything, int64(42)).Return(nil).Once()

	first := f.do(qstashRequest("msg_1", pollBody(42)))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, resultProcessed, decodeStatus(t, first))

	second := f.do(qstashRequest("msg_1", pollBody(42)))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, resultDuplicate, decodeStatus(t, second))

	f.gen.AssertNumberOfCalls(t, "Poll", 1)
	require.Len(t, f.logs.logs, 2)
	assert.Equal(t, "msg_1", f.logs.logs[1].MessageID)
}

func TestQStashFailureReleasesMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("Poll", mock.Anything, int64(42)).Return(apperrors.NewDatabaseError(errors.New("conn reset"))).Once()
	f.gen.On("Poll", mock.Anything, int64(42)).Return(nil).Once()

	failed := f.do(qstashRequest("msg_2", pollBody(42)))
	assert.Equal(t, http.StatusInternalServerError, failed.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"E200"}`, failed.Body.String())

	retried := f.do(qstashRequest("msg_2", pollBody(42)))
	assert.Equal(t, http.StatusOK, retried.Code)
	assert.Equal(t, resultProcessed, decodeStatus(t, retried))
	f.gen.AssertNumberOfCalls(t, "Poll", 2)
}

func TestQStashUpstreamFailureAnswers500(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("Poll", mock.Anything, int64(43)).Return(apperrors.NewExternalAPIError("kie", errors.New("503 from upstream"))).Once()

	rec := f.do(qstashRequest("msg_4", pollBody(43)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"E300"}`, rec.Body.String())
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, rec.Code, f.logs.logs[0].StatusCode)
	assert.Empty(t, f.messages.seen)
}

func TestQStashClientErrorKeepsMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("Poll", mock.Anything, int64(7)).Return(apperrors.NewNotFoundError("task")).Once()

	rec := f.do(qstashRequest("msg_3", pollBody(7)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resultSkipped, decodeStatus(t, rec))

	again := f.do(qstashRequest("msg_3", pollBody(7)))
	assert.Equal(t, resultDuplicate, decodeStatus(t, again))
	f.gen.AssertNumberOfCalls(t, "Poll", 1)
}

func TestQStashRejections(t *testing.T) {
	tests := []struct {
		name      string
		verifyErr error
		messageID string
		body      string
		want      int
	}{
		{name: "bad signature", verifyErr: qstash.ErrInvalidSignature, messageID: "m", body: pollBody(1), want: http.StatusUnauthorized},
		{name: "missing message id", body: pollBody(1), want: http.StatusBadRequest},
		{name: "unknown type", messageID: "m", body: `{"type":"other","task_id":1}`, want: http.StatusBadRequest},
		{name: "garbage", messageID: "m", body: `not json`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.verifyErr)

			rec := f.do(qstashRequest(tt.messageID, tt.body))

			assert.Equal(t, tt.want, rec.Code)
			f.gen.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
			assert.Empty(t, f.messages.seen)
			require.Len(t, f.logs.logs, 1)
			assert.Equal(t, tt.want, f.logs.logs[0].StatusCode)
		})
	}
}

func TestYooKassaWebhook(t *testing.T) {
	f := newFixture(t, nil)
	f.payments.On("HandleWebhook", mock.Anything, []byte(`{"ok":1}`)).Return(nil)
	f.payments.On("HandleWebhook", mock.Anything, []byte(`{"bad":1}`)).Return(apperrors.NewValidationError("amount mismatch"))

	ok := f.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/yookassa", strings.NewReader(`{"ok":1}`)))
	assert.Equal(t, http.StatusOK, ok.Code)

	bad := f.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/yookassa", strings.NewReader(`{"bad":1}`)))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestKIECallbackFailureIs500(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("HandleCallback", mock.Anything, mock.Anything).Return(errors.New("boom"))

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/kie", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestGetUser(t *testing.T) {
	f := newFixture(t, nil)
	f.users.On("Get", mock.Anything, int64(5)).Return(&domain.User{ID: 5, Credits: 3}, nil)
	f.users.On("Get", mock.Anything, int64(6)).Return(nil, apperrors.NewNotFoundError("user"))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/users/5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var u domain.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, 3, u.Credits)

	missing := f.do(httptest.NewRequest(http.MethodGet, "/api/users/6", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)

	invalid := f.do(httptest.NewRequest(http.MethodGet, "/api/users/abc", nil))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestStartGeneration(t *testing.T) {
	f := newFixture(t, nil)
	req := generation.Request{UserID: 1, AvatarID: 2, Prompt: "office portrait"}
	f.gen.On("Start", mock.Anything, req).Return(&domain.GenerationTask{ID: 9, Status: domain.TaskProcessing}, nil).Once()
	f.gen.On("Start", mock.Anything, mock.Anything).Return(nil, apperrors.NewInsufficientCreditsError(1, 0))

	body, _ := json.Marshal(req)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/generations", bytes.NewReader(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	broke := f.do(httptest.NewRequest(http.MethodPost, "/api/generations", bytes.NewReader(body)))
	assert.Equal(t, http.StatusPaymentRequired, broke.Code)
	assert.Contains(t, broke.Body.String(), "E140")

	missing := f.do(httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"prompt":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestRateLimitedGenerationSetsRetryAfter(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("Start", mock.Anything, mock.Anything).Return(nil, apperrors.NewRateLimitError(12))

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"user_id":1,"avatar_id":2,"prompt":"x"}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
}

func TestUploadReferencePhoto(t *testing.T) {
	f := newFixture(t, nil)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	f.gen.On("AddReferenceUpload", mock.Anything, int64(3), int64(8), png, "image/png").
		Return(&domain.ReferencePhoto{ID: 1, AvatarID: 8}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("user_id", "3"))
	part, err := mw.CreateFormFile("file", "face.png")
	require.NoError(t, err)
	_, _ = part.Write(png)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/avatars/8/photos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := f.do(req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	f.gen.AssertExpectations(t)
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	f := newFixture(t, nil)
	f.users.On("List", mock.Anything, mock.Anything).Return([]domain.User{{ID: 1}}, 1, nil)

	anon := f.do(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil))
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.SetBasicAuth("admin", "secret")
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestAdminDeleteAvatarBypassesOwnership(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.On("GetAvatar", mock.Anything, int64(4)).Return(&domain.Avatar{ID: 4, UserID: 77}, nil)
	f.gen.On("DeleteAvatar", mock.Anything, int64(77), int64(4)).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/avatars/4", nil)
	req.SetBasicAuth("admin", "secret")
	rec := f.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	f.gen.AssertExpectations(t)
}

func TestProbes(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	require.NoError(t, f.probes.Drain(t.Context()))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestListPackages(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/packages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"currency":"RUB"`)
	assert.Contains(t, rec.Body.String(), `"starter"`)
}
