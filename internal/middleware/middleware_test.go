package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/i18n"
	"github.com/Proton-105/photostudio/internal/idempotency"
)

type fakeContext struct {
	telebot.Context

	update   telebot.Update
	sender   *telebot.User
	message  *telebot.Message
	callback *telebot.Callback
	store    map[string]any

	sent      []any
	responses []*telebot.CallbackResponse
}

func (f *fakeContext) Update() telebot.Update      { return f.update }
func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Message() *telebot.Message   { return f.message }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Get(key string) any          { return f.store[key] }

func (f *fakeContext) Text() string {
	if f.message == nil {
		return ""
	}
	return f.message.Text
}

func (f *fakeContext) Send(what any, _ ...any) error {
	f.sent = append(f.sent, what)
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	f.responses = append(f.responses, resp...)
	return nil
}

func textContext(text string) *fakeContext {
	return &fakeContext{
		sender:  &telebot.User{ID: 100, LanguageCode: "en"},
		message: &telebot.Message{ID: 5, Text: text, Chat: &telebot.Chat{ID: 100}},
		store:   map[string]any{},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type managerMock struct {
	mock.Mock
}

func (m *managerMock) Execute(ctx context.Context, key string, ttl time.Duration, fn idempotency.Operation) (*idempotency.Result, error) {
	args := m.Called(ctx, key, ttl)
	if args.Bool(2) {
		_, err := fn(ctx)
		if err != nil {
			return nil, err
		}
	}
	res, _ := args.Get(0).(*idempotency.Result)
	return res, args.Error(1)
}

func TestIdempotencyRunsHandlerOnce(t *testing.T) {
	m := &managerMock{}
	key := idempotency.GenerateKey("telegram", "msg:100:5")
	m.On("Execute", mock.Anything, key, updateKeyTTL).Return(&idempotency.Result{}, nil, true).Once()
	m.On("Execute", mock.Anything, key, updateKeyTTL).Return(&idempotency.Result{FromCache: true}, nil, false).Once()

	calls := 0
	h := Idempotency(m, discardLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, h(textContext("/start")))
	require.NoError(t, h(textContext("/start")))
	assert.Equal(t, 1, calls)
	m.AssertExpectations(t)
}

func TestIdempotencySwallowsInProgress(t *testing.T) {
	m := &managerMock{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil, idempotency.ErrRequestInProgress, false)

	h := Idempotency(m, discardLogger())(func(telebot.Context) error { return nil })
	assert.NoError(t, h(textContext("/buy")))
}

func TestIdempotencyPropagatesHandlerError(t *testing.T) {
	m := &managerMock{}
	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil, true)

	boom := errors.New("boom")
	h := Idempotency(m, discardLogger())(func(telebot.Context) error { return boom })
	assert.ErrorIs(t, h(textContext("/buy")), boom)
}

func TestUpdateKey(t *testing.T) {
	withUpdate := textContext("hi")
	withUpdate.update = telebot.Update{ID: 9001}

	tests := []struct {
		name string
		ctx  telebot.Context
		want string
	}{
		{name: "update id wins", ctx: withUpdate, want: "upd:9001"},
		{name: "message", ctx: textContext("hi"), want: "msg:100:5"},
		{name: "callback", ctx: &fakeContext{callback: &telebot.Callback{ID: "abc"}}, want: "cb:abc"},
		{name: "nothing to key on", ctx: &fakeContext{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := updateKey(tt.ctx)
			assert.Equal(t, tt.want, key)
			assert.Equal(t, tt.want != "", ok)
		})
	}
}

func TestIdempotencyPassesThroughUnkeyedUpdates(t *testing.T) {
	m := &managerMock{}

	calls := 0
	h := Idempotency(m, discardLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, h(&fakeContext{}))
	assert.Equal(t, 1, calls)
	m.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

type limiterMock struct {
	mock.Mock
}

func (m *limiterMock) AllowMessage(ctx context.Context, telegramID int64) error {
	return m.Called(ctx, telegramID).Error(0)
}

func testTranslations(t *testing.T) *i18n.Manager {
	t.Helper()

	fsys := fstest.MapFS{
		"en.yaml": {Data: []byte("en:\n  ratelimit:\n    exceeded: \"Slow down, retry in %d s\"\n")},
	}
	m, err := i18n.LoadFS(fsys, ".", "en")
	require.NoError(t, err)
	return m
}

func TestRateLimitBlocksWithLocalizedMessage(t *testing.T) {
	limiter := &limiterMock{}
	limiter.On("AllowMessage", mock.Anything, int64(100)).Return(apperrors.NewRateLimitError(30))

	called := false
	h := RateLimit(limiter, testTranslations(t), discardLogger())(func(telebot.Context) error {
		called = true
		return nil
	})

	c := textContext("/generate")
	require.NoError(t, h(c))
	assert.False(t, called)
	assert.Equal(t, []any{"Slow down, retry in 30 s"}, c.sent)
}

func TestRateLimitPassesOnOtherErrors(t *testing.T) {
	limiter := &limiterMock{}
	limiter.On("AllowMessage", mock.Anything, int64(100)).Return(errors.New("redis down")).Once()
	limiter.On("AllowMessage", mock.Anything, int64(100)).Return(nil).Once()

	calls := 0
	h := RateLimit(limiter, testTranslations(t), discardLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, h(textContext("a")))
	require.NoError(t, h(textContext("b")))
	assert.Equal(t, 2, calls)
}

func TestExtractCommandName(t *testing.T) {
	assert.Equal(t, "/start", extractCommandName(textContext("/start@photostudio_bot ref_X")))
	assert.Equal(t, "text", extractCommandName(textContext("a cat in a hat")))
	assert.Equal(t, "cb:lang", extractCommandName(&fakeContext{callback: &telebot.Callback{Data: "lang:en"}}))

	photo := textContext("")
	photo.message.Photo = &telebot.Photo{}
	assert.Equal(t, "photo", extractCommandName(photo))
}

func TestHTTPMiddlewaresPassThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger(discardLogger()), HTTPMetrics)
	r.Get("/api/tasks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/5", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRequestLoggerLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	log := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "path=/healthz")
	assert.Contains(t, string(out), "level=ERROR")
	assert.Contains(t, string(out), "status=502")
}
