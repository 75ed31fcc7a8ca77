package kie

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/pkg/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewClient(config.KIEConfig{
		BaseURL:      srv.URL,
		APIKey:       "key",
		Model:        "google/nano-banana-edit",
		BreakerLimit: 100,
	}, nil)
}

func TestCreateTask(t *testing.T) {
	var payload map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, createTaskPath, r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &payload))
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task_1"}}`))
	})

	id, err := c.CreateTask(context.Background(), TaskInput{
		Prompt:      "portrait in a forest",
		ImageURLs:   []string{"https://cdn/ref.jpg"},
		AspectRatio: "3:4",
		CallbackURL: "https://app/api/webhooks/kie",
	})
	require.NoError(t, err)
	assert.Equal(t, "task_1", id)

	assert.Equal(t, "google/nano-banana-edit", payload["model"])
	assert.Equal(t, "https://app/api/webhooks/kie", payload["callBackUrl"])
	input := payload["input"].(map[string]any)
	assert.Equal(t, "portrait in a forest", input["prompt"])
	assert.Equal(t, "3:4", input["image_size"])
	assert.Equal(t, "png", input["output_format"])
	assert.Len(t, input["image_urls"], 1)
}

func TestCreateTaskProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":402,"msg":"insufficient balance"}`))
	})

	_, err := c.CreateTask(context.Background(), TaskInput{Prompt: "x"})
	require.Error(t, err)

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeExternalAPI, appErr.Code)
	assert.False(t, appErr.Retryable)
}

func TestGetTaskStates(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantState State
		wantURLs  []string
		wantFail  string
	}{
		{
			name:      "generating",
			body:      `{"code":200,"data":{"taskId":"t","state":"generating"}}`,
			wantState: StateGenerating,
		},
		{
			name:      "success",
			body:      `{"code":200,"data":{"taskId":"t","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/a.png\",\"https://cdn/b.png\"]}"}}`,
			wantState: StateSuccess,
			wantURLs:  []string{"https://cdn/a.png", "https://cdn/b.png"},
		},
		{
			name:      "fail",
			body:      `{"code":200,"data":{"taskId":"t","state":"fail","failCode":"500","failMsg":"nsfw"}}`,
			wantState: StateFail,
			wantFail:  "nsfw",
		},
		{
			name:      "success without urls",
			body:      `{"code":200,"data":{"taskId":"t","state":"success","resultJson":"{\"resultUrls\":[]}"}}`,
			wantState: StateFail,
			wantFail:  "no result urls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, recordInfoPath, r.URL.Path)
				assert.Equal(t, "t", r.URL.Query().Get("taskId"))
				_, _ = w.Write([]byte(tt.body))
			})

			info, err := c.GetTask(context.Background(), "t")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, info.State)
			assert.Equal(t, tt.wantURLs, info.ResultURLs)
			assert.Equal(t, tt.wantFail, info.FailMsg)
		})
	}
}

func TestGetTaskRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"taskId":"t","state":"queuing"}}`))
	})

	info, err := c.GetTask(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, StateQueuing, info.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetTaskDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetTask(context.Background(), "t")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseCallback(t *testing.T) {
	info, err := ParseCallback([]byte(`{"code":200,"msg":"ok","data":{"taskId":"t9","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/x.png\"]}"}}`))
	require.NoError(t, err)
	assert.Equal(t, "t9", info.TaskID)
	assert.Equal(t, []string{"https://cdn/x.png"}, info.ResultURLs)

	info, err = ParseCallback([]byte(`{"code":501,"msg":"generation failed","data":{"taskId":"t9"}}`))
	require.NoError(t, err)
	assert.Equal(t, StateFail, info.State)
	assert.Equal(t, "generation failed", info.FailMsg)

	_, err = ParseCallback([]byte(`{"code":200,"data":{}}`))
	assert.Error(t, err)

	_, err = ParseCallback([]byte(`not json`))
	assert.Error(t, err)
}

func TestStateFinished(t *testing.T) {
	assert.True(t, StateSuccess.Finished())
	assert.True(t, StateFail.Finished())
	assert.False(t, StateWaiting.Finished())
}
