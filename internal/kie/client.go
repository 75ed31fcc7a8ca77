// Package kie is a client for the kie.ai jobs API.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/pkg/config"
)

const (
	createTaskPath = "/api/v1/jobs/createTask"
	recordInfoPath = "/api/v1/jobs/recordInfo"

	apiName = "kie.ai"
)

type State string

const (
	StateWaiting    State = "waiting"
	StateQueuing    State = "queuing"
	StateGenerating State = "generating"
	StateSuccess    State = "success"
	StateFail       State = "fail"
)

// Finished reports whether the task reached success or fail.
func (s State) Finished() bool {
	return s == StateSuccess || s == StateFail
}

type TaskInput struct {
	Prompt      string
	ImageURLs   []string
	AspectRatio string
	CallbackURL string
}

type TaskInfo struct {
	TaskID     string
	State      State
	ResultURLs []string
	FailCode   string
	FailMsg    string
}

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	httpClient   *http.Client
	breaker      *apperrors.CircuitBreaker
	log          *slog.Logger
}

func NewClient(cfg config.KIEConfig, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	outputFormat := strings.ToLower(cfg.OutputFormat)
	if outputFormat == "" {
		outputFormat = "png"
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		outputFormat: outputFormat,
		httpClient:   &http.Client{Timeout: timeout},
		breaker: apperrors.NewCircuitBreaker(apperrors.BreakerSettings{
			MinRequests: cfg.BreakerLimit,
			OpenTimeout: cfg.BreakerReset,
		}),
		log: log.With(slog.String("component", "kie")),
	}
}

// Model returns the model name sent with every task.
func (c *Client) Model() string {
	return c.model
}

// CreateTask submits a generation task and returns kie.ai's task id.
// It is not retried: the API has no idempotency key and a retry could start a second paid task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (string, error) {
	input := map[string]any{
		"prompt":        in.Prompt,
		"output_format": c.outputFormat,
	}
	if len(in.ImageURLs) > 0 {
		input["image_urls"] = in.ImageURLs
	}
	if in.AspectRatio != "" {
		input["image_size"] = in.AspectRatio
	}

	payload := map[string]any{
		"model": c.model,
		"input": input,
	}
	if in.CallbackURL != "" {
		payload["callBackUrl"] = in.CallbackURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var resp struct {
		envelope
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}

	err = c.breaker.Call(func() error {
		return c.do(ctx, http.MethodPost, c.baseURL+createTaskPath, body, &resp)
	}, apperrors.IsRetryable)
	if err != nil {
		return "", err
	}

	if err := resp.check(); err != nil {
		return "", err
	}
	if resp.Data.TaskID == "" {
		return "", apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName, errors.New("empty taskId in response")))
	}

	c.log.InfoContext(ctx, "kie task created", slog.String("task_id", resp.Data.TaskID), slog.String("model", c.model))
	return resp.Data.TaskID, nil
}

// GetTask returns the current state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskInfo, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	endpoint := c.baseURL + recordInfoPath + "?" + params.Encode()

	var resp recordResponse
	err := apperrors.WithRetry(ctx, func() error {
		return c.breaker.Call(func() error {
			return c.do(ctx, http.MethodGet, endpoint, nil, &resp)
		}, apperrors.IsRetryable)
	})
	if err != nil {
		return nil, err
	}

	return resp.info()
}

// ParseCallback decodes the body kie.ai posts to callBackUrl.
func ParseCallback(body []byte) (*TaskInfo, error) {
	var resp recordResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewValidationError("invalid callback payload")
	}
	if resp.Data.TaskID == "" {
		return nil, apperrors.NewValidationError("callback without taskId")
	}

	// callbacks carry the provider's status code; a failed task still has a body worth reading
	if resp.Data.State == "" && resp.Code != http.StatusOK {
		resp.Data.State = StateFail
		if resp.Data.FailMsg == "" {
			resp.Data.FailMsg = resp.Msg
		}
	}

	return resp.info()
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e envelope) check() error {
	if e.Code == http.StatusOK {
		return nil
	}
	return apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName,
		fmt.Errorf("code=%d msg=%s", e.Code, e.Msg)))
}

type recordResponse struct {
	envelope
	Data struct {
		TaskID     string `json:"taskId"`
		State      State  `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailCode   string `json:"failCode"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

func (r recordResponse) info() (*TaskInfo, error) {
	info := &TaskInfo{
		TaskID:   r.Data.TaskID,
		State:    r.Data.State,
		FailCode: r.Data.FailCode,
		FailMsg:  r.Data.FailMsg,
	}

	if info.State != StateSuccess {
		return info, nil
	}

	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if r.Data.ResultJSON != "" {
		if err := json.Unmarshal([]byte(r.Data.ResultJSON), &result); err != nil {
			return nil, apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName, fmt.Errorf("parse resultJson: %w", err)))
		}
	}
	if len(result.ResultURLs) == 0 {
		info.State = StateFail
		info.FailMsg = "no result urls"
		return info, nil
	}

	info.ResultURLs = result.ResultURLs
	return info, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		c.log.ErrorContext(ctx, "kie request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("method", method),
			slog.String("body", truncateBody(raw)),
		)

		apiErr := apperrors.NewExternalAPIError(apiName, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncateBody(raw)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return apiErr
		}
		return apperrors.NonRetryable(apiErr)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NonRetryable(apperrors.NewExternalAPIError(apiName,
			fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(raw))))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
