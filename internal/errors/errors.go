// Package errors defines the application error taxonomy shared by HTTP, bot and job handlers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error codes.
const (
	CodeValidation          = "E100"
	CodeNotFound            = "E110"
	CodeConflict            = "E120"
	CodeUnauthorized        = "E130"
	CodeInsufficientCredits = "E140"
	CodeDatabase            = "E200"
	CodeExternalAPI         = "E300"
	CodeState               = "E400"
	CodeRateLimit           = "E500"
)

const defaultUserMessage = "Произошла ошибка. Попробуйте позже"

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	Status      int
	// RetryAfter is set on rate limit errors, in seconds.
	RetryAfter int
	cause      error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("Неверный формат данных. %s", msg),
		Severity:    SeverityLow,
		Status:      http.StatusBadRequest,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:        CodeNotFound,
		Message:     resource + " not found",
		UserMessage: "Не найдено",
		Severity:    SeverityLow,
		Status:      http.StatusNotFound,
	}
}

func NewConflictError(msg string) *AppError {
	return &AppError{
		Code:        CodeConflict,
		Message:     msg,
		UserMessage: "Операция уже выполнена",
		Severity:    SeverityLow,
		Status:      http.StatusConflict,
	}
}

func NewUnauthorizedError(msg string) *AppError {
	return &AppError{
		Code:        CodeUnauthorized,
		Message:     msg,
		UserMessage: "Доступ запрещён",
		Severity:    SeverityMedium,
		Status:      http.StatusUnauthorized,
	}
}

func NewInsufficientCreditsError(required, available int) *AppError {
	return &AppError{
		Code:        CodeInsufficientCredits,
		Message:     fmt.Sprintf("insufficient credits: need %d, have %d", required, available),
		UserMessage: "Недостаточно кредитов. Пополните баланс командой /buy",
		Severity:    SeverityLow,
		Status:      http.StatusPaymentRequired,
	}
}

func NewDatabaseError(cause error) *AppError {
	return &AppError{
		Code:        CodeDatabase,
		Message:     "database error",
		UserMessage: "Временная проблема, попробуйте позже",
		Severity:    SeverityHigh,
		Retryable:   true,
		Status:      http.StatusInternalServerError,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("external API error: %s", apiName),
		UserMessage: "Сервис временно недоступен",
		Severity:    SeverityMedium,
		Retryable:   true,
		Status:      http.StatusBadGateway,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "Операция невозможна в текущем состоянии",
		Severity:    SeverityMedium,
		Status:      http.StatusConflict,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Слишком много запросов. Попробуйте через %d секунд", retryAfter),
		Severity:    SeverityLow,
		Status:      http.StatusTooManyRequests,
		RetryAfter:  retryAfter,
	}
}

// NonRetryable returns a copy of err that WithRetry will not repeat.
func NonRetryable(err *AppError) *AppError {
	if err == nil {
		return nil
	}
	copied := *err
	copied.Retryable = false
	return &copied
}

// As extracts an AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus maps err to a response status; anything unknown is a 500.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether err is caused by the caller rather than the service.
func IsClientError(err error) bool {
	status := HTTPStatus(err)
	return status >= 400 && status < 500
}
