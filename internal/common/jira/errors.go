package jira

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "jira-support-bot/internal/common/errors"
)

// Kind classifies a failed tracking system call.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindTimeout      Kind = "timeout"
	KindServerError  Kind = "server_error"
	KindUnreachable  Kind = "unreachable"
	KindRejected     Kind = "rejected"
)

var kindCodes = map[Kind]apperrors.ErrorCode{
	KindUnauthorized: apperrors.ErrCodeAPIUnauthorized,
	KindNotFound:     apperrors.ErrCodeAPINotFound,
	KindRateLimited:  apperrors.ErrCodeAPIRateLimited,
	KindTimeout:      apperrors.ErrCodeAPITimeout,
	KindServerError:  apperrors.ErrCodeAPIServerError,
	KindUnreachable:  apperrors.ErrCodeAPIUnreachable,
	KindRejected:     apperrors.ErrCodeAPIRejected,
}

// Code returns the application error code for the kind.
func (k Kind) Code() apperrors.ErrorCode {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return apperrors.ErrCodeInternal
}

// APIError is the only error type the client returns for a failed call.
type APIError struct {
	Kind       Kind
	Operation  string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "jira %s: %s", e.Operation, e.Kind)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an application error by code.
func (e *APIError) Is(target error) bool {
	std, ok := target.(*apperrors.StandardError)
	return ok && std.Code == e.Kind.Code()
}

// Standard converts to the application error taxonomy.
func (e *APIError) Standard() *apperrors.StandardError {
	return apperrors.NewAPIError(e.Kind.Code(), e.Operation, e.StatusCode, stderrors.New(e.Error()))
}

// AsAPIError extracts an *APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// classifyStatus maps a non-2xx response to an APIError.
func classifyStatus(operation string, status int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{
		Operation:  operation,
		StatusCode: status,
		Message:    errorMessage(body),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Kind = KindUnauthorized
	case status == http.StatusNotFound:
		apiErr.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		apiErr.Kind = KindRateLimited
		apiErr.RetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
	case status >= 500:
		apiErr.Kind = KindServerError
	default:
		apiErr.Kind = KindRejected
	}
	return apiErr
}

// classifyTransport maps a transport failure to an APIError.
func classifyTransport(ctx context.Context, operation string, err error) *APIError {
	kind := KindUnreachable

	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case stderrors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}

	return &APIError{Kind: kind, Operation: operation, Err: err}
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage pulls errorMessages/errors out of a Jira error body.
func errorMessage(body []byte) string {
	var envelope struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
		Message       string            `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}

	parts := append([]string{}, envelope.ErrorMessages...)
	fields := make([]string, 0, len(envelope.Errors))
	for field := range envelope.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		parts = append(parts, field+": "+envelope.Errors[field])
	}
	if envelope.Message != "" {
		parts = append(parts, envelope.Message)
	}
	return strings.Join(parts, "; ")
}
