package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited is returned when the shared rate limit state blocks a request.
	ErrRateLimited = errors.New("request blocked: rate limit critical")

	// ErrMalformedResponse is returned when a body is not a valid envelope.
	ErrMalformedResponse = errors.New("malformed response")
)

// Backend application status codes carried in the envelope.
const (
	StatusOK         = 0
	StatusNoMoreData = 10004
	StatusUnknown    = 19000
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and local rate limit blocks.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents requests that ran out of time.
	ErrorClassTimeout ErrorClass = "timeout"

	ErrorClassUnknown ErrorClass = "unknown"
)

// APIError is an HTTP level failure.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("giffun %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("giffun %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusError is a non-zero application status in an otherwise successful
// response.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("backend status %d", e.Status)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Msg)
}

// SessionExpired reports whether the status asks the user to log in again.
func (e *StatusError) SessionExpired() bool {
	return e.Status >= 10001 && e.Status <= 10003
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassTimeout:
		return true
	default:
		// 4xx responses repeat the same way on every attempt.
		return false
	}
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == 429:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnknown
	}
}

func classifyTransportError(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	var opErr *net.OpError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &urlErr) {
		return ErrorClassNetwork
	}
	return ErrorClassUnknown
}

// Classify buckets any error returned by the client.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrorClassRateLimit
	}
	return classifyTransportError(err)
}

// Describe turns err into a short user facing message.
func Describe(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.SessionExpired() {
			return "login expired, please log in again"
		}
		if statusErr.Msg != "" {
			return statusErr.Msg
		}
		return fmt.Sprintf("request failed with status %d", statusErr.Status)
	}

	switch Classify(err) {
	case "":
		return ""
	case ErrorClassNetwork:
		return "network connect error"
	case ErrorClassTimeout:
		return "network connect timeout"
	case ErrorClassRateLimit:
		return "too many requests, try again later"
	case ErrorClassClient, ErrorClassServer:
		var apiErr *APIError
		errors.As(err, &apiErr)
		return fmt.Sprintf("response code error: %d", apiErr.StatusCode)
	default:
		return "unknown error"
	}
}
