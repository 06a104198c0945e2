package depositapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNotFound     = errors.New("deposit not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind is a coarse error class used for retries and metrics labels.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
	KindCanceled     Kind = "canceled"
	KindUnauthorized Kind = "unauthorized"
	KindNotFound     Kind = "not_found"
	KindServer       Kind = "server"
	KindClient       Kind = "client"
	KindDecode       Kind = "decode"
	KindUnknown      Kind = "unknown"
)

// APIError is a non-200 answer from the deposit API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deposit api returned %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// DecodeError means the API answered 200 with a body we cannot use.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode deposit status: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return KindUnauthorized
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
			return KindServer
		case code >= 400:
			// the same request will be rejected again
			return KindClient
		}
		return KindUnknown
	}

	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return KindDecode
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// Retryable reports whether repeating the same request may succeed.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindNotFound, KindUnauthorized, KindClient, KindCanceled:
		return false
	}
	return err != nil
}
