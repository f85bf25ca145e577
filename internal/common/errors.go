package common

import (
	"errors"
	"net/http"
)

// Kind classifies a gateway failure for callers and for retry decisions.
type Kind string

const (
	// KindInvalidRequest marks malformed or unknown input. Never retried.
	KindInvalidRequest Kind = "INVALID_REQUEST"
	// KindConfiguration marks a deployment misconfiguration for the
	// requested offering. The gateway fails closed instead of forwarding
	// an unresolved price reference upstream.
	KindConfiguration Kind = "OFFERING_NOT_CONFIGURED"
	// KindUpstreamUnavailable marks a transient transport or provider
	// outage after retries are exhausted.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	// KindProviderRejected marks an explicit refusal by the payment
	// provider. The sanitized provider message is surfaced to the caller.
	KindProviderRejected Kind = "PROVIDER_REJECTED"
)

// GatewayError is an error with a stable kind and a caller-safe message.
// Provider internals and credentials never appear in Message.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus maps the error kind onto the wire status code.
func (e *GatewayError) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInvalidRequest, KindConfiguration:
		return http.StatusBadRequest
	case KindProviderRejected:
		return http.StatusPaymentRequired
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewGatewayError constructs a GatewayError.
func NewGatewayError(kind Kind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: err}
}

// AsGatewayError extracts a GatewayError from an error chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var target *GatewayError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
