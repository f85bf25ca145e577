package payment

import (
	"context"
	"errors"
	"fmt"
)

// SessionRequest captures the information required to open a hosted checkout
// session with a provider. PriceRef is always a configuration-resolved value.
type SessionRequest struct {
	PriceRef       string
	Quantity       int
	Mode           string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	CustomerName   string
	Company        string
	IdempotencyKey string
}

// Session represents the minimal information returned by a provider when
// creating a checkout session.
type Session struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// ErrUnavailable marks transport-level failures (timeout, connection refused,
// provider 5xx) that are safe to retry.
var ErrUnavailable = errors.New("payment: provider unavailable")

// RejectedError carries the provider's sanitized refusal message. Never retried.
type RejectedError struct {
	Message string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e == nil || e.Message == "" {
		return "payment: provider rejected the request"
	}
	return fmt.Sprintf("payment: provider rejected: %s", e.Message)
}

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
}
