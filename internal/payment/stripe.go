package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mpowerio/checkout-api/internal/obs"
	"github.com/mpowerio/checkout-api/internal/resilience"
)

// SessionIDPlaceholder is substituted by the provider with the real session
// identifier when redirecting back to the success URL.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// Stripe implements Provider against the Stripe Checkout Sessions API.
type Stripe struct {
	SecretKey string
	BaseURL   string
	HTTP      resilience.HTTPClient
}

// NewStripe constructs a Stripe provider with a retrying, traced HTTP client.
func NewStripe(secretKey, baseURL string, timeout time.Duration, maxAttempts int, baseBackoff time.Duration) Stripe {
	return Stripe{
		SecretKey: secretKey,
		BaseURL:   baseURL,
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("stripe"),
			Timeout:     timeout,
			MaxAttempts: maxAttempts,
			BaseBackoff: baseBackoff,
			Jitter:      0.2,
		},
	}
}

type stripeSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	ExpiresAt int64  `json:"expires_at"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CreateSession issues a checkout session creation call. Transport failures
// and 5xx responses are retried with backoff by the underlying client and
// surface as ErrUnavailable; explicit provider refusals surface as
// RejectedError and are never retried.
func (s Stripe) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(s.SecretKey) == "" {
		return Session{}, errors.New("payment: stripe secret key not configured")
	}
	if strings.TrimSpace(req.PriceRef) == "" {
		return Session{}, errors.New("payment: price reference is required")
	}

	start := time.Now()
	result := "unavailable"
	defer func() {
		if obs.ProviderAttemptTotal != nil {
			obs.ProviderAttemptTotal.WithLabelValues(result).Inc()
		}
		if obs.ProviderCallLatency != nil {
			obs.ProviderCallLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	form := s.buildForm(req)
	endpoint := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/") + "/v1/checkout/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := s.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		var session stripeSession
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return Session{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		if session.ID == "" || session.URL == "" {
			return Session{}, fmt.Errorf("%w: provider returned incomplete session", ErrUnavailable)
		}
		result = "success"
		return Session{
			ID:        session.ID,
			URL:       session.URL,
			Status:    session.Status,
			ExpiresAt: session.ExpiresAt,
		}, nil
	}

	result = "rejected"
	var stripeErr stripeError
	if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil || stripeErr.Error.Message == "" {
		return Session{}, &RejectedError{Message: "payment processing error"}
	}
	return Session{}, &RejectedError{Message: stripeErr.Error.Message}
}

func (s Stripe) buildForm(req SessionRequest) url.Values {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	mode := req.Mode
	if mode != "subscription" {
		mode = "payment"
	}

	form := url.Values{}
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price]", req.PriceRef)
	form.Set("line_items[0][quantity]", strconv.Itoa(quantity))
	form.Set("mode", mode)
	form.Set("success_url", withSessionPlaceholder(req.SuccessURL))
	form.Set("cancel_url", req.CancelURL)
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		form.Set("customer_email", email)
	}
	form.Set("metadata[customer_name]", req.CustomerName)
	form.Set("metadata[company]", req.Company)
	return form
}

func withSessionPlaceholder(successURL string) string {
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id=" + SessionIDPlaceholder
}
