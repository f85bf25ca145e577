package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mpowerio/checkout-api/internal/catalog"
	"github.com/mpowerio/checkout-api/internal/common"
	"github.com/mpowerio/checkout-api/internal/idempotency"
	"github.com/mpowerio/checkout-api/internal/obs"
	"github.com/mpowerio/checkout-api/internal/payment"
)

// Request is an inbound purchase intent.
type Request struct {
	OfferingID     string `json:"offeringId" validate:"required,max=100"`
	CustomerEmail  string `json:"customerEmail" validate:"required,email"`
	CustomerName   string `json:"customerName" validate:"omitempty,max=200"`
	Company        string `json:"company" validate:"omitempty,max=200"`
	SuccessURL     string `json:"successUrl" validate:"required,url"`
	CancelURL      string `json:"cancelUrl" validate:"required,url"`
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=255"`
}

// Session is the gateway's view of a provider checkout session.
type Session struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// AuditEntry records the outcome of a session attempt. The buyer email is
// stored only as a truncated digest.
type AuditEntry struct {
	OfferingID string
	EmailHash  string
	Outcome    string
	RequestID  string
}

// AuditRecorder persists audit entries. Implementations must tolerate a nil
// receiver being skipped entirely.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Service orchestrates checkout session creation: validation, offering
// resolution, idempotency claim, provider call and response mapping.
type Service struct {
	Registry       *catalog.Registry
	Provider       payment.Provider
	Idem           idempotency.Store
	Validate       *validator.Validate
	AllowedOrigins []string
	Audit          AuditRecorder
	Logger         zerolog.Logger
}

// CreateSession implements the gateway contract. Validation and resolution
// failures never reach the provider; provider failures are classified per the
// error taxonomy and never leak upstream internals.
func (s *Service) CreateSession(ctx context.Context, req Request) (Session, error) {
	if s == nil || s.Registry == nil || s.Provider == nil {
		return Session{}, errors.New("checkout service not configured")
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.CreateSession")
	defer span.End()

	offeringLabel := normaliseLabel(req.OfferingID)
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("checkout.offering", offeringLabel),
			attribute.String("checkout.result", result),
		)
		if obs.CheckoutSessionTotal != nil {
			obs.CheckoutSessionTotal.WithLabelValues(offeringLabel, result).Inc()
		}
	}()

	// result doubles as the metric label and the audit outcome; keep one
	// vocabulary for both.
	if err := s.validate(req); err != nil {
		result = "invalid_request"
		s.record(ctx, req, result)
		return Session{}, err
	}

	offering, err := s.Registry.Resolve(req.OfferingID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotConfigured):
			result = "offering_not_configured"
			s.record(ctx, req, result)
			return Session{}, common.NewGatewayError(common.KindConfiguration,
				"this offering is not available for purchase", err)
		default:
			result = "unknown_offering"
			s.record(ctx, req, result)
			return Session{}, common.NewGatewayError(common.KindInvalidRequest,
				"unknown offering", err)
		}
	}

	key := ""
	if trimmed := strings.TrimSpace(req.IdempotencyKey); trimmed != "" {
		key = idempotency.Key(trimmed, offering.ID)
	}

	payload, replayed, err := s.Idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		session, err := s.callProvider(ctx, offering, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(session)
	})
	if err != nil {
		ge, ok := common.AsGatewayError(err)
		if !ok {
			ge = common.NewGatewayError(common.KindUpstreamUnavailable,
				"payment service is temporarily unavailable, please try again", err)
		}
		result = strings.ToLower(string(ge.Kind))
		s.record(ctx, req, result)
		span.RecordError(err)
		s.Logger.Error().Err(err).
			Str("offering", offeringLabel).
			Str("kind", string(ge.Kind)).
			Msg("create checkout session failed")
		return Session{}, ge
	}
	if replayed {
		result = "replayed"
		if obs.IdempotentReplayTotal != nil {
			obs.IdempotentReplayTotal.Inc()
		}
	} else {
		result = "created"
	}
	s.record(ctx, req, result)

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, common.NewGatewayError(common.KindUpstreamUnavailable,
			"payment service is temporarily unavailable, please try again", err)
	}
	span.SetAttributes(attribute.String("checkout.session_id", session.ID))
	return session, nil
}

func (s *Service) callProvider(ctx context.Context, offering catalog.Offering, req Request) (Session, error) {
	mode := "payment"
	if offering.Mode == catalog.ModeRecurring {
		mode = "subscription"
	}
	resp, err := s.Provider.CreateSession(ctx, payment.SessionRequest{
		PriceRef:       offering.PriceRef,
		Quantity:       1,
		Mode:           mode,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		Company:        req.Company,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		var rejected *payment.RejectedError
		if errors.As(err, &rejected) {
			return Session{}, common.NewGatewayError(common.KindProviderRejected, rejected.Message, err)
		}
		return Session{}, common.NewGatewayError(common.KindUpstreamUnavailable,
			"payment service is temporarily unavailable, please try again", err)
	}
	return Session{
		ID:        resp.ID,
		URL:       resp.URL,
		Status:    resp.Status,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

func (s *Service) validate(req Request) error {
	if s.Validate != nil {
		if err := s.Validate.Struct(req); err != nil {
			return common.NewGatewayError(common.KindInvalidRequest, validationMessage(err), err)
		}
	}
	for _, raw := range []struct{ field, value string }{
		{"successUrl", req.SuccessURL},
		{"cancelUrl", req.CancelURL},
	} {
		if err := s.checkRedirectOrigin(raw.value); err != nil {
			return common.NewGatewayError(common.KindInvalidRequest,
				raw.field+" is not an allowed redirect target", err)
		}
	}
	return nil
}

// checkRedirectOrigin enforces the origin allow-list so the gateway cannot be
// used to bounce buyers to arbitrary hosts after payment.
func (s *Service) checkRedirectOrigin(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("redirect url must be absolute http(s)")
	}
	if parsed.Host == "" {
		return errors.New("redirect url missing host")
	}
	origin := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	for _, allowed := range s.AllowedOrigins {
		if normaliseOrigin(allowed) == origin {
			return nil
		}
	}
	return errors.New("redirect origin not in allow-list")
}

func (s *Service) record(ctx context.Context, req Request, outcome string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(ctx, AuditEntry{
		OfferingID: strings.TrimSpace(req.OfferingID),
		EmailHash:  common.RedactEmail(strings.ToLower(strings.TrimSpace(req.CustomerEmail))),
		Outcome:    outcome,
		RequestID:  middleware.GetReqID(ctx),
	})
}

func normaliseOrigin(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func validationMessage(err error) string {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return "invalid request"
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		field := fields[0]
		switch field.Tag() {
		case "required":
			return jsonFieldName(field.Field()) + " is required"
		case "email":
			return "customerEmail must be a valid email address"
		case "url":
			return jsonFieldName(field.Field()) + " must be a valid URL"
		default:
			return jsonFieldName(field.Field()) + " is invalid"
		}
	}
	return "invalid request"
}

func jsonFieldName(structField string) string {
	if structField == "" {
		return "request"
	}
	return strings.ToLower(structField[:1]) + structField[1:]
}
