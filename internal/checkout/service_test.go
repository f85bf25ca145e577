package checkout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mpowerio/checkout-api/internal/catalog"
	"github.com/mpowerio/checkout-api/internal/checkout"
	"github.com/mpowerio/checkout-api/internal/common"
	"github.com/mpowerio/checkout-api/internal/idempotency"
	"github.com/mpowerio/checkout-api/internal/obs"
	"github.com/mpowerio/checkout-api/internal/payment"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	lastReq  payment.SessionRequest
	session  payment.Session
	err      error
	delay    time.Duration
	sequence []error
}

func (f *fakeProvider) CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	var err error
	if len(f.sequence) > 0 {
		err = f.sequence[0]
		f.sequence = f.sequence[1:]
	} else {
		err = f.err
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return payment.Session{}, ctx.Err()
		}
	}
	if err != nil {
		return payment.Session{}, err
	}
	return f.session, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) last() payment.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type captureAudit struct {
	mu      sync.Mutex
	entries []checkout.AuditEntry
}

func (c *captureAudit) Record(_ context.Context, entry checkout.AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	reg, err := catalog.NewRegistry([]catalog.Offering{
		{ID: "starter", Name: "Starter Package", UnitAmount: 75000, Currency: "usd", Mode: catalog.ModeOneTime, PriceRef: "price_starter_live"},
		{ID: "retainer", Name: "Monthly Retainer", UnitAmount: 200000, Currency: "usd", Mode: catalog.ModeRecurring, BillingPeriod: "month", PriceRef: "price_retainer_live"},
		{ID: "workshop", Name: "AI Workshop", UnitAmount: 50000, Currency: "usd", Mode: catalog.ModeOneTime, PriceRef: catalog.PlaceholderPriceRef},
	})
	require.NoError(t, err)
	return reg
}

func newService(t *testing.T, provider payment.Provider) *checkout.Service {
	t.Helper()
	return &checkout.Service{
		Registry:       testRegistry(t),
		Provider:       provider,
		Validate:       validator.New(),
		AllowedOrigins: []string{"https://mpowerio.ai"},
		Logger:         zerolog.Nop(),
	}
}

func validRequest() checkout.Request {
	return checkout.Request{
		OfferingID:    "starter",
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Ada Lovelace",
		Company:       "Analytical Engines",
		SuccessURL:    "https://mpowerio.ai/success.html",
		CancelURL:     "https://mpowerio.ai/pricing.html",
	}
}

func TestCreateSessionSuccess(t *testing.T) {
	provider := &fakeProvider{session: payment.Session{ID: "cs_1", URL: "https://checkout.stripe.com/pay/cs_1"}}
	svc := newService(t, provider)

	session, err := svc.CreateSession(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, "cs_1", session.ID)
	require.Equal(t, "https://checkout.stripe.com/pay/cs_1", session.URL)

	sent := provider.last()
	require.Equal(t, "price_starter_live", sent.PriceRef)
	require.Equal(t, "payment", sent.Mode)
	require.Equal(t, 1, sent.Quantity)
	require.Equal(t, "buyer@example.com", sent.CustomerEmail)
	require.Equal(t, "Ada Lovelace", sent.CustomerName)
	require.Equal(t, "Analytical Engines", sent.Company)
}

func TestCreateSessionRecurringUsesSubscriptionMode(t *testing.T) {
	provider := &fakeProvider{session: payment.Session{ID: "cs_2", URL: "https://checkout.stripe.com/pay/cs_2"}}
	svc := newService(t, provider)

	req := validRequest()
	req.OfferingID = "retainer"
	_, err := svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "subscription", provider.last().Mode)
	require.Equal(t, "price_retainer_live", provider.last().PriceRef)
}

func TestCreateSessionUnknownOffering(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(t, provider)

	req := validRequest()
	req.OfferingID = "price_attackercontrolled"
	_, err := svc.CreateSession(context.Background(), req)

	ge, ok := common.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, common.KindInvalidRequest, ge.Kind)
	require.Equal(t, 400, ge.HTTPStatus())
	require.Zero(t, provider.callCount(), "unknown offering must never reach the provider")
}

func TestCreateSessionPlaceholderFailsClosed(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(t, provider)

	req := validRequest()
	req.OfferingID = "workshop"
	_, err := svc.CreateSession(context.Background(), req)

	ge, ok := common.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, common.KindConfiguration, ge.Kind)
	require.Equal(t, 400, ge.HTTPStatus())
	require.Zero(t, provider.callCount(), "unconfigured price reference must never reach the provider")
}

func TestCreateSessionInvalidEmail(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(t, provider)

	req := validRequest()
	req.CustomerEmail = "not-an-email"
	_, err := svc.CreateSession(context.Background(), req)

	ge, ok := common.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, common.KindInvalidRequest, ge.Kind)
	require.Contains(t, ge.Message, "customerEmail")
	require.Zero(t, provider.callCount())
}

func TestCreateSessionMissingFields(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(t, provider)

	_, err := svc.CreateSession(context.Background(), checkout.Request{})
	ge, ok := common.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, common.KindInvalidRequest, ge.Kind)
	require.Zero(t, provider.callCount())
}

func TestCreateSessionDisallowedRedirectOrigin(t *testing.T) {
	provider := &fakeProvider{}
	svc := newService(t, provider)

	for _, target := range []string{
		"https://evil.example.com/success.html",
		"http://mpowerio.ai.evil.example/success.html",
		"javascript://mpowerio.ai/%0aalert(1)",
	} {
		req := validRequest()
		req.SuccessURL = target
		_, err := svc.CreateSession(context.Background(), req)
		ge, ok := common.AsGatewayError(err)
		require.True(t, ok, "url %q should be rejected", target)
		require.Equal(t, common.KindInvalidRequest, ge.Kind)
	}
	require.Zero(t, provider.callCount())
}

func TestCreateSessionProviderRejection(t *testing.T) {
	provider := &fakeProvider{err: &payment.RejectedError{Message: "Your card was declined."}}
	svc := newService(t, provider)

	_, err := svc.CreateSession(context.Background(), validRequest())
	ge, ok := common.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, common.KindProviderRejected, ge.Kind)
	require.Equal(t, 402, ge.HTTPStatus())
	require.Equal(t, "Your card was declined.", ge.Message)
}

func TestCreateSessionProviderUnavailable(t *testing.T) {
	provider := &fakeProvider{err: payment.ErrUnavailable}
	svc := newService(t, provider)

	_, err := svc.CreateSession(context.Background(), validRequest())
	ge, ok := common.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, common.KindUpstreamUnavailable, ge.Kind)
	require.Equal(t, 502, ge.HTTPStatus())
	require.NotContains(t, ge.Message, "stripe", "caller-facing message must not leak provider internals")
}

func TestCreateSessionIdempotentReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &fakeProvider{session: payment.Session{ID: "cs_once", URL: "https://checkout.stripe.com/pay/cs_once"}}
	svc := newService(t, provider)
	svc.Idem = idempotency.Store{R: client, TTL: time.Minute, Lease: time.Second, PollBackoff: 5 * time.Millisecond}

	req := validRequest()
	req.IdempotencyKey = "order-42"

	first, err := svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.CreateSession(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, provider.callCount(), "replay must not call the provider again")
}

func TestCreateSessionIdempotencyKeyScopedToOffering(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &fakeProvider{session: payment.Session{ID: "cs_scoped", URL: "https://checkout.stripe.com/pay/cs_scoped"}}
	svc := newService(t, provider)
	svc.Idem = idempotency.Store{R: client, TTL: time.Minute, Lease: time.Second, PollBackoff: 5 * time.Millisecond}

	req := validRequest()
	req.IdempotencyKey = "order-43"
	_, err = svc.CreateSession(context.Background(), req)
	require.NoError(t, err)

	req.OfferingID = "retainer"
	_, err = svc.CreateSession(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, 2, provider.callCount(), "same key against another offering is a distinct purchase")
}

func TestCreateSessionConcurrentSameKey(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &fakeProvider{
		session: payment.Session{ID: "cs_race", URL: "https://checkout.stripe.com/pay/cs_race"},
		delay:   50 * time.Millisecond,
	}
	svc := newService(t, provider)
	svc.Idem = idempotency.Store{R: client, TTL: time.Minute, Lease: 5 * time.Second, PollBackoff: 5 * time.Millisecond}

	req := validRequest()
	req.IdempotencyKey = "order-44"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const workers = 4
	sessions := make([]checkout.Session, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = svc.CreateSession(ctx, req)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, provider.callCount(), "concurrent requests with one key must produce one provider call")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "cs_race", sessions[i].ID)
	}
}

func TestCreateSessionFailureIsNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &fakeProvider{
		session:  payment.Session{ID: "cs_second", URL: "https://checkout.stripe.com/pay/cs_second"},
		sequence: []error{payment.ErrUnavailable},
	}
	svc := newService(t, provider)
	svc.Idem = idempotency.Store{R: client, TTL: time.Minute, Lease: time.Second, PollBackoff: 5 * time.Millisecond}

	req := validRequest()
	req.IdempotencyKey = "order-45"

	_, err = svc.CreateSession(context.Background(), req)
	require.Error(t, err)

	session, err := svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "cs_second", session.ID)
	require.Equal(t, 2, provider.callCount())
}

func TestCreateSessionMetricAndAuditShareVocabulary(t *testing.T) {
	obs.MustRegisterDomainMetrics("checkouttest", prometheus.NewRegistry())

	provider := &fakeProvider{}
	audit := &captureAudit{}
	svc := newService(t, provider)
	svc.Audit = audit

	counterFor := func(offering, result string) float64 {
		return testutil.ToFloat64(obs.CheckoutSessionTotal.WithLabelValues(offering, result))
	}

	req := validRequest()
	req.CustomerEmail = "not-an-email"
	before := counterFor("starter", "invalid_request")
	_, err := svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, before+1, counterFor("starter", "invalid_request"))
	require.Equal(t, "invalid_request", audit.entries[len(audit.entries)-1].Outcome)

	req = validRequest()
	req.OfferingID = "workshop"
	before = counterFor("workshop", "offering_not_configured")
	_, err = svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, before+1, counterFor("workshop", "offering_not_configured"))
	require.Equal(t, "offering_not_configured", audit.entries[len(audit.entries)-1].Outcome)

	req = validRequest()
	req.OfferingID = "nope"
	before = counterFor("nope", "unknown_offering")
	_, err = svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, before+1, counterFor("nope", "unknown_offering"))
	require.Equal(t, "unknown_offering", audit.entries[len(audit.entries)-1].Outcome)
}

func TestCreateSessionAuditHashesEmail(t *testing.T) {
	provider := &fakeProvider{session: payment.Session{ID: "cs_audit", URL: "https://checkout.stripe.com/pay/cs_audit"}}
	audit := &captureAudit{}
	svc := newService(t, provider)
	svc.Audit = audit

	_, err := svc.CreateSession(context.Background(), validRequest())
	require.NoError(t, err)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, "starter", entry.OfferingID)
	require.Equal(t, "created", entry.Outcome)
	require.NotEmpty(t, entry.EmailHash)
	require.NotContains(t, entry.EmailHash, "@")
	require.NotContains(t, entry.EmailHash, "buyer")
}
