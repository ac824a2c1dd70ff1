package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepdeck/prepdeck/pkg/billing"
	billinghttp "github.com/prepdeck/prepdeck/svc/billing"
)

// stubProvider implements billing.Provider with overridable behavior per
// test. Unset calls fail loudly.
type stubProvider struct {
	ensureCustomer  func(ctx context.Context, userID uuid.UUID, email string) (string, error)
	createCheckout  func(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	createPortal    func(ctx context.Context, customerID string) (*billing.PortalSession, error)
	getSubscription func(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error)
	cancel          func(ctx context.Context, subscriptionID string, immediately bool) error
	reactivate      func(ctx context.Context, subscriptionID string) error
	parseWebhook    func(ctx context.Context, payload []byte, signature string) (billing.Event, string, error)
}

var errStubNotSet = errors.New("stub call not configured")

func (s *stubProvider) EnsureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	if s.ensureCustomer == nil {
		return "", errStubNotSet
	}
	return s.ensureCustomer(ctx, userID, email)
}

func (s *stubProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if s.createCheckout == nil {
		return nil, errStubNotSet
	}
	return s.createCheckout(ctx, req)
}

func (s *stubProvider) CreatePortalSession(ctx context.Context, customerID string) (*billing.PortalSession, error) {
	if s.createPortal == nil {
		return nil, errStubNotSet
	}
	return s.createPortal(ctx, customerID)
}

func (s *stubProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	if s.getSubscription == nil {
		return nil, errStubNotSet
	}
	return s.getSubscription(ctx, subscriptionID)
}

func (s *stubProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	if s.cancel == nil {
		return errStubNotSet
	}
	return s.cancel(ctx, subscriptionID, immediately)
}

func (s *stubProvider) ReactivateSubscription(ctx context.Context, subscriptionID string) error {
	if s.reactivate == nil {
		return errStubNotSet
	}
	return s.reactivate(ctx, subscriptionID)
}

func (s *stubProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (billing.Event, string, error) {
	if s.parseWebhook == nil {
		return nil, "", errStubNotSet
	}
	return s.parseWebhook(ctx, payload, signature)
}

func routerTestCatalog() *billing.Catalog {
	return billing.MustNewCatalog(
		billing.Plan{ID: billing.PlanFree, Name: "Free"},
		billing.Plan{
			ID:       billing.PlanBasic,
			Name:     "Basic",
			PriceIDs: map[billing.Interval]string{billing.IntervalMonthly: "price_basic_m"},
		},
	)
}

func directService(t *testing.T) billing.Service {
	t.Helper()
	svc, err := billing.NewService(routerTestCatalog(), billing.NewMemoryStore(), nil, billing.ModeDirect)
	require.NoError(t, err)
	return svc
}

func providerService(t *testing.T, provider billing.Provider) billing.Service {
	t.Helper()
	svc, err := billing.NewService(routerTestCatalog(), billing.NewMemoryStore(), provider, billing.ModeProvider)
	require.NoError(t, err)
	return svc
}

func authedRequest(method, target string, body []byte, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("X-User-ID", userID.String())
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRouter_Plans(t *testing.T) {
	t.Parallel()

	r := billinghttp.Router(directService(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	plans, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, plans, 2)
}

func TestRouter_Status(t *testing.T) {
	t.Parallel()

	r := billinghttp.Router(directService(t))

	t.Run("requires identity", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects malformed identity", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("X-User-ID", "not-a-uuid")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns free status for unknown user", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", nil, uuid.New()))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeEnvelope(t, rec)
		data, ok := body["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "free", data["plan"])
	})
}

func TestRouter_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("provider mode returns checkout url", func(t *testing.T) {
		t.Parallel()
		provider := &stubProvider{
			ensureCustomer: func(context.Context, uuid.UUID, string) (string, error) {
				return "cus_1", nil
			},
			createCheckout: func(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
				return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
			},
		}
		r := billinghttp.Router(providerService(t, provider))

		payload, _ := json.Marshal(map[string]any{"plan_id": "basic", "interval": "monthly"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", payload, uuid.New()))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.Equal(t, "https://checkout.test/cs_1", data["url"])
		assert.Equal(t, "cs_1", data["session_id"])
	})

	t.Run("direct mode activates immediately", func(t *testing.T) {
		t.Parallel()
		svc := directService(t)
		r := billinghttp.Router(svc)
		userID := uuid.New()

		payload, _ := json.Marshal(map[string]any{"plan_id": "basic", "interval": "monthly"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", payload, userID))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.Equal(t, true, data["activated"])

		status, err := svc.Status(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanBasic, status.Plan)
	})

	t.Run("unknown plan maps to 404", func(t *testing.T) {
		t.Parallel()
		r := billinghttp.Router(directService(t))

		payload, _ := json.Marshal(map[string]any{"plan_id": "platinum", "interval": "monthly"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", payload, uuid.New()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body maps to 400", func(t *testing.T) {
		t.Parallel()
		r := billinghttp.Router(directService(t))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/checkout", []byte("{"), uuid.New()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("without subscription maps to 404", func(t *testing.T) {
		t.Parallel()
		provider := &stubProvider{}
		r := billinghttp.Router(providerService(t, provider))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/cancel", nil, uuid.New()))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("direct mode maps to 501", func(t *testing.T) {
		t.Parallel()
		r := billinghttp.Router(directService(t))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/cancel", nil, uuid.New()))
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestRouter_Activate(t *testing.T) {
	t.Parallel()

	t.Run("provider mode forbids direct activation", func(t *testing.T) {
		t.Parallel()
		r := billinghttp.Router(providerService(t, &stubProvider{}))

		payload, _ := json.Marshal(map[string]any{"plan_id": "basic", "interval": "monthly"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/activate", payload, uuid.New()))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("direct mode activates", func(t *testing.T) {
		t.Parallel()
		r := billinghttp.Router(directService(t))

		payload, _ := json.Marshal(map[string]any{"plan_id": "basic", "interval": "yearly"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authedRequest(http.MethodPost, "/activate", payload, uuid.New()))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRouter_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("signature failure returns 400", func(t *testing.T) {
		t.Parallel()
		provider := &stubProvider{
			parseWebhook: func(context.Context, []byte, string) (billing.Event, string, error) {
				return nil, "", errors.Join(billing.ErrInvalidSignature, errors.New("bad sig"))
			},
		}
		r := billinghttp.Router(providerService(t, provider))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "bad")
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("applied event returns 200", func(t *testing.T) {
		t.Parallel()
		userID := uuid.New()
		provider := &stubProvider{
			parseWebhook: func(context.Context, []byte, string) (billing.Event, string, error) {
				return billing.CheckoutCompleted{
					UserID:         userID,
					PlanID:         billing.PlanBasic,
					CustomerID:     "cus_1",
					SubscriptionID: "sub_1",
				}, "evt_1", nil
			},
		}
		svc := providerService(t, provider)
		r := billinghttp.Router(svc)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "good")
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		status, err := svc.Status(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanBasic, status.Plan)
	})

	t.Run("custom signature header", func(t *testing.T) {
		t.Parallel()
		var captured string
		provider := &stubProvider{
			parseWebhook: func(_ context.Context, _ []byte, signature string) (billing.Event, string, error) {
				captured = signature
				return nil, "evt_1", nil
			},
		}
		r := billinghttp.Router(providerService(t, provider),
			billinghttp.WithSignatureHeader("Paddle-Signature"))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Paddle-Signature", "ts=1;h1=abc")
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ts=1;h1=abc", captured)
	})

	t.Run("stale event still acknowledges", func(t *testing.T) {
		t.Parallel()
		provider := &stubProvider{
			parseWebhook: func(context.Context, []byte, string) (billing.Event, string, error) {
				return billing.SubscriptionUpdated{
					UserID:           uuid.New(),
					SubscriptionID:   "sub_gone",
					CurrentPeriodEnd: time.Now().UTC(),
				}, "evt_stale", nil
			},
		}
		r := billinghttp.Router(providerService(t, provider))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Stripe-Signature", "good")
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
