package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v75"
)

func stripeTestProvider(t *testing.T) *StripeProvider {
	t.Helper()
	catalog := MustNewCatalog(
		Plan{ID: PlanFree, Name: "Free"},
		Plan{
			ID:       PlanBasic,
			Name:     "Basic",
			PriceIDs: map[Interval]string{IntervalMonthly: "price_basic_m"},
		},
	)
	return &StripeProvider{catalog: catalog}
}

func stripeEvent(t *testing.T, eventType string, data any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestStripeProvider_NormalizeEvent(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("checkout session completed", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "checkout.session.completed", map[string]any{
			"id":                  "cs_1",
			"client_reference_id": userID.String(),
			"customer":            map[string]any{"id": "cus_1"},
			"subscription":        map[string]any{"id": "sub_1"},
			"metadata": map[string]string{
				"user_id": userID.String(),
				"plan_id": "basic",
			},
		}))

		completed, ok := ev.(CheckoutCompleted)
		require.True(t, ok)
		assert.Equal(t, userID, completed.UserID)
		assert.Equal(t, PlanBasic, completed.PlanID)
		assert.Equal(t, "cus_1", completed.CustomerID)
		assert.Equal(t, "sub_1", completed.SubscriptionID)
	})

	t.Run("checkout without subscription is ignored", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "checkout.session.completed", map[string]any{
			"id":       "cs_1",
			"customer": map[string]any{"id": "cus_1"},
			"metadata": map[string]string{
				"user_id": userID.String(),
				"plan_id": "basic",
			},
		}))
		assert.Nil(t, ev)
	})

	t.Run("checkout naming an unknown plan is ignored", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "checkout.session.completed", map[string]any{
			"id":           "cs_1",
			"subscription": map[string]any{"id": "sub_1"},
			"metadata": map[string]string{
				"user_id": userID.String(),
				"plan_id": "platinum",
			},
		}))
		assert.Nil(t, ev)
	})

	t.Run("checkout without user id is ignored", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "checkout.session.completed", map[string]any{
			"id":           "cs_1",
			"subscription": map[string]any{"id": "sub_1"},
			"metadata":     map[string]string{"plan_id": "basic"},
		}))
		assert.Nil(t, ev)
	})

	t.Run("subscription updated", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		periodEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		ev := p.normalizeStripeEvent(stripeEvent(t, "customer.subscription.updated", map[string]any{
			"id":                 "sub_1",
			"current_period_end": periodEnd.Unix(),
			"metadata":           map[string]string{"user_id": userID.String()},
		}))

		updated, ok := ev.(SubscriptionUpdated)
		require.True(t, ok)
		assert.Equal(t, userID, updated.UserID)
		assert.Equal(t, "sub_1", updated.SubscriptionID)
		assert.Equal(t, periodEnd, updated.CurrentPeriodEnd)
	})

	t.Run("subscription updated without metadata is ignored", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "customer.subscription.updated", map[string]any{
			"id":                 "sub_1",
			"current_period_end": time.Now().Unix(),
		}))
		assert.Nil(t, ev)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "customer.subscription.deleted", map[string]any{
			"id":       "sub_1",
			"metadata": map[string]string{"user_id": userID.String()},
		}))

		deleted, ok := ev.(SubscriptionDeleted)
		require.True(t, ok)
		assert.Equal(t, userID, deleted.UserID)
		assert.Equal(t, "sub_1", deleted.SubscriptionID)
	})

	t.Run("invoice payment failed", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "invoice.payment_failed", map[string]any{
			"id":       "in_1",
			"customer": map[string]any{"id": "cus_1"},
			"subscription_details": map[string]any{
				"metadata": map[string]string{"user_id": userID.String()},
			},
		}))

		failed, ok := ev.(InvoicePaymentFailed)
		require.True(t, ok)
		assert.Equal(t, userID, failed.UserID)
		assert.Equal(t, "cus_1", failed.CustomerID)
		assert.Equal(t, "in_1", failed.InvoiceID)
	})

	t.Run("invoice payment failed without user metadata keeps nil user", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "invoice.payment_failed", map[string]any{
			"id":       "in_1",
			"customer": map[string]any{"id": "cus_1"},
		}))

		failed, ok := ev.(InvoicePaymentFailed)
		require.True(t, ok)
		assert.Equal(t, uuid.Nil, failed.UserID)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		t.Parallel()
		p := stripeTestProvider(t)
		ev := p.normalizeStripeEvent(stripeEvent(t, "customer.created", map[string]any{"id": "cus_1"}))
		assert.Nil(t, ev)
	})
}

func TestStripeUserID(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("metadata wins over client reference", func(t *testing.T) {
		t.Parallel()
		other := uuid.New()
		got, ok := stripeUserID(other.String(), map[string]string{"user_id": userID.String()})
		require.True(t, ok)
		assert.Equal(t, userID, got)
	})

	t.Run("falls back to client reference", func(t *testing.T) {
		t.Parallel()
		got, ok := stripeUserID(userID.String(), nil)
		require.True(t, ok)
		assert.Equal(t, userID, got)
	})

	t.Run("malformed id", func(t *testing.T) {
		t.Parallel()
		_, ok := stripeUserID("not-a-uuid", nil)
		assert.False(t, ok)
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()
		_, ok := stripeUserID("", map[string]string{})
		assert.False(t, ok)
	})
}

func TestStripePlanID(t *testing.T) {
	t.Parallel()

	p := stripeTestProvider(t)

	t.Run("metadata plan id", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, PlanBasic, p.stripePlanID(map[string]string{"plan_id": "basic"}))
	})

	t.Run("plan outside the catalog", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, PlanID(""), p.stripePlanID(map[string]string{"plan_id": "platinum"}))
	})

	t.Run("missing metadata", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, PlanID(""), p.stripePlanID(nil))
	})
}
