package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paddleTestProvider(t *testing.T) *PaddleProvider {
	t.Helper()
	catalog := MustNewCatalog(
		Plan{ID: PlanFree, Name: "Free"},
		Plan{
			ID:       PlanPremium,
			Name:     "Premium",
			PriceIDs: map[Interval]string{IntervalYearly: "pri_premium_y"},
		},
	)
	return &PaddleProvider{catalog: catalog}
}

func TestPaddleProvider_NormalizeEvent(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("transaction completed", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventID:   "evt_1",
			EventType: "transaction.completed",
			Data: map[string]any{
				"id":              "txn_1",
				"subscription_id": "sub_1",
				"customer_id":     "ctm_1",
				"custom_data": map[string]any{
					"user_id": userID.String(),
					"plan_id": "premium",
				},
			},
		})

		completed, ok := ev.(CheckoutCompleted)
		require.True(t, ok)
		assert.Equal(t, userID, completed.UserID)
		assert.Equal(t, PlanPremium, completed.PlanID)
		assert.Equal(t, "ctm_1", completed.CustomerID)
		assert.Equal(t, "sub_1", completed.SubscriptionID)
	})

	t.Run("transaction completed resolves plan via price id", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "transaction.completed",
			Data: map[string]any{
				"id":              "txn_1",
				"subscription_id": "sub_1",
				"custom_data":     map[string]any{"user_id": userID.String()},
				"items": []any{
					map[string]any{
						"price": map[string]any{"id": "pri_premium_y"},
					},
				},
			},
		})

		completed, ok := ev.(CheckoutCompleted)
		require.True(t, ok)
		assert.Equal(t, PlanPremium, completed.PlanID)
	})

	t.Run("one-time transaction is ignored", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "transaction.completed",
			Data: map[string]any{
				"id": "txn_1",
				"custom_data": map[string]any{
					"user_id": userID.String(),
					"plan_id": "premium",
				},
			},
		})
		assert.Nil(t, ev)
	})

	t.Run("subscription updated", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "subscription.updated",
			Data: map[string]any{
				"id":          "sub_1",
				"custom_data": map[string]any{"user_id": userID.String()},
				"current_billing_period": map[string]any{
					"ends_at": "2025-07-01T00:00:00Z",
				},
			},
		})

		updated, ok := ev.(SubscriptionUpdated)
		require.True(t, ok)
		assert.Equal(t, userID, updated.UserID)
		assert.Equal(t, "sub_1", updated.SubscriptionID)
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), updated.CurrentPeriodEnd)
	})

	t.Run("subscription updated without billing period is ignored", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "subscription.updated",
			Data: map[string]any{
				"id":          "sub_1",
				"custom_data": map[string]any{"user_id": userID.String()},
			},
		})
		assert.Nil(t, ev)
	})

	t.Run("subscription canceled", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "subscription.canceled",
			Data: map[string]any{
				"id":          "sub_1",
				"custom_data": map[string]any{"user_id": userID.String()},
			},
		})

		deleted, ok := ev.(SubscriptionDeleted)
		require.True(t, ok)
		assert.Equal(t, userID, deleted.UserID)
		assert.Equal(t, "sub_1", deleted.SubscriptionID)
	})

	t.Run("payment failed without custom data still notifies", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "transaction.payment_failed",
			Data: map[string]any{
				"id":          "txn_1",
				"customer_id": "ctm_1",
			},
		})

		failed, ok := ev.(InvoicePaymentFailed)
		require.True(t, ok)
		assert.Equal(t, uuid.Nil, failed.UserID)
		assert.Equal(t, "ctm_1", failed.CustomerID)
		assert.Equal(t, "txn_1", failed.InvoiceID)
	})

	t.Run("malformed user id is ignored", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "subscription.canceled",
			Data: map[string]any{
				"id":          "sub_1",
				"custom_data": map[string]any{"user_id": "not-a-uuid"},
			},
		})
		assert.Nil(t, ev)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		t.Parallel()
		p := paddleTestProvider(t)
		ev := p.normalizePaddleEvent(paddleEnvelope{
			EventType: "address.created",
			Data:      map[string]any{"id": "add_1"},
		})
		assert.Nil(t, ev)
	})
}
