package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider defines the minimal interface for payment provider integrations.
// The abstraction keeps the reconciliation engine vendor-neutral: Paddle and
// Stripe implementations ship with this package, and swapping providers never
// touches entitlement logic. Providers handle all payment complexity through
// hosted checkouts and customer portals.
//
// ParseWebhook is a pure transform: it verifies the signature, normalizes the
// payload into the closed Event set, and never mutates state. Verification
// failures return ErrInvalidSignature (wrapped). Unrecognized event types and
// recognizable-but-malformed metadata normalize to a nil Event so the caller
// can acknowledge without action; retrying a permanently malformed event would
// only produce a retry storm.
type Provider interface {
	// EnsureCustomer creates a provider customer for the user and returns the
	// provider's customer ID. Called lazily on first checkout.
	EnsureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// CreatePortalSession returns a temporary link to the customer portal
	// where users can update payment methods or change plans.
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error)

	// GetSubscription fetches a point-in-time snapshot of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// CancelSubscription cancels at the provider. When immediately is false
	// the subscription runs until period end and the provider later emits the
	// terminal events.
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error

	// ReactivateSubscription removes a pending cancellation.
	ReactivateSubscription(ctx context.Context, subscriptionID string) error

	// ParseWebhook verifies and decodes a raw webhook delivery. The second
	// return value is the provider's event ID, used for idempotent redelivery
	// handling; it may be empty when the provider supplies none.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, string, error)
}

// CheckoutRequest contains data needed to create a checkout session.
// PriceID is resolved from the catalog by the service before the provider is
// called.
type CheckoutRequest struct {
	UserID     uuid.UUID
	CustomerID string
	Email      string
	PlanID     PlanID
	PriceID    string
	Interval   Interval
	SuccessURL string
	CancelURL  string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID         string
	URL        string
	CustomerID string // set when the provider issued a new customer during checkout
}

// PortalSession represents a pre-authenticated customer portal session.
type PortalSession struct {
	URL       string
	ExpiresAt time.Time
}

// ProviderSubscription is a normalized snapshot of a provider-side
// subscription.
type ProviderSubscription struct {
	ID                string
	Status            string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// CheckoutOptions carries caller-supplied checkout parameters. Email comes
// from the auth layer, which owns user identity; this package never stores it.
type CheckoutOptions struct {
	Email      string
	SuccessURL string
	CancelURL  string
}
