package billing

import (
	"time"

	"github.com/google/uuid"
)

// Event is the closed set of domain events a billing provider can deliver.
// Providers normalize their raw webhook payloads into exactly one of the
// variants below; everything else is acknowledged without action. The sealed
// marker method keeps the set closed so the reconciliation switch stays
// exhaustive.
type Event interface {
	event()
}

// CheckoutCompleted signals a successful checkout for a user. It carries the
// provider linkage but intentionally no billing period: the period end arrives
// with the provider's follow-up SubscriptionUpdated event.
type CheckoutCompleted struct {
	UserID         uuid.UUID
	PlanID         PlanID
	CustomerID     string
	SubscriptionID string
}

// SubscriptionUpdated is the provider's authoritative billing-period signal.
// CurrentPeriodEnd always overwrites the stored expiry, even when it moves it
// earlier.
type SubscriptionUpdated struct {
	UserID           uuid.UUID
	SubscriptionID   string
	CurrentPeriodEnd time.Time
}

// SubscriptionDeleted terminates the identified subscription. Later stray
// updates carrying the same subscription ID are dropped as stale.
type SubscriptionDeleted struct {
	UserID         uuid.UUID
	SubscriptionID string
}

// InvoicePaymentFailed never mutates entitlement state; it is surfaced to the
// configured Notifier only. UserID may be uuid.Nil when the provider payload
// does not identify the user.
type InvoicePaymentFailed struct {
	UserID     uuid.UUID
	CustomerID string
	InvoiceID  string
}

func (CheckoutCompleted) event()    {}
func (SubscriptionUpdated) event()  {}
func (SubscriptionDeleted) event()  {}
func (InvoicePaymentFailed) event() {}
