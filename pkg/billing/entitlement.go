package billing

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is the stored record of a user's current plan and its provider
// linkage. The stored Plan field can be stale relative to PlanExpiresAt, so
// all gating decisions must go through EffectivePlanAt, never the raw field.
// Version supports optimistic concurrency in stores.
type Entitlement struct {
	UserID                 uuid.UUID
	Plan                   PlanID
	PlanExpiresAt          *time.Time
	ProviderCustomerID     string
	ProviderSubscriptionID string
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewEntitlement returns the zero entitlement every user starts with.
func NewEntitlement(userID uuid.UUID) *Entitlement {
	return &Entitlement{
		UserID: userID,
		Plan:   PlanFree,
	}
}

// EffectivePlanAt returns the plan that should gate features at the given
// time: free when the stored expiry has passed, the stored plan otherwise.
// This method is the single defense against expired entitlements keeping
// paid access.
func (e *Entitlement) EffectivePlanAt(now time.Time) PlanID {
	if e.IsExpiredAt(now) {
		return PlanFree
	}
	if e.Plan == "" {
		return PlanFree
	}
	return e.Plan
}

// IsExpiredAt reports whether the stored expiry has passed.
func (e *Entitlement) IsExpiredAt(now time.Time) bool {
	return e.PlanExpiresAt != nil && now.After(*e.PlanExpiresAt)
}

// IsPremiumAt reports whether the effective plan is any paid tier.
func (e *Entitlement) IsPremiumAt(now time.Time) bool {
	return e.EffectivePlanAt(now) != PlanFree
}

func cloneEntitlement(e *Entitlement) *Entitlement {
	clone := *e
	if e.PlanExpiresAt != nil {
		t := *e.PlanExpiresAt
		clone.PlanExpiresAt = &t
	}
	return &clone
}
