package billing

import "errors"

var (
	ErrPlanNotFound       = errors.New("billing plan not found")
	ErrPlanNotPurchasable = errors.New("billing plan cannot be purchased")
	ErrInvalidInterval    = errors.New("invalid billing interval")
	ErrInvalidCatalog     = errors.New("invalid plan catalog configuration")

	ErrEntitlementNotFound = errors.New("entitlement not found")
	ErrVersionConflict     = errors.New("entitlement was modified concurrently")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrStaleEvent       = errors.New("webhook event references a stale subscription")

	ErrProviderCall             = errors.New("billing provider call failed")
	ErrNotConfigured            = errors.New("billing provider not configured")
	ErrDirectActivationDisabled = errors.New("direct activation disabled in provider mode")
	ErrNoSubscription           = errors.New("no provider subscription on record")
	ErrNoCustomer               = errors.New("no provider customer on record")
)
