package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store defines entitlement persistence. Each user has exactly one
// entitlement, keyed by user ID.
//
// Update must be a compare-and-set on Version: implementations reject writes
// whose Version no longer matches the stored row with ErrVersionConflict.
// Together with the service's per-user serialization this gives
// last-writer-wins-with-validity-check semantics under concurrent webhook
// deliveries.
type Store interface {
	// Get retrieves an entitlement by user ID.
	// Returns ErrEntitlementNotFound if no record exists.
	Get(ctx context.Context, userID uuid.UUID) (*Entitlement, error)

	// Create inserts a new entitlement record. A record that already exists
	// for the user is rejected with ErrVersionConflict; the caller's view is
	// stale and must be re-read.
	Create(ctx context.Context, e *Entitlement) error

	// Update persists changes to an existing entitlement. The write succeeds
	// only when e.Version matches the stored version; on success the
	// implementation bumps e.Version.
	Update(ctx context.Context, e *Entitlement) error
}
