package billing

import (
	"context"

	"github.com/google/uuid"
)

type userIDContextKey struct{}

// SetUserID stores the authenticated user ID in context for downstream
// handlers. The auth layer (or the RequireUser middleware in this wiring)
// is responsible for calling it.
func SetUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(uuid.UUID)
	return id, ok
}
