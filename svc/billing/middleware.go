package billing

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/prepdeck/prepdeck/pkg/billing"
)

// userIDHeader carries the authenticated user ID injected by the upstream
// auth proxy. Real deployments terminate auth before this service; the
// middleware only trusts the header because the service is never exposed
// directly.
const userIDHeader = "X-User-ID"

// RequireUser extracts the authenticated user from the request and stores it
// in context. Requests without a valid user ID get 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(userIDHeader)
		if raw == "" {
			respondErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			respondErrorCode(w, http.StatusUnauthorized, "unauthorized", "invalid user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
	})
}

// RequirePaid gates premium-only routes on the user's effective plan.
// Expired and free users get 402 with the upgrade hint.
func RequirePaid(svc billing.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				respondErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
				return
			}

			status, err := svc.Status(r.Context(), userID)
			if err != nil {
				respondError(w, err)
				return
			}
			if status.Plan == billing.PlanFree {
				respondErrorCode(w, http.StatusPaymentRequired, "payment_required", "this feature requires a paid plan")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
