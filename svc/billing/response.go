package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prepdeck/prepdeck/pkg/billing"
)

// jsonResponse is the standard response envelope.
type jsonResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonResponse{Data: data})
}

// respondError maps domain sentinels onto HTTP statuses. Anything unmapped is
// an internal error; the cause stays in the logs, not the response body.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	switch {
	case errors.Is(err, billing.ErrPlanNotFound):
		status, code, message = http.StatusNotFound, "plan_not_found", "unknown plan"
	case errors.Is(err, billing.ErrPlanNotPurchasable):
		status, code, message = http.StatusUnprocessableEntity, "plan_not_purchasable", "plan cannot be purchased"
	case errors.Is(err, billing.ErrInvalidInterval):
		status, code, message = http.StatusUnprocessableEntity, "invalid_interval", "invalid billing interval"
	case errors.Is(err, billing.ErrNoSubscription):
		status, code, message = http.StatusNotFound, "no_subscription", "no active subscription"
	case errors.Is(err, billing.ErrNoCustomer):
		status, code, message = http.StatusNotFound, "no_customer", "no billing customer on record"
	case errors.Is(err, billing.ErrDirectActivationDisabled):
		status, code, message = http.StatusForbidden, "direct_activation_disabled", "direct activation is disabled"
	case errors.Is(err, billing.ErrNotConfigured):
		status, code, message = http.StatusNotImplemented, "billing_not_configured", "billing provider is not configured"
	case errors.Is(err, billing.ErrProviderCall):
		status, code, message = http.StatusBadGateway, "provider_error", "payment provider request failed"
	case errors.Is(err, billing.ErrInvalidSignature):
		status, code, message = http.StatusBadRequest, "invalid_signature", "webhook signature verification failed"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonResponse{Error: &errorDetail{Code: code, Message: message}})
}

func respondErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonResponse{Error: &errorDetail{Code: code, Message: message}})
}
