package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prepdeck/prepdeck/pkg/billing"
	"github.com/prepdeck/prepdeck/pkg/logger"
)

// maxWebhookBody bounds webhook payloads. Provider events are a few KB;
// anything larger is not a legitimate delivery.
const maxWebhookBody = 64 << 10

// RouterOption configures the billing router.
type RouterOption func(*router)

// WithLogger sets the logger for request handling. Defaults to discard.
func WithLogger(log *slog.Logger) RouterOption {
	return func(rt *router) {
		if log != nil {
			rt.log = log
		}
	}
}

// WithSignatureHeader sets the header carrying the provider's webhook
// signature. Defaults to Stripe-Signature; Paddle deployments set
// Paddle-Signature.
func WithSignatureHeader(name string) RouterOption {
	return func(rt *router) {
		if name != "" {
			rt.signatureHeader = name
		}
	}
}

type router struct {
	svc             billing.Service
	log             *slog.Logger
	signatureHeader string
}

// Router mounts the billing HTTP surface.
//
// Public routes: GET /plans and POST /webhook. Everything else requires an
// authenticated user.
func Router(svc billing.Service, opts ...RouterOption) chi.Router {
	if svc == nil {
		panic("billing: service is required")
	}

	rt := &router{
		svc:             svc,
		log:             slog.New(slog.DiscardHandler),
		signatureHeader: "Stripe-Signature",
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/plans", rt.handlePlans)
	r.Post("/webhook", rt.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/status", rt.handleStatus)
		r.Post("/checkout", rt.handleCheckout)
		r.Post("/portal", rt.handlePortal)
		r.Post("/cancel", rt.handleCancel)
		r.Post("/reactivate", rt.handleReactivate)
		r.Post("/activate", rt.handleActivate)
	})

	return r
}

func (rt *router) handlePlans(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, rt.svc.Plans())
}

func (rt *router) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	status, err := rt.svc.Status(r.Context(), userID)
	if err != nil {
		rt.log.ErrorContext(r.Context(), "failed to load billing status", logger.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type checkoutRequest struct {
	PlanID   billing.PlanID   `json:"plan_id"`
	Interval billing.Interval `json:"interval"`
	Email    string           `json:"email,omitempty"`
}

type checkoutResponse struct {
	URL       string `json:"url,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Activated bool   `json:"activated,omitempty"`
}

// handleCheckout starts a provider checkout. In direct mode there is no
// provider, so the purchase degrades to an immediate activation.
func (rt *router) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	session, err := rt.svc.StartCheckout(r.Context(), userID, req.PlanID, req.Interval, billing.CheckoutOptions{
		Email: req.Email,
	})
	if err != nil {
		if errors.Is(err, billing.ErrNotConfigured) {
			if err := rt.svc.ActivateDirect(r.Context(), userID, req.PlanID, req.Interval); err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, checkoutResponse{Activated: true})
			return
		}
		rt.log.ErrorContext(r.Context(), "checkout failed",
			logger.Error(err), logger.Plan(req.PlanID))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, checkoutResponse{URL: session.URL, SessionID: session.ID})
}

func (rt *router) handlePortal(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	session, err := rt.svc.StartPortal(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"url": session.URL})
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

func (rt *router) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req cancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondErrorCode(w, http.StatusBadRequest, "invalid_request", "malformed request body")
			return
		}
	}

	if err := rt.svc.Cancel(r.Context(), userID, req.Immediately); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"canceled": true, "immediately": req.Immediately})
}

func (rt *router) handleReactivate(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	if err := rt.svc.Reactivate(r.Context(), userID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reactivated": true})
}

type activateRequest struct {
	PlanID   billing.PlanID   `json:"plan_id"`
	Interval billing.Interval `json:"interval"`
}

func (rt *router) handleActivate(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorCode(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	if err := rt.svc.ActivateDirect(r.Context(), userID, req.PlanID, req.Interval); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"activated": true})
}

// handleWebhook is the provider-facing endpoint. Only a signature failure
// produces a non-200; every other outcome acknowledges so the provider stops
// redelivering events that retrying cannot fix.
func (rt *router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondErrorCode(w, http.StatusBadRequest, "invalid_request", "failed to read webhook payload")
		return
	}

	signature := r.Header.Get(rt.signatureHeader)

	if err := rt.svc.HandleWebhook(r.Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			rt.log.WarnContext(r.Context(), "webhook signature verification failed")
			respondError(w, err)
			return
		}
		rt.log.ErrorContext(r.Context(), "webhook handling failed", logger.Error(err))
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"received": true})
}
