package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"github.com/stripe/stripe-go/v75/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	SuccessURL    string `env:"STRIPE_SUCCESS_URL"`
	CancelURL     string `env:"STRIPE_CANCEL_URL"`
	ReturnURL     string `env:"STRIPE_PORTAL_RETURN_URL"`
}

// StripeProvider implements Provider for Stripe.
type StripeProvider struct {
	api     *client.API
	config  StripeConfig
	catalog *Catalog
}

// NewStripeProvider creates a Stripe billing provider. The catalog validates
// the plan metadata that checkout sessions carry back in webhook payloads.
func NewStripeProvider(cfg StripeConfig, catalog *Catalog) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if catalog == nil {
		return nil, errors.New("plan catalog is required")
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeProvider{
		api:     api,
		config:  cfg,
		catalog: catalog,
	}, nil
}

// EnsureCustomer creates a Stripe customer tagged with the user ID so webhook
// payloads can always be traced back.
func (p *StripeProvider) EnsureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Metadata: map[string]string{
			"user_id": userID.String(),
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}

	cus, err := p.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cus.ID, nil
}

// CreateCheckoutSession creates a hosted Stripe Checkout session in
// subscription mode. The user ID travels both as ClientReferenceID and as
// subscription metadata; plan ID rides along so webhook handling never needs
// a follow-up API call.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = p.config.SuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = p.config.CancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Customer:   stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(req.UserID.String()),
		Metadata: map[string]string{
			"user_id": req.UserID.String(),
			"plan_id": string(req.PlanID),
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": req.UserID.String(),
				"plan_id": string(req.PlanID),
			},
		},
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}

	out := &CheckoutSession{ID: sess.ID, URL: sess.URL}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	return out, nil
}

// CreatePortalSession returns a Stripe billing portal session.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
	}
	if p.config.ReturnURL != "" {
		params.ReturnURL = stripe.String(p.config.ReturnURL)
	}

	sess, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &PortalSession{
		URL: sess.URL,
		// Stripe portal links expire shortly after creation.
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}, nil
}

// GetSubscription fetches a subscription snapshot.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	sub, err := p.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, err
	}

	return &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

// CancelSubscription cancels immediately or schedules cancellation at period
// end. The period-end path mutates nothing locally; Stripe emits the terminal
// events when the period closes.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	if immediately {
		_, err := p.api.Subscriptions.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{
			Params: stripe.Params{Context: ctx},
		})
		return err
	}

	_, err := p.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	return err
}

// ReactivateSubscription clears a scheduled period-end cancellation.
func (p *StripeProvider) ReactivateSubscription(ctx context.Context, subscriptionID string) error {
	_, err := p.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	return err
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
// Verification fails closed; anything after a valid signature that cannot be
// normalized is returned as a nil event so the caller acknowledges it.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, string, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, "", errors.Join(ErrInvalidSignature, err)
	}

	return p.normalizeStripeEvent(event), event.ID, nil
}

func (p *StripeProvider) normalizeStripeEvent(event stripe.Event) Event {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil
		}
		userID, ok := stripeUserID(sess.ClientReferenceID, sess.Metadata)
		if !ok {
			return nil
		}
		planID := p.stripePlanID(sess.Metadata)
		if planID == "" {
			return nil
		}
		ev := CheckoutCompleted{UserID: userID, PlanID: planID}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		if ev.SubscriptionID == "" {
			// One-time payments are not subscriptions; nothing to reconcile.
			return nil
		}
		return ev

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil
		}
		userID, ok := stripeUserID("", sub.Metadata)
		if !ok {
			return nil
		}
		return SubscriptionUpdated{
			UserID:           userID,
			SubscriptionID:   sub.ID,
			CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil
		}
		userID, ok := stripeUserID("", sub.Metadata)
		if !ok {
			return nil
		}
		return SubscriptionDeleted{UserID: userID, SubscriptionID: sub.ID}

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil
		}
		ev := InvoicePaymentFailed{InvoiceID: inv.ID}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.SubscriptionDetails != nil {
			if id, err := uuid.Parse(inv.SubscriptionDetails.Metadata["user_id"]); err == nil {
				ev.UserID = id
			}
		}
		return ev

	default:
		return nil
	}
}

// stripeUserID resolves the user from checkout metadata, preferring the
// explicit metadata key and falling back to ClientReferenceID. A missing or
// malformed ID yields no event rather than an error: Stripe would retry a
// rejection forever and the payload cannot improve.
func stripeUserID(clientRef string, metadata map[string]string) (uuid.UUID, bool) {
	raw := metadata["user_id"]
	if raw == "" {
		raw = clientRef
	}
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// stripePlanID resolves the plan from checkout metadata. CreateCheckoutSession
// always plants plan_id, so a session without one (or naming a plan the
// catalog does not know) is foreign and normalizes to no event.
func (p *StripeProvider) stripePlanID(metadata map[string]string) PlanID {
	raw := metadata["plan_id"]
	if raw == "" {
		return ""
	}
	if _, err := p.catalog.Plan(PlanID(raw)); err != nil {
		return ""
	}
	return PlanID(raw)
}
