package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	SuccessURL    string `env:"PADDLE_SUCCESS_URL"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
	catalog  *Catalog
}

// NewPaddleProvider creates a Paddle billing provider.
func NewPaddleProvider(cfg PaddleConfig, catalog *Catalog) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}
	if catalog == nil {
		return nil, errors.New("plan catalog is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		config:   cfg,
		catalog:  catalog,
	}, nil
}

// EnsureCustomer creates a Paddle customer carrying the user ID in custom
// data.
func (p *PaddleProvider) EnsureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	customer, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email: email,
		CustomData: paddle.CustomData{
			"user_id": userID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer: %w", err)
	}
	return customer.ID, nil
}

// CreateCheckoutSession creates a Paddle transaction whose hosted checkout
// URL serves as the session.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerID),
		CustomData: paddle.CustomData{
			"user_id": req.UserID.String(),
			"plan_id": string(req.PlanID),
		},
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = p.config.SuccessURL
	}
	if successURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(successURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, errors.New("no checkout URL returned from paddle")
	}

	return &CheckoutSession{
		ID:         transaction.ID,
		URL:        *transaction.Checkout.URL,
		CustomerID: req.CustomerID,
	}, nil
}

// CreatePortalSession returns a link to Paddle's customer portal.
func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return nil, errors.New("no portal URL returned from paddle")
	}

	return &PortalSession{
		URL: session.URLs.General.Overview,
		// Paddle portal links typically expire in 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetSubscription fetches a subscription snapshot.
func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paddle subscription: %w", err)
	}

	out := &ProviderSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.CurrentBillingPeriod != nil {
		if endsAt, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); err == nil {
			out.CurrentPeriodEnd = endsAt.UTC()
		}
	}
	if sub.ScheduledChange != nil && sub.ScheduledChange.Action == paddle.ScheduledChangeActionCancel {
		out.CancelAtPeriodEnd = true
	}
	return out, nil
}

// CancelSubscription cancels immediately or at the end of the current billing
// period.
func (p *PaddleProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	effectiveFrom := paddle.EffectiveFromNextBillingPeriod
	if immediately {
		effectiveFrom = paddle.EffectiveFromImmediately
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effectiveFrom),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel paddle subscription: %w", err)
	}
	return nil
}

// ReactivateSubscription removes a scheduled cancellation.
func (p *PaddleProvider) ReactivateSubscription(ctx context.Context, subscriptionID string) error {
	_, err := p.client.SubscriptionsClient.ResumeSubscription(ctx, &paddle.ResumeSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return fmt.Errorf("failed to resume paddle subscription: %w", err)
	}
	return nil
}

// paddleEnvelope is the outer shape shared by all Paddle webhook payloads.
type paddleEnvelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the
// payload. Verification fails closed; valid-but-unmapped payloads return a
// nil event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, "", errors.Join(ErrInvalidSignature, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, "", errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, "", ErrInvalidSignature
	}

	var envelope paddleEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, "", nil
	}

	return p.normalizePaddleEvent(envelope), envelope.EventID, nil
}

func (p *PaddleProvider) normalizePaddleEvent(envelope paddleEnvelope) Event {
	data := envelope.Data

	switch envelope.EventType {
	case "transaction.completed":
		userID, ok := paddleUserID(data)
		if !ok {
			return nil
		}
		subscriptionID, _ := data["subscription_id"].(string)
		if subscriptionID == "" {
			return nil
		}
		planID := p.paddlePlanID(data)
		if planID == "" {
			return nil
		}
		customerID, _ := data["customer_id"].(string)
		return CheckoutCompleted{
			UserID:         userID,
			PlanID:         planID,
			CustomerID:     customerID,
			SubscriptionID: subscriptionID,
		}

	case "subscription.updated":
		userID, ok := paddleUserID(data)
		if !ok {
			return nil
		}
		subscriptionID, _ := data["id"].(string)
		periodEnd, ok := paddlePeriodEnd(data)
		if !ok {
			return nil
		}
		return SubscriptionUpdated{
			UserID:           userID,
			SubscriptionID:   subscriptionID,
			CurrentPeriodEnd: periodEnd,
		}

	case "subscription.canceled":
		userID, ok := paddleUserID(data)
		if !ok {
			return nil
		}
		subscriptionID, _ := data["id"].(string)
		return SubscriptionDeleted{UserID: userID, SubscriptionID: subscriptionID}

	case "transaction.payment_failed":
		invoiceID, _ := data["id"].(string)
		customerID, _ := data["customer_id"].(string)
		ev := InvoicePaymentFailed{InvoiceID: invoiceID, CustomerID: customerID}
		if userID, ok := paddleUserID(data); ok {
			ev.UserID = userID
		}
		return ev

	default:
		return nil
	}
}

func paddleUserID(data map[string]any) (uuid.UUID, bool) {
	customData, ok := data["custom_data"].(map[string]any)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := customData["user_id"].(string)
	if !ok || raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func paddlePeriodEnd(data map[string]any) (time.Time, bool) {
	period, ok := data["current_billing_period"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	raw, ok := period["ends_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	endsAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return endsAt.UTC(), true
}

func (p *PaddleProvider) paddlePlanID(data map[string]any) PlanID {
	if customData, ok := data["custom_data"].(map[string]any); ok {
		if raw, ok := customData["plan_id"].(string); ok && PlanID(raw).Valid() {
			return PlanID(raw)
		}
	}

	// Fall back to the catalog's price mapping from the first line item.
	items, ok := data["items"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	item, ok := items[0].(map[string]any)
	if !ok {
		return ""
	}
	price, ok := item["price"].(map[string]any)
	if !ok {
		return ""
	}
	priceID, _ := price["id"].(string)
	if plan, _, ok := p.catalog.PlanForPriceID(priceID); ok {
		return plan.ID
	}
	return ""
}
