package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepdeck/prepdeck/pkg/logger"
)

// Service is the public interface of the billing core: plan catalog access,
// entitlement queries, synchronous user actions, and webhook reconciliation.
type Service interface {
	// Catalog and queries
	Plans() []Plan
	Status(ctx context.Context, userID uuid.UUID) (*Status, error)

	// Synchronous user actions
	StartCheckout(ctx context.Context, userID uuid.UUID, planID PlanID, interval Interval, opts CheckoutOptions) (*CheckoutSession, error)
	StartPortal(ctx context.Context, userID uuid.UUID) (*PortalSession, error)
	Cancel(ctx context.Context, userID uuid.UUID, immediately bool) error
	Reactivate(ctx context.Context, userID uuid.UUID) error
	ActivateDirect(ctx context.Context, userID uuid.UUID, planID PlanID, interval Interval) error
	Subscription(ctx context.Context, userID uuid.UUID) (*ProviderSubscription, error)

	// Webhook reconciliation
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Status is the read model for entitlement state. Plan is the effective plan
// after expiry; features and limits always come from the catalog.
type Status struct {
	UserID    uuid.UUID          `json:"user_id"`
	Plan      PlanID             `json:"plan"`
	IsExpired bool               `json:"is_expired"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Features  []Feature          `json:"features"`
	Limits    map[Resource]int64 `json:"limits"`
}

type service struct {
	catalog  *Catalog
	store    Store
	provider Provider
	mode     Mode

	log      *slog.Logger
	now      func() time.Time
	dedupe   Deduper
	notifier Notifier

	locks      userLocks
	deliveries eventLocks
}

// NewService creates the billing service. Panics on missing required
// dependencies to fail fast during initialization.
//
// The mode decides the single source of truth for entitlement changes:
// ModeProvider requires a Provider and makes ActivateDirect unreachable;
// ModeDirect forbids a Provider so the webhook-driven and direct paths can
// never diverge.
func NewService(catalog *Catalog, store Store, provider Provider, mode Mode, opts ...ServiceOption) (Service, error) {
	if catalog == nil {
		panic("billing: catalog is required")
	}
	if store == nil {
		panic("billing: store is required")
	}

	switch mode {
	case ModeProvider:
		if provider == nil {
			return nil, errors.Join(ErrNotConfigured, errors.New("provider mode requires a billing provider"))
		}
	case ModeDirect:
		if provider != nil {
			return nil, fmt.Errorf("direct mode must not carry a billing provider")
		}
	default:
		return nil, fmt.Errorf("unknown billing mode %q", mode)
	}

	s := &service{
		catalog:  catalog,
		store:    store,
		provider: provider,
		mode:     mode,
		log:      slog.New(slog.DiscardHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Plans returns the catalog in stable tier order.
func (s *service) Plans() []Plan {
	return s.catalog.Plans()
}

// Status computes the effective entitlement state for a user. A user without
// a stored record is simply on the free plan.
func (s *service) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	ent, err := s.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrEntitlementNotFound) {
			return nil, err
		}
		ent = NewEntitlement(userID)
	}

	now := s.now()
	plan, err := s.catalog.Plan(ent.EffectivePlanAt(now))
	if err != nil {
		return nil, err
	}

	return &Status{
		UserID:    userID,
		Plan:      plan.ID,
		IsExpired: ent.IsExpiredAt(now),
		ExpiresAt: ent.PlanExpiresAt,
		Features:  plan.Features,
		Limits:    plan.Limits,
	}, nil
}

// StartCheckout validates the requested plan, lazily provisions a provider
// customer, and delegates to the provider's hosted checkout. The entitlement
// itself is only touched later, by the CheckoutCompleted webhook.
func (s *service) StartCheckout(ctx context.Context, userID uuid.UUID, planID PlanID, interval Interval, opts CheckoutOptions) (*CheckoutSession, error) {
	if s.mode != ModeProvider {
		return nil, ErrNotConfigured
	}
	if !interval.Valid() {
		return nil, ErrInvalidInterval
	}

	plan, err := s.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	if !plan.Purchasable() {
		return nil, ErrPlanNotPurchasable
	}
	priceID, ok := plan.PriceIDs[interval]
	if !ok {
		return nil, errors.Join(ErrInvalidInterval, fmt.Errorf("plan %q has no %s price", planID, interval))
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	ent, exists, err := s.getOrNew(ctx, userID)
	if err != nil {
		return nil, err
	}

	if ent.ProviderCustomerID == "" {
		customerID, err := s.provider.EnsureCustomer(ctx, userID, opts.Email)
		if err != nil {
			return nil, errors.Join(ErrProviderCall, err)
		}
		ent.ProviderCustomerID = customerID
		if err := s.save(ctx, ent, exists); err != nil {
			return nil, err
		}
		exists = true
	}

	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:     userID,
		CustomerID: ent.ProviderCustomerID,
		Email:      opts.Email,
		PlanID:     planID,
		PriceID:    priceID,
		Interval:   interval,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderCall, err)
	}

	if session.CustomerID != "" && session.CustomerID != ent.ProviderCustomerID {
		ent.ProviderCustomerID = session.CustomerID
		if err := s.save(ctx, ent, exists); err != nil {
			return nil, err
		}
	}

	return session, nil
}

// StartPortal returns a customer portal session for an existing provider
// customer.
func (s *service) StartPortal(ctx context.Context, userID uuid.UUID) (*PortalSession, error) {
	if s.mode != ModeProvider {
		return nil, ErrNotConfigured
	}

	ent, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return nil, ErrNoCustomer
		}
		return nil, err
	}
	if ent.ProviderCustomerID == "" {
		return nil, ErrNoCustomer
	}

	session, err := s.provider.CreatePortalSession(ctx, ent.ProviderCustomerID)
	if err != nil {
		return nil, errors.Join(ErrProviderCall, err)
	}
	return session, nil
}

// Cancel delegates cancellation to the provider. An immediate cancel applies
// the terminal state locally as well; a period-end cancel leaves the
// entitlement untouched and lets the provider's later events finish the job.
// That asymmetry is intentional: the user keeps what they paid for until
// period end.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID, immediately bool) error {
	if s.mode != ModeProvider {
		return ErrNotConfigured
	}

	ent, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return ErrNoSubscription
		}
		return err
	}
	if ent.ProviderSubscriptionID == "" {
		return ErrNoSubscription
	}

	if err := s.provider.CancelSubscription(ctx, ent.ProviderSubscriptionID, immediately); err != nil {
		return errors.Join(ErrProviderCall, err)
	}

	if immediately {
		return s.apply(ctx, SubscriptionDeleted{
			UserID:         userID,
			SubscriptionID: ent.ProviderSubscriptionID,
		})
	}
	return nil
}

// Reactivate removes a pending cancellation at the provider. No local
// mutation: the provider's subsequent SubscriptionUpdated is authoritative.
func (s *service) Reactivate(ctx context.Context, userID uuid.UUID) error {
	if s.mode != ModeProvider {
		return ErrNotConfigured
	}

	ent, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return ErrNoSubscription
		}
		return err
	}
	if ent.ProviderSubscriptionID == "" {
		return ErrNoSubscription
	}

	if err := s.provider.ReactivateSubscription(ctx, ent.ProviderSubscriptionID); err != nil {
		return errors.Join(ErrProviderCall, err)
	}
	return nil
}

// Subscription fetches the provider-side snapshot for the user's current
// subscription.
func (s *service) Subscription(ctx context.Context, userID uuid.UUID) (*ProviderSubscription, error) {
	if s.mode != ModeProvider {
		return nil, ErrNotConfigured
	}

	ent, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	if ent.ProviderSubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	sub, err := s.provider.GetSubscription(ctx, ent.ProviderSubscriptionID)
	if err != nil {
		return nil, errors.Join(ErrProviderCall, err)
	}
	return sub, nil
}

// ActivateDirect grants a plan without a payment provider. It is the one path
// where this service is itself authoritative, and it exists only in
// ModeDirect so it can never race the webhook-driven path.
func (s *service) ActivateDirect(ctx context.Context, userID uuid.UUID, planID PlanID, interval Interval) error {
	if s.mode != ModeDirect {
		return ErrDirectActivationDisabled
	}
	if !interval.Valid() {
		return ErrInvalidInterval
	}
	plan, err := s.catalog.Plan(planID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	ent, exists, err := s.getOrNew(ctx, userID)
	if err != nil {
		return err
	}

	ent.Plan = plan.ID
	if plan.ID == PlanFree {
		ent.PlanExpiresAt = nil
	} else {
		expires := s.now().AddDate(0, interval.Months(), 0)
		ent.PlanExpiresAt = &expires
	}

	if err := s.save(ctx, ent, exists); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "direct plan activation applied",
		logger.UserID(userID), logger.Plan(plan.ID))
	return nil
}

// HandleWebhook verifies, normalizes, dedupes and applies one webhook
// delivery. Signature failure is the only error surfaced to the transport;
// every other outcome acknowledges so the provider does not retry-storm
// events that retrying cannot fix.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.mode != ModeProvider {
		return ErrNotConfigured
	}

	ev, eventID, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}
	if ev == nil {
		s.log.DebugContext(ctx, "ignoring unhandled webhook event", logger.EventID(eventID))
		return nil
	}

	if s.dedupe != nil && eventID != "" {
		// Concurrent deliveries of one event id serialize here, so the
		// Seen check, the apply, and the Mark act as a single step for
		// that id. InvoicePaymentFailed in particular may carry no user
		// and gets no per-user lock, yet must never notify twice.
		unlock := s.deliveries.lock(eventID)
		defer unlock()

		seen, err := s.dedupe.Seen(ctx, eventID)
		if err != nil {
			s.log.ErrorContext(ctx, "webhook dedupe lookup failed", logger.Error(err))
		} else if seen {
			s.log.InfoContext(ctx, "skipping duplicate webhook event", logger.EventID(eventID))
			return nil
		}
	}

	if err := s.apply(ctx, ev); err != nil {
		switch {
		case errors.Is(err, ErrStaleEvent):
			s.log.WarnContext(ctx, "dropped stale webhook event",
				logger.EventID(eventID), slog.String("event", fmt.Sprintf("%T", ev)))
		case errors.Is(err, ErrEntitlementNotFound):
			s.log.WarnContext(ctx, "webhook event for unknown user",
				logger.EventID(eventID), slog.String("event", fmt.Sprintf("%T", ev)))
		default:
			s.log.ErrorContext(ctx, "failed to apply webhook event",
				logger.EventID(eventID), logger.Error(err))
		}
		return nil
	}

	if s.dedupe != nil && eventID != "" {
		if err := s.dedupe.Mark(ctx, eventID); err != nil {
			s.log.ErrorContext(ctx, "webhook dedupe mark failed", logger.EventID(eventID), logger.Error(err))
		}
	}
	return nil
}

// apply runs one domain event through the reconciliation rules. All handlers
// are idempotent, and all mutations for a single user are serialized through
// the per-user lock.
func (s *service) apply(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, ev)
	case SubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, ev)
	case SubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, ev)
	case InvoicePaymentFailed:
		return s.applyInvoicePaymentFailed(ctx, ev)
	default:
		return fmt.Errorf("unknown billing event %T", ev)
	}
}

func (s *service) applyCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) error {
	unlock := s.locks.lock(ev.UserID)
	defer unlock()

	ent, exists, err := s.getOrNew(ctx, ev.UserID)
	if err != nil {
		return err
	}

	// Redelivery with identical values is a no-op.
	if ent.Plan == ev.PlanID &&
		ent.ProviderCustomerID == ev.CustomerID &&
		ent.ProviderSubscriptionID == ev.SubscriptionID {
		return nil
	}

	ent.Plan = ev.PlanID
	ent.ProviderCustomerID = ev.CustomerID
	ent.ProviderSubscriptionID = ev.SubscriptionID
	// PlanExpiresAt stays untouched: the provider's SubscriptionUpdated event
	// carries the authoritative period end.
	return s.save(ctx, ent, exists)
}

func (s *service) applySubscriptionUpdated(ctx context.Context, ev SubscriptionUpdated) error {
	unlock := s.locks.lock(ev.UserID)
	defer unlock()

	ent, err := s.store.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if err := guardSubscription(ent, ev.SubscriptionID); err != nil {
		return err
	}

	// The provider's billing-period signal always overwrites, even when it
	// moves the expiry earlier (mid-cycle downgrades).
	periodEnd := ev.CurrentPeriodEnd
	ent.PlanExpiresAt = &periodEnd
	return s.store.Update(ctx, ent)
}

func (s *service) applySubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) error {
	unlock := s.locks.lock(ev.UserID)
	defer unlock()

	ent, err := s.store.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if err := guardSubscription(ent, ev.SubscriptionID); err != nil {
		return err
	}

	ent.Plan = PlanFree
	ent.ProviderSubscriptionID = ""
	ent.PlanExpiresAt = nil
	return s.store.Update(ctx, ent)
}

func (s *service) applyInvoicePaymentFailed(ctx context.Context, ev InvoicePaymentFailed) error {
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.PaymentFailed(ctx, ev); err != nil {
		// Notification delivery must not fail the webhook acknowledgement.
		s.log.ErrorContext(ctx, "payment failure notification failed",
			slog.String("invoice_id", ev.InvoiceID), logger.Error(err))
	}
	return nil
}

// guardSubscription is the ordering guard: any mutation keyed by a
// subscription ID applies only while that subscription is the one on record.
// A mismatch means the event raced a subscription replacement or a
// cancellation and must be dropped, not applied.
func guardSubscription(ent *Entitlement, subscriptionID string) error {
	if subscriptionID == "" || ent.ProviderSubscriptionID == "" || ent.ProviderSubscriptionID != subscriptionID {
		return ErrStaleEvent
	}
	return nil
}

func (s *service) getOrNew(ctx context.Context, userID uuid.UUID) (*Entitlement, bool, error) {
	ent, err := s.store.Get(ctx, userID)
	if err == nil {
		return ent, true, nil
	}
	if errors.Is(err, ErrEntitlementNotFound) {
		return NewEntitlement(userID), false, nil
	}
	return nil, false, err
}

func (s *service) save(ctx context.Context, ent *Entitlement, exists bool) error {
	if exists {
		return s.store.Update(ctx, ent)
	}
	return s.store.Create(ctx, ent)
}

// userLocks serializes mutations per user. Lock granularity is the user ID;
// the map grows with the number of distinct users seen by this process, which
// is bounded and small compared to the entitlement records themselves.
type userLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func (l *userLocks) lock(userID uuid.UUID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uuid.UUID]*sync.Mutex)
	}
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// eventLocks serializes webhook deliveries that share a provider event id.
// Unlike userLocks the key space is unbounded, so entries are reference
// counted and dropped when the last holder releases.
type eventLocks struct {
	mu    sync.Mutex
	locks map[string]*eventLock
}

type eventLock struct {
	mu   sync.Mutex
	refs int
}

func (l *eventLocks) lock(eventID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*eventLock)
	}
	e, ok := l.locks[eventID]
	if !ok {
		e = &eventLock{}
		l.locks[eventID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, eventID)
		}
		l.mu.Unlock()
	}
}
