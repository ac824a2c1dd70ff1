// Package billing implements the subscription and entitlement lifecycle for
// prepdeck: plan catalog, entitlement storage, payment provider integration,
// and the reconciliation engine that keeps local state consistent with an
// asynchronous, at-least-once webhook stream.
//
// # Architecture
//
// The package is organized around a small number of collaborating pieces:
//
//   - Catalog: static plan definitions (features, limits, provider price IDs)
//   - Entitlement: per-user stored plan state with expiry and provider linkage
//   - Store: entitlement persistence with optimistic version checks
//   - Provider: payment provider abstraction (Paddle and Stripe included)
//   - Service: synchronous user actions plus webhook reconciliation
//   - Deduper: optional webhook event-id deduplication (memory or Redis)
//   - Notifier: payment-failure notifications (log or Postmark email)
//
// # Consistency model
//
// Webhook deliveries and user actions race against the same entitlement
// record. The service serializes all mutations per user and stores enforce a
// compare-and-set on a version column, so two deliveries for the same user
// can never interleave into an inconsistent final state. Every event handler
// is idempotent under redelivery, and mutations keyed by a subscription ID
// are guarded against stale events: an event whose subscription ID no longer
// matches the stored one is dropped, which protects against a cancellation
// racing ahead of a delayed update.
//
// Reads never trust the stored plan field directly. Entitlement.EffectivePlanAt
// accounts for expiry, and all gating must go through it or through
// Service.Status.
//
// # Modes
//
// The service runs in exactly one of two modes. In ModeProvider a payment
// provider owns entitlement changes: checkout, portal, cancel and reactivate
// delegate to the provider, and webhooks reconcile local state. In ModeDirect
// no provider exists and ActivateDirect grants plans locally (demo and
// self-hosted installs). The constructor rejects any mixed configuration so
// the two sources of truth can never diverge.
//
// # Quick start
//
//	catalog := billing.DefaultCatalog()
//	store := billing.NewMemoryStore()
//
//	provider, err := billing.NewStripeProvider(stripeCfg, catalog)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	svc, err := billing.NewService(catalog, store, provider, billing.ModeProvider,
//		billing.WithLogger(logger),
//		billing.WithDeduper(billing.NewMemoryDeduper(24*time.Hour)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// HTTP webhook endpoint:
//	//   err := svc.HandleWebhook(ctx, body, r.Header.Get("Stripe-Signature"))
//	//   Only billing.ErrInvalidSignature warrants a non-200 response.
package billing
