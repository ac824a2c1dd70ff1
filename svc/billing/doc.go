// Package billing exposes the billing core over HTTP: plan catalog, user
// entitlement status, checkout/portal/cancel/reactivate actions and the
// provider webhook endpoint.
//
// Authentication is an external collaborator. RequireUser trusts the
// X-User-ID header injected by an upstream auth proxy; deployments exposing
// this service directly must replace it. RequirePaid gates premium routes on
// the user's effective plan.
package billing
