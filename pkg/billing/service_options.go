package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the structured logger. The default discards.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDeduper enables webhook event-id deduplication. Without it the service
// relies on the idempotent field-assignment semantics of the reconciliation
// handlers, which is safe but reapplies notification side effects on
// redelivery.
func WithDeduper(d Deduper) ServiceOption {
	return func(s *service) {
		s.dedupe = d
	}
}

// WithNotifier routes payment-failure events to the given Notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *service) {
		s.notifier = n
	}
}
