package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records processed webhook event IDs so at-least-once redelivery
// never reapplies side effects. Entries expire after a TTL; field-level
// idempotency in the reconciliation engine remains the backstop for events
// older than the window.
//
// Seen and Mark are separate on purpose: an event is marked only after it
// applied successfully, so a delivery that failed mid-apply stays retryable.
// The service serializes concurrent deliveries of one event id, which keeps
// the two-step sequence from racing its own duplicate.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type memoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewMemoryDeduper returns an in-process Deduper for tests and single-node
// deployments.
func NewMemoryDeduper(ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &memoryDeduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

func (d *memoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expires, ok := d.seen[eventID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expires) {
		delete(d.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (d *memoryDeduper) Mark(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Opportunistic sweep keeps the map bounded without a background goroutine.
	now := time.Now()
	for id, expires := range d.seen {
		if now.After(expires) {
			delete(d.seen, id)
		}
	}

	d.seen[eventID] = now.Add(d.ttl)
	return nil
}

const redisDedupePrefix = "billing:webhook:"

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper returns a Redis-backed Deduper for multi-node deployments
// where webhook deliveries can land on any replica.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) Deduper {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisDeduper{client: client, ttl: ttl}
}

func (d *redisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, redisDedupePrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *redisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, redisDedupePrefix+eventID, 1, d.ttl).Err()
}
