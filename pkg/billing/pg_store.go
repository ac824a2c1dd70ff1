package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/prepdeck/pkg/pg"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Postgres-backed Store on top of a pgx pool.
// The schema lives in migrations/00001_create_entitlements.sql.
func NewPGStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &pgStore{pool: pool}
}

const selectEntitlement = `
SELECT user_id, plan, plan_expires_at, provider_customer_id, provider_subscription_id, version, created_at, updated_at
FROM entitlements
WHERE user_id = $1`

func (s *pgStore) Get(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	var e Entitlement
	err := s.pool.QueryRow(ctx, selectEntitlement, userID).Scan(
		&e.UserID,
		&e.Plan,
		&e.PlanExpiresAt,
		&e.ProviderCustomerID,
		&e.ProviderSubscriptionID,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrEntitlementNotFound
		}
		return nil, err
	}
	return &e, nil
}

const insertEntitlement = `
INSERT INTO entitlements (user_id, plan, plan_expires_at, provider_customer_id, provider_subscription_id, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $6)`

func (s *pgStore) Create(ctx context.Context, e *Entitlement) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, insertEntitlement,
		e.UserID, e.Plan, e.PlanExpiresAt, e.ProviderCustomerID, e.ProviderSubscriptionID, now)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return err
	}
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

const updateEntitlement = `
UPDATE entitlements
SET plan = $2,
    plan_expires_at = $3,
    provider_customer_id = $4,
    provider_subscription_id = $5,
    version = version + 1,
    updated_at = $6
WHERE user_id = $1 AND version = $7`

func (s *pgStore) Update(ctx context.Context, e *Entitlement) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, updateEntitlement,
		e.UserID, e.Plan, e.PlanExpiresAt, e.ProviderCustomerID, e.ProviderSubscriptionID, now, e.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row disappeared or the version moved; disambiguate so the
		// caller gets the right sentinel.
		if _, getErr := s.Get(ctx, e.UserID); errors.Is(getErr, ErrEntitlementNotFound) {
			return ErrEntitlementNotFound
		}
		return ErrVersionConflict
	}
	e.Version++
	e.UpdatedAt = now
	return nil
}
