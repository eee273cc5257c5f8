// Package adapters holds the resource-kind collaborators that translate
// lease outcomes into resource state: a committed gift item becomes gifted,
// a released store product goes back on the shelf. The lease engine never
// imports this package; the transport layer and the sweeper wiring call it.
package adapters

import (
	"context"
	"fmt"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewRegistry wires one adapter per resource kind against the shared pool.
func NewRegistry(pool *pgxpool.Pool) domain.AdapterRegistry {
	return domain.AdapterRegistry{
		domain.ResourceKindGiftItem:     &GiftItemAdapter{pool: pool},
		domain.ResourceKindStoreProduct: &StoreProductAdapter{pool: pool},
	}
}

// GiftItemAdapter marks wishlist items gifted or available again.
type GiftItemAdapter struct {
	pool *pgxpool.Pool
}

func (a *GiftItemAdapter) MarkAllocated(ctx context.Context, resourceID string) error {
	return upsertStatus(ctx, a.pool, "gift_items", resourceID, "gifted")
}

func (a *GiftItemAdapter) MarkAvailable(ctx context.Context, resourceID string) error {
	return upsertStatus(ctx, a.pool, "gift_items", resourceID, "available")
}

// StoreProductAdapter marks in-store products reserved or available again.
type StoreProductAdapter struct {
	pool *pgxpool.Pool
}

func (a *StoreProductAdapter) MarkAllocated(ctx context.Context, resourceID string) error {
	return upsertStatus(ctx, a.pool, "store_products", resourceID, "reserved")
}

func (a *StoreProductAdapter) MarkAvailable(ctx context.Context, resourceID string) error {
	return upsertStatus(ctx, a.pool, "store_products", resourceID, "available")
}

func upsertStatus(ctx context.Context, pool *pgxpool.Pool, table, resourceID, status string) error {
	// Resource rows are owned by the surrounding application; the upsert
	// keeps the adapter safe when this service sees an id first.
	stmt := fmt.Sprintf(`
INSERT INTO %s (id, status, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`, table)

	if _, err := pool.Exec(ctx, stmt, resourceID, status); err != nil {
		return fmt.Errorf("mark %s %s: %w", table, status, err)
	}
	return nil
}
