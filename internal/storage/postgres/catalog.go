package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/marketplace-core/internal/domain/catalog"
)

const getUnitSQL = `SELECT id, product_id, seller_id, sku, name, base_price,
	discount_percent, stock, published, deleted, created_at, updated_at
	FROM catalog_units
	WHERE id = $1 AND published AND NOT deleted`

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a live catalog unit. Unpublished and soft-deleted units
// are treated as missing.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Unit, error) {
	var u catalog.Unit
	err := r.pool.QueryRow(ctx, getUnitSQL, id).Scan(
		&u.ID, &u.ProductID, &u.SellerID, &u.SKU, &u.Name, &u.BasePrice,
		&u.DiscountPercent, &u.Stock, &u.Published, &u.Deleted,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting catalog unit %q: %w", id, err)
	}
	return &u, nil
}

// Decrement reduces the unit's stock by min(stock, qty) under a row lock and
// mirrors the reduction onto the product aggregate. The lock serializes
// concurrent reservations of the same unit so stock never oversells.
func (r *CatalogRepository) Decrement(ctx context.Context, id string, qty int) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning decrement tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stock int
	var productID string
	err = tx.QueryRow(ctx,
		`SELECT stock, product_id FROM catalog_units WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&stock, &productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, catalog.ErrNotFound
		}
		return 0, fmt.Errorf("locking catalog unit %q: %w", id, err)
	}

	applied := qty
	if stock < applied {
		applied = stock
	}
	if applied > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE catalog_units SET stock = stock - $2, updated_at = now() WHERE id = $1`,
			id, applied,
		); err != nil {
			return 0, fmt.Errorf("decrementing unit %q: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE products SET total_quantity = GREATEST(total_quantity - $2, 0) WHERE id = $1`,
			productID, applied,
		); err != nil {
			return 0, fmt.Errorf("decrementing product %q: %w", productID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing decrement: %w", err)
	}
	return applied, nil
}

// Restock returns reserved quantity to the unit and the product aggregate.
func (r *CatalogRepository) Restock(ctx context.Context, id string, qty int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning restock tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE catalog_units SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		id, qty,
	)
	if err != nil {
		return fmt.Errorf("restocking unit %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`UPDATE products SET total_quantity = total_quantity + $2
		 WHERE id = (SELECT product_id FROM catalog_units WHERE id = $1)`,
		id, qty,
	); err != nil {
		return fmt.Errorf("restocking product of unit %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing restock: %w", err)
	}
	return nil
}
