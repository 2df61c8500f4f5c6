package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
)

// Catalog reads variant identity from the platform's variants table. The
// engine only uses it for existence checks; the authoritative stock read for
// reserve happens under the row lock in Repository.CreateActive.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) Variant(ctx context.Context, tenantID, variantID string) (domain.Variant, error) {
	v := domain.Variant{TenantID: tenantID, VariantID: variantID}
	err := c.pool.QueryRow(ctx,
		`SELECT stock_on_hand FROM variants WHERE tenant_id=$1 AND id=$2`,
		tenantID, variantID).Scan(&v.StockOnHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	if err != nil {
		return domain.Variant{}, err
	}
	return v, nil
}
