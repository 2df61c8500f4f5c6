package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Page is one slice of a tenant's active reservations plus the total count.
type Page struct {
	Items []domain.Reservation
	Page  int
	Size  int
	Total int
}

// Queries is the read side: every method computes from current committed
// state and never mutates reservations.
type Queries struct {
	log            *slog.Logger
	store          Store
	staleAfter     time.Duration
	veryStaleAfter time.Duration
	staleListLimit int
}

func NewQueries(log *slog.Logger, store Store, staleAfter, veryStaleAfter time.Duration, staleListLimit int) *Queries {
	if staleListLimit <= 0 {
		staleListLimit = 500
	}
	return &Queries{
		log:            log,
		store:          store,
		staleAfter:     staleAfter,
		veryStaleAfter: veryStaleAfter,
		staleListLimit: staleListLimit,
	}
}

// AvailableStock is stockOnHand minus the sum of ACTIVE reserved quantity,
// clamped at zero. A point-in-time estimate, not a reservation.
func (q *Queries) AvailableStock(ctx context.Context, tenantID, variantID string) (int, error) {
	return q.store.AvailableStock(ctx, tenantID, variantID)
}

// Reservation returns a single reservation scoped to the tenant.
func (q *Queries) Reservation(ctx context.Context, tenantID, reservationID string) (domain.Reservation, error) {
	return q.store.Get(ctx, tenantID, reservationID)
}

// ActiveReservations pages through a tenant's ACTIVE reservations. Pages are
// 1-based; size is clamped to a sane window.
func (q *Queries) ActiveReservations(ctx context.Context, tenantID string, page, size int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	items, total, err := q.store.ActiveReservations(ctx, tenantID, (page-1)*size, size)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: page, Size: size, Total: total}, nil
}

// StaleReservations lists ACTIVE reservations older than the given threshold,
// across tenants. Admin tooling uses it to review what the sweeper is about
// to reclaim or to force-reclaim early.
func (q *Queries) StaleReservations(ctx context.Context, olderThan time.Duration) ([]domain.Reservation, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return q.store.StaleReservations(ctx, cutoff, q.staleListLimit)
}

// Stats summarizes a tenant's ACTIVE reservations against the configured
// stale and very-stale thresholds.
func (q *Queries) Stats(ctx context.Context, tenantID string) (domain.Stats, error) {
	now := time.Now().UTC()
	return q.store.Stats(ctx, tenantID, now.Add(-q.staleAfter), now.Add(-q.veryStaleAfter))
}
