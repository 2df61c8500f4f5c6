package application

import (
	"context"
	"time"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
)

// Store is the durable record of reservations and the variant's authoritative
// stock counter. Every mutating method is a single atomic unit of work; a
// store implementation may surface domain.ErrConcurrencyConflict from any of
// them when a bounded lock wait times out.
type Store interface {
	// CreateActive atomically checks available headroom on the variant and
	// inserts the reservation. Returns domain.ErrInsufficientStock without
	// writing anything when quantity exceeds stockOnHand minus the sum of
	// ACTIVE reservations, and domain.ErrVariantNotFound when the variant
	// does not exist for the tenant.
	CreateActive(ctx context.Context, r domain.Reservation) error

	// Transition claims the ACTIVE reservation and moves it to the given
	// terminal status. The returned bool reports whether this call won the
	// claim; when false, the returned reservation carries the status that
	// beat it so the caller can classify retries vs ordering errors.
	// A transition to StatusConfirmed decrements the variant's stockOnHand
	// by the reservation quantity within the same unit of work.
	Transition(ctx context.Context, tenantID, reservationID string, to domain.Status) (domain.Reservation, bool, error)

	// ExpireBatch claims up to limit ACTIVE reservations whose expiresAt is
	// before cutoff and moves them to EXPIRED. Each reservation is claimed
	// at most once even when multiple sweepers run concurrently.
	ExpireBatch(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)

	Get(ctx context.Context, tenantID, reservationID string) (domain.Reservation, error)
	AvailableStock(ctx context.Context, tenantID, variantID string) (int, error)
	ActiveReservations(ctx context.Context, tenantID string, offset, limit int) ([]domain.Reservation, int, error)
	StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)
	Stats(ctx context.Context, tenantID string, staleCutoff, veryStaleCutoff time.Time) (domain.Stats, error)
}

// Catalog is the external collaborator owning variant identity. The engine
// only ever asks it whether a variant exists for a tenant.
type Catalog interface {
	Variant(ctx context.Context, tenantID, variantID string) (domain.Variant, error)
}
