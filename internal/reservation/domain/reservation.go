package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusReleased || s == StatusExpired
}

// Variant is an identity reference into the catalog. Only the authoritative
// physical stock count is carried here; everything else about the variant
// belongs to the catalog.
type Variant struct {
	TenantID    string
	VariantID   string
	StockOnHand int
}

// Reservation is a time-bounded provisional hold on a quantity of a
// variant's stock. Quantity is immutable after creation.
type Reservation struct {
	ID         string
	TenantID   string
	VariantID  string
	Quantity   int
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ReleasedAt *time.Time
}

// ExpiredBy reports whether the reservation's TTL has elapsed at the given
// instant. Only meaningful for ACTIVE reservations.
func (r Reservation) ExpiredBy(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Age is the time elapsed since the reservation was created.
func (r Reservation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

func NewReservation(tenantID, variantID string, quantity int, ttl time.Duration) Reservation {
	now := time.Now().UTC()
	return Reservation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		VariantID: variantID,
		Quantity:  quantity,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Stats is the per-tenant reservation summary served to admin tooling.
type Stats struct {
	ActiveCount    int
	StaleCount     int
	VeryStaleCount int
}
