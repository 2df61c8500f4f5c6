// Package memory holds an in-memory reservation store. It backs unit tests
// and local development; the mutex gives the same atomicity the Postgres
// store gets from row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
)

type Store struct {
	mu           sync.RWMutex
	variants     map[string]*domain.Variant     // tenantID/variantID -> variant
	reservations map[string]*domain.Reservation // reservationID -> reservation
}

func NewStore() *Store {
	return &Store{
		variants:     make(map[string]*domain.Variant),
		reservations: make(map[string]*domain.Reservation),
	}
}

func variantKey(tenantID, variantID string) string {
	return tenantID + "/" + variantID
}

// SeedVariant registers a variant with its physical stock count.
func (s *Store) SeedVariant(tenantID, variantID string, stockOnHand int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variantKey(tenantID, variantID)] = &domain.Variant{
		TenantID:    tenantID,
		VariantID:   variantID,
		StockOnHand: stockOnHand,
	}
}

// Variant implements the catalog port against the seeded variants.
func (s *Store) Variant(_ context.Context, tenantID, variantID string) (domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[variantKey(tenantID, variantID)]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return *v, nil
}

func (s *Store) CreateActive(_ context.Context, r domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantKey(r.TenantID, r.VariantID)]
	if !ok {
		return domain.ErrVariantNotFound
	}
	if r.Quantity > v.StockOnHand-s.activeReservedLocked(r.TenantID, r.VariantID) {
		return domain.ErrInsufficientStock
	}
	stored := r
	s.reservations[r.ID] = &stored
	return nil
}

func (s *Store) Transition(_ context.Context, tenantID, reservationID string, to domain.Status) (domain.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false, domain.ErrReservationNotFound
	}
	if r.TenantID != tenantID {
		return domain.Reservation{}, false, domain.ErrTenantMismatch
	}
	if r.Status != domain.StatusActive {
		return *r, false, nil
	}

	r.Status = to
	switch to {
	case domain.StatusReleased, domain.StatusExpired:
		now := time.Now().UTC()
		r.ReleasedAt = &now
	case domain.StatusConfirmed:
		s.variants[variantKey(r.TenantID, r.VariantID)].StockOnHand -= r.Quantity
	}
	return *r, true, nil
}

func (s *Store) ExpireBatch(_ context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.StatusActive && r.ExpiresAt.Before(cutoff) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	now := time.Now().UTC()
	expired := make([]domain.Reservation, 0, len(due))
	for _, r := range due {
		r.Status = domain.StatusExpired
		at := now
		r.ReleasedAt = &at
		expired = append(expired, *r)
	}
	return expired, nil
}

func (s *Store) Get(_ context.Context, tenantID, reservationID string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if r.TenantID != tenantID {
		return domain.Reservation{}, domain.ErrTenantMismatch
	}
	return *r, nil
}

func (s *Store) AvailableStock(_ context.Context, tenantID, variantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[variantKey(tenantID, variantID)]
	if !ok {
		return 0, domain.ErrVariantNotFound
	}
	available := v.StockOnHand - s.activeReservedLocked(tenantID, variantID)
	if available < 0 {
		available = 0
	}
	return available, nil
}

func (s *Store) ActiveReservations(_ context.Context, tenantID string, offset, limit int) ([]domain.Reservation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []domain.Reservation
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.Status == domain.StatusActive {
			active = append(active, *r)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })

	total := len(active)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return active[offset:end], total, nil
}

func (s *Store) StaleReservations(_ context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.StatusActive && r.CreatedAt.Before(cutoff) {
			stale = append(stale, *r)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Store) Stats(_ context.Context, tenantID string, staleCutoff, veryStaleCutoff time.Time) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.Stats
	for _, r := range s.reservations {
		if r.TenantID != tenantID || r.Status != domain.StatusActive {
			continue
		}
		stats.ActiveCount++
		if r.CreatedAt.Before(staleCutoff) {
			stats.StaleCount++
		}
		if r.CreatedAt.Before(veryStaleCutoff) {
			stats.VeryStaleCount++
		}
	}
	return stats, nil
}

// activeReservedLocked sums ACTIVE quantity for the variant. Callers hold the
// lock.
func (s *Store) activeReservedLocked(tenantID, variantID string) int {
	reserved := 0
	for _, r := range s.reservations {
		if r.TenantID == tenantID && r.VariantID == variantID && r.Status == domain.StatusActive {
			reserved += r.Quantity
		}
	}
	return reserved
}
