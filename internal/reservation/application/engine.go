package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
)

// EngineConfig carries the business knobs; none of them are hard-coded
// inside the engine.
type EngineConfig struct {
	// DefaultTTL applies when a caller passes ttl <= 0.
	DefaultTTL time.Duration
	// MaxRetries bounds the internal retry loop on ErrConcurrencyConflict.
	MaxRetries int
	// RetryBackoff is the base delay between retries, scaled linearly.
	RetryBackoff time.Duration
	// ExpireBatchSize bounds how many reservations a single CleanupExpired
	// call claims, keeping the expiry transaction short.
	ExpireBatchSize int
}

// Engine implements reserve / release / confirm with concurrency-safe stock
// accounting on top of a Store.
type Engine struct {
	log     *slog.Logger
	store   Store
	catalog Catalog
	cfg     EngineConfig
	tracer  trace.Tracer
}

func NewEngine(log *slog.Logger, store Store, catalog Catalog, cfg EngineConfig) *Engine {
	if cfg.ExpireBatchSize <= 0 {
		cfg.ExpireBatchSize = 100
	}
	return &Engine{
		log:     log,
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		tracer:  otel.Tracer("reservation-engine"),
	}
}

// Reserve places a provisional hold of quantity units on the variant's stock.
// On success the invariant sum(ACTIVE quantity) <= stockOnHand still holds;
// two competing calls never both succeed when only one has headroom.
func (e *Engine) Reserve(ctx context.Context, tenantID, variantID string, quantity int, ttl time.Duration) (domain.Reservation, error) {
	ctx, span := e.tracer.Start(ctx, "Reserve")
	defer span.End()

	if quantity <= 0 {
		return domain.Reservation{}, domain.ErrInvalidQuantity
	}
	if ttl <= 0 {
		ttl = e.cfg.DefaultTTL
	}
	if _, err := e.catalog.Variant(ctx, tenantID, variantID); err != nil {
		return domain.Reservation{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Reservation{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * e.cfg.RetryBackoff):
			}
		}

		r := domain.NewReservation(tenantID, variantID, quantity, ttl)
		err := e.store.CreateActive(ctx, r)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			lastErr = err
			e.log.Warn("reserve conflicted, retrying",
				"tenant_id", tenantID, "variant_id", variantID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return domain.Reservation{}, err
		}
		e.log.Info("stock reserved",
			"tenant_id", tenantID, "variant_id", variantID,
			"reservation_id", r.ID, "quantity", quantity, "expires_at", r.ExpiresAt)
		return r, nil
	}
	return domain.Reservation{}, lastErr
}

// Release returns the held quantity to the available pool. Releasing an
// already-RELEASED reservation is a no-op; releasing a CONFIRMED or EXPIRED
// one returns ErrAlreadyTerminal so the caller sees the ordering problem.
func (e *Engine) Release(ctx context.Context, tenantID, reservationID string) error {
	ctx, span := e.tracer.Start(ctx, "Release")
	defer span.End()

	r, claimed, err := e.store.Transition(ctx, tenantID, reservationID, domain.StatusReleased)
	if err != nil {
		return err
	}
	if claimed {
		e.log.Info("reservation released",
			"tenant_id", tenantID, "reservation_id", reservationID, "quantity", r.Quantity)
		return nil
	}
	if r.Status == domain.StatusReleased {
		return nil
	}
	return fmt.Errorf("%w: reservation %s is %s", domain.ErrAlreadyTerminal, reservationID, r.Status)
}

// Confirm consumes the held stock permanently: ACTIVE -> CONFIRMED plus the
// stockOnHand decrement happen in one unit of work. Confirming twice is a
// no-op and never double-decrements.
func (e *Engine) Confirm(ctx context.Context, tenantID, reservationID string) error {
	ctx, span := e.tracer.Start(ctx, "Confirm")
	defer span.End()

	r, claimed, err := e.store.Transition(ctx, tenantID, reservationID, domain.StatusConfirmed)
	if err != nil {
		return err
	}
	if claimed {
		e.log.Info("reservation confirmed",
			"tenant_id", tenantID, "reservation_id", reservationID, "quantity", r.Quantity)
		return nil
	}
	if r.Status == domain.StatusConfirmed {
		return nil
	}
	return fmt.Errorf("%w: reservation %s is %s", domain.ErrAlreadyTerminal, reservationID, r.Status)
}

// BulkRelease releases each reservation best-effort and returns the number
// of successes. Per-item failures are logged and skipped, never aborting the
// rest of the batch.
func (e *Engine) BulkRelease(ctx context.Context, tenantID string, reservationIDs []string) int {
	released := 0
	for _, id := range reservationIDs {
		if err := e.Release(ctx, tenantID, id); err != nil {
			e.log.Warn("bulk release skipped reservation",
				"tenant_id", tenantID, "reservation_id", id, "err", err)
			continue
		}
		released++
	}
	return released
}

// CleanupExpired claims one bounded batch of overdue ACTIVE reservations and
// expires them, restoring their quantity to availability. The sweeper calls
// this on a schedule; operators may also trigger it directly. Reservations
// left over remain ACTIVE and are picked up on a later call.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "CleanupExpired")
	defer span.End()

	expired, err := e.store.ExpireBatch(ctx, time.Now().UTC(), e.cfg.ExpireBatchSize)
	if err != nil {
		return 0, err
	}
	for _, r := range expired {
		e.log.Info("reservation expired",
			"tenant_id", r.TenantID, "reservation_id", r.ID,
			"variant_id", r.VariantID, "quantity", r.Quantity)
	}
	return len(expired), nil
}
