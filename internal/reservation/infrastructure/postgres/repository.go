package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/tracing"
)

const reservationColumns = `id, tenant_id, variant_id, quantity, status, created_at, expires_at, released_at`

// Repository is the Postgres reservation store. Reserve takes a row lock on
// the variant for the duration of the check-then-insert; release/confirm
// claim the reservation row with a conditional update; expiry claims batches
// with FOR UPDATE SKIP LOCKED. Lock waits are bounded by lockTimeout and
// surface as domain.ErrConcurrencyConflict.
type Repository struct {
	log         *slog.Logger
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Repository{log: log, pool: pool, lockTimeout: lockTimeout}
}

func (r *Repository) CreateActive(ctx context.Context, res domain.Reservation) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var stockOnHand int
	err = tx.QueryRow(ctx,
		`SELECT stock_on_hand FROM variants WHERE tenant_id=$1 AND id=$2 FOR UPDATE`,
		res.TenantID, res.VariantID).Scan(&stockOnHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrVariantNotFound
	}
	if err != nil {
		return classify(err)
	}

	var reserved int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations
		 WHERE tenant_id=$1 AND variant_id=$2 AND status=$3`,
		res.TenantID, res.VariantID, domain.StatusActive).Scan(&reserved)
	if err != nil {
		return classify(err)
	}

	if res.Quantity > stockOnHand-reserved {
		return domain.ErrInsufficientStock
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO reservations (id, tenant_id, variant_id, quantity, status, created_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.TenantID, res.VariantID, res.Quantity, res.Status, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return classify(err)
	}

	payload, err := json.Marshal(domain.ReservationCreated{
		ReservationID: res.ID,
		TenantID:      res.TenantID,
		VariantID:     res.VariantID,
		Quantity:      res.Quantity,
		ExpiresAt:     res.ExpiresAt,
	})
	if err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, res.ID, "ReservationCreated", payload, tracing.Traceparent(ctx)); err != nil {
		return classify(err)
	}

	return tx.Commit(ctx)
}

func (r *Repository) Transition(ctx context.Context, tenantID, reservationID string, to domain.Status) (domain.Reservation, bool, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return domain.Reservation{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var releasedAt *time.Time
	if to == domain.StatusReleased || to == domain.StatusExpired {
		now := time.Now().UTC()
		releasedAt = &now
	}

	var res domain.Reservation
	err = tx.QueryRow(ctx,
		`UPDATE reservations SET status=$3, released_at=$4
		 WHERE id=$1 AND tenant_id=$2 AND status=$5
		 RETURNING `+reservationColumns,
		reservationID, tenantID, to, releasedAt, domain.StatusActive).
		Scan(scanTargets(&res)...)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the claim or the row never existed; read it to classify.
		cur, err := r.classifyUnclaimed(ctx, tx, tenantID, reservationID)
		if err != nil {
			return domain.Reservation{}, false, err
		}
		return cur, false, tx.Commit(ctx)
	}
	if err != nil {
		return domain.Reservation{}, false, classify(err)
	}

	if to == domain.StatusConfirmed {
		ct, err := tx.Exec(ctx,
			`UPDATE variants SET stock_on_hand = stock_on_hand - $3
			 WHERE tenant_id=$1 AND id=$2 AND stock_on_hand >= $3`,
			res.TenantID, res.VariantID, res.Quantity)
		if err != nil {
			return domain.Reservation{}, false, classify(err)
		}
		if ct.RowsAffected() == 0 {
			return domain.Reservation{}, false, fmt.Errorf("stock underflow confirming reservation %s", res.ID)
		}
	}

	if err := r.writeTransitionEvent(ctx, tx, res); err != nil {
		return domain.Reservation{}, false, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Reservation{}, false, classify(err)
	}
	return res, true, nil
}

func (r *Repository) classifyUnclaimed(ctx context.Context, tx pgx.Tx, tenantID, reservationID string) (domain.Reservation, error) {
	var cur domain.Reservation
	err := tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id=$1`,
		reservationID).Scan(scanTargets(&cur)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, classify(err)
	}
	if cur.TenantID != tenantID {
		return domain.Reservation{}, domain.ErrTenantMismatch
	}
	return cur, nil
}

func (r *Repository) ExpireBatch(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx,
		`UPDATE reservations SET status=$3, released_at=$1
		 WHERE id IN (
			SELECT id FROM reservations
			WHERE status=$4 AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+reservationColumns,
		cutoff, limit, domain.StatusExpired, domain.StatusActive)
	if err != nil {
		return nil, classify(err)
	}

	var expired []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(scanTargets(&res)...); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(expired) == 0 {
		return nil, tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	for _, res := range expired {
		payload, err := json.Marshal(domain.ReservationExpired{
			ReservationID: res.ID,
			TenantID:      res.TenantID,
			VariantID:     res.VariantID,
			Quantity:      res.Quantity,
			ExpiresAt:     res.ExpiresAt,
		})
		if err != nil {
			return nil, err
		}
		queueOutbox(batch, res.ID, "ReservationExpired", payload, tracing.Traceparent(ctx))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return expired, nil
}

func (r *Repository) Get(ctx context.Context, tenantID, reservationID string) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id=$1`,
		reservationID).Scan(scanTargets(&res)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, classify(err)
	}
	if res.TenantID != tenantID {
		return domain.Reservation{}, domain.ErrTenantMismatch
	}
	return res, nil
}

func (r *Repository) AvailableStock(ctx context.Context, tenantID, variantID string) (int, error) {
	var available int
	err := r.pool.QueryRow(ctx,
		`SELECT v.stock_on_hand - COALESCE((
			SELECT SUM(quantity) FROM reservations
			WHERE tenant_id=$1 AND variant_id=$2 AND status=$3
		 ), 0)
		 FROM variants v WHERE v.tenant_id=$1 AND v.id=$2`,
		tenantID, variantID, domain.StatusActive).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrVariantNotFound
	}
	if err != nil {
		return 0, classify(err)
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

func (r *Repository) ActiveReservations(ctx context.Context, tenantID string, offset, limit int) ([]domain.Reservation, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reservations WHERE tenant_id=$1 AND status=$2`,
		tenantID, domain.StatusActive).Scan(&total)
	if err != nil {
		return nil, 0, classify(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE tenant_id=$1 AND status=$2
		 ORDER BY created_at, id
		 OFFSET $3 LIMIT $4`,
		tenantID, domain.StatusActive, offset, limit)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status=$1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		domain.StatusActive, cutoff, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collect(rows)
}

func (r *Repository) Stats(ctx context.Context, tenantID string, staleCutoff, veryStaleCutoff time.Time) (domain.Stats, error) {
	var stats domain.Stats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE created_at < $3),
			COUNT(*) FILTER (WHERE created_at < $4)
		 FROM reservations WHERE tenant_id=$1 AND status=$2`,
		tenantID, domain.StatusActive, staleCutoff, veryStaleCutoff).
		Scan(&stats.ActiveCount, &stats.StaleCount, &stats.VeryStaleCount)
	if err != nil {
		return domain.Stats{}, classify(err)
	}
	return stats, nil
}

// begin opens a transaction with a bounded lock wait so contended callers
// fail fast with a retryable error instead of queueing indefinitely.
func (r *Repository) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify(err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return nil, classify(err)
	}
	return tx, nil
}

func collect(rows pgx.Rows) ([]domain.Reservation, error) {
	var items []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(scanTargets(&res)...); err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return items, nil
}

func scanTargets(res *domain.Reservation) []any {
	return []any{
		&res.ID, &res.TenantID, &res.VariantID, &res.Quantity,
		&res.Status, &res.CreatedAt, &res.ExpiresAt, &res.ReleasedAt,
	}
}

func (r *Repository) writeTransitionEvent(ctx context.Context, tx pgx.Tx, res domain.Reservation) error {
	var (
		eventType string
		payload   []byte
		err       error
	)
	switch res.Status {
	case domain.StatusConfirmed:
		eventType = "ReservationConfirmed"
		payload, err = json.Marshal(domain.ReservationConfirmed{
			ReservationID: res.ID, TenantID: res.TenantID,
			VariantID: res.VariantID, Quantity: res.Quantity,
		})
	case domain.StatusReleased:
		eventType = "ReservationReleased"
		payload, err = json.Marshal(domain.ReservationReleased{
			ReservationID: res.ID, TenantID: res.TenantID,
			VariantID: res.VariantID, Quantity: res.Quantity,
		})
	case domain.StatusExpired:
		eventType = "ReservationExpired"
		payload, err = json.Marshal(domain.ReservationExpired{
			ReservationID: res.ID, TenantID: res.TenantID,
			VariantID: res.VariantID, Quantity: res.Quantity, ExpiresAt: res.ExpiresAt,
		})
	default:
		return fmt.Errorf("no event for status %s", res.Status)
	}
	if err != nil {
		return err
	}
	return insertOutbox(ctx, tx, res.ID, eventType, payload, tracing.Traceparent(ctx))
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload []byte, traceparent string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		 VALUES ('reservation',$1,$2,$3,$4,'pending')`,
		aggregateID, eventType, payload, traceparent)
	return err
}

func queueOutbox(batch *pgx.Batch, aggregateID, eventType string, payload []byte, traceparent string) {
	batch.Queue(
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		 VALUES ('reservation',$1,$2,$3,$4,'pending')`,
		aggregateID, eventType, payload, traceparent)
}

// classify maps transient Postgres failures (bounded lock wait expiry,
// serialization failures, deadlock victims) onto the retryable conflict
// error. Everything else surfaces as an infrastructure fault.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Code)
		}
	}
	return err
}
