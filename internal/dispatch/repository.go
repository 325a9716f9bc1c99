package dispatch

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/feastly/dispatch/internal/domain"
)

// Repository owns the assignment ledger. It also writes the two shop
// order columns that mirror ledger state (assignment_id and
// assigned_courier_id) so that linking happens in the same transaction
// as the ledger write.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateAndLink inserts a broadcasted ledger entry and links it to its
// shop order atomically. A partial state where the entry exists but
// the shop order does not reference it is therefore impossible.
func (r *Repository) CreateAndLink(ctx context.Context, a *domain.Assignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignments (id, order_id, shop_order_id, shop_id, broadcasted_to, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.OrderID, a.ShopOrderID, a.ShopID, pq.Array(a.BroadcastedTo), a.Status, a.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shop_orders SET assignment_id = $2
		WHERE id = $1
	`, a.ShopOrderID, a.ID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Assignment, error) {
	a := &domain.Assignment{}
	var assignedTo sql.NullString
	var acceptedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, shop_order_id, shop_id, broadcasted_to, assigned_to, status, accepted_at, created_at
		FROM assignments
		WHERE id = $1
	`, id).Scan(&a.ID, &a.OrderID, &a.ShopOrderID, &a.ShopID, pq.Array(&a.BroadcastedTo),
		&assignedTo, &a.Status, &acceptedAt, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if assignedTo.Valid {
		a.AssignedTo = &assignedTo.String
	}
	if acceptedAt.Valid {
		a.AcceptedAt = &acceptedAt.Time
	}

	return a, nil
}

// BusyCouriers returns the subset of ids currently considered busy.
// The default policy matches only couriers who accepted a still-open
// assignment. With includeBroadcasted, couriers sitting on any open
// broadcast list are busy too, which stops one courier from piling up
// offers across orders before accepting any of them.
func (r *Repository) BusyCouriers(ctx context.Context, ids []string, includeBroadcasted bool) (map[string]struct{}, error) {
	busy := make(map[string]struct{})
	if len(ids) == 0 {
		return busy, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT assigned_to
		FROM assignments
		WHERE assigned_to = ANY($1) AND status NOT IN ('completed', 'expired')
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		busy[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !includeBroadcasted {
		return busy, nil
	}

	broadcastRows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT unnest(broadcasted_to)
		FROM assignments
		WHERE status = 'broadcasted' AND broadcasted_to && $1
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = broadcastRows.Close() }()

	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}

	for broadcastRows.Next() {
		var id string
		if err := broadcastRows.Scan(&id); err != nil {
			return nil, err
		}
		if _, ok := requested[id]; ok {
			busy[id] = struct{}{}
		}
	}

	return busy, broadcastRows.Err()
}

// HasActiveFor reports whether the courier already accepted an
// assignment that is still in flight.
func (r *Repository) HasActiveFor(ctx context.Context, courierID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM assignments
		WHERE assigned_to = $1 AND status = 'assigned'
	`, courierID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Accept performs the single compare-and-set that resolves the
// acceptance race: the transition to assigned only happens if the row
// is still broadcasted. Zero rows affected means another courier got
// there first.
func (r *Repository) Accept(ctx context.Context, assignmentID, courierID string) (*domain.Assignment, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE assignments
		SET status = 'assigned', assigned_to = $2, accepted_at = NOW()
		WHERE id = $1 AND status = 'broadcasted'
	`, assignmentID, courierID)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, ErrAssignmentTaken
	}

	return r.GetByID(ctx, assignmentID)
}

// LinkCourier records the winning courier on the shop order.
func (r *Repository) LinkCourier(ctx context.Context, shopOrderID, courierID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE shop_orders SET assigned_courier_id = $2
		WHERE id = $1
	`, shopOrderID, courierID)
	return err
}

// CompleteDelivery marks the shop order delivered and retires its
// ledger entry in one transaction. A confirmed hand-off can therefore
// never leave the courier stuck on an open assignment. The ledger
// match includes the courier so a stale caller cannot close somebody
// else's assignment.
func (r *Repository) CompleteDelivery(ctx context.Context, orderID, shopOrderID, courierID string, deliveredAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE shop_orders
		SET status = $2, delivered_at = $3, otp_code = NULL, otp_expires_at = NULL
		WHERE id = $1
	`, shopOrderID, domain.ShopOrderStatusDelivered, deliveredAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE assignments SET status = 'completed'
		WHERE order_id = $1 AND shop_order_id = $2 AND assigned_to = $3 AND status = 'assigned'
	`, orderID, shopOrderID, courierID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// CurrentFor returns the assignment the courier has accepted and not
// yet delivered, or nil.
func (r *Repository) CurrentFor(ctx context.Context, courierID string) (*domain.Assignment, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM assignments
		WHERE assigned_to = $1 AND status = 'assigned'
		ORDER BY accepted_at DESC
		LIMIT 1
	`, courierID).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// OpenBroadcastsFor lists the assignments whose offer is still open
// for this courier.
func (r *Repository) OpenBroadcastsFor(ctx context.Context, courierID string) ([]domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, shop_order_id, shop_id, broadcasted_to, status, created_at
		FROM assignments
		WHERE status = 'broadcasted' AND $1 = ANY(broadcasted_to)
		ORDER BY created_at DESC
	`, courierID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var assignments []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.OrderID, &a.ShopOrderID, &a.ShopID,
			pq.Array(&a.BroadcastedTo), &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// ExpireStale moves broadcasts older than cutoff to the expired
// terminal state and unlinks them from their shop orders, returning
// what was expired so the caller can redispatch.
func (r *Repository) ExpireStale(ctx context.Context, cutoff time.Time) ([]domain.Assignment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE assignments SET status = 'expired'
		WHERE status = 'broadcasted' AND created_at < $1
		RETURNING id, order_id, shop_order_id, shop_id, broadcasted_to, created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}

	var expired []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.OrderID, &a.ShopOrderID, &a.ShopID,
			pq.Array(&a.BroadcastedTo), &a.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		a.Status = domain.AssignmentStatusExpired
		expired = append(expired, a)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, a := range expired {
		if _, err := tx.ExecContext(ctx, `
			UPDATE shop_orders SET assignment_id = NULL, assigned_courier_id = NULL
			WHERE id = $1 AND assignment_id = $2
		`, a.ShopOrderID, a.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return expired, nil
}
