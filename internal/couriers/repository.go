package couriers

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/feastly/dispatch/internal/domain"
)

// Repository reads couriers out of the shared users table. Only rows
// with the courier role are visible through it.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Courier, error) {
	courier := &domain.Courier{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, mobile, email, connection_handle
		FROM users
		WHERE id = $1 AND role = 'courier'
	`, id).Scan(&courier.ID, &courier.FullName, &courier.Mobile, &courier.Email, &courier.ConnectionHandle)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return courier, nil
}

// GetByIDs returns the couriers among ids, in no particular order.
// Ids that do not exist or belong to non-courier users are dropped.
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]domain.Courier, error) {
	if len(ids) == 0 {
		return []domain.Courier{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, mobile, email, connection_handle
		FROM users
		WHERE role = 'courier' AND id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var couriers []domain.Courier
	for rows.Next() {
		var c domain.Courier
		if err := rows.Scan(&c.ID, &c.FullName, &c.Mobile, &c.Email, &c.ConnectionHandle); err != nil {
			return nil, err
		}
		couriers = append(couriers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return couriers, nil
}

// HourlyDeliveries is one bucket of a courier's daily stats.
type HourlyDeliveries struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// TodayDeliveryStats buckets the courier's completed deliveries since
// midnight by hour of day. Hours with no deliveries are omitted.
func (r *Repository) TodayDeliveryStats(ctx context.Context, courierID string) ([]HourlyDeliveries, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT EXTRACT(HOUR FROM delivered_at)::int AS hour, COUNT(*)
		FROM shop_orders
		WHERE assigned_courier_id = $1
		  AND status = 'delivered'
		  AND delivered_at >= date_trunc('day', NOW())
		GROUP BY hour
		ORDER BY hour
	`, courierID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stats := []HourlyDeliveries{}
	for rows.Next() {
		var h HourlyDeliveries
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, err
		}
		stats = append(stats, h)
	}

	return stats, rows.Err()
}

// SetConnectionHandle records the courier's realtime session handle;
// an empty handle marks them disconnected.
func (r *Repository) SetConnectionHandle(ctx context.Context, id, handle string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET connection_handle = $2
		WHERE id = $1 AND role = 'courier'
	`, id, handle)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
