package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/feastly/dispatch/internal/domain"
)

// Dispatcher re-runs dispatch for a shop order whose broadcast went
// stale. Satisfied by *Orchestrator.
type Dispatcher interface {
	Dispatch(ctx context.Context, order *domain.Order, shopOrder *domain.ShopOrder) (*Result, error)
}

// StaleStore expires broadcasts older than a cutoff.
type StaleStore interface {
	ExpireStale(ctx context.Context, cutoff time.Time) ([]domain.Assignment, error)
}

// Reaper sweeps broadcasts nobody accepted within the offer TTL: the
// entry moves to the expired terminal state and the shop order is
// re-dispatched so a fresh set of couriers gets the offer.
type Reaper struct {
	ttl        time.Duration
	store      StaleStore
	orders     OrderStore
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewReaper(ttl time.Duration, store StaleStore, orders OrderStore, dispatcher Dispatcher, logger *slog.Logger) *Reaper {
	return &Reaper{
		ttl:        ttl,
		store:      store,
		orders:     orders,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Run sweeps on every tick until the context is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires stale broadcasts and redispatches their shop orders.
// Returns how many entries were expired.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.ttl <= 0 {
		return 0, nil
	}

	expired, err := r.store.ExpireStale(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}

	for _, assignment := range expired {
		r.logger.Info("broadcast expired",
			"assignment_id", assignment.ID, "order_id", assignment.OrderID)

		order, err := r.orders.GetByID(ctx, assignment.OrderID)
		if err != nil || order == nil {
			r.logger.Error("failed to load order for redispatch", "error", err,
				"order_id", assignment.OrderID)
			continue
		}

		shopOrder := order.ShopOrderByID(assignment.ShopOrderID)
		if shopOrder == nil || shopOrder.Status != domain.ShopOrderStatusOutForDelivery {
			continue
		}

		result, err := r.dispatcher.Dispatch(ctx, order, shopOrder)
		if err != nil {
			r.logger.Error("redispatch failed", "error", err, "order_id", order.ID)
			continue
		}
		if result.Assignment == nil {
			r.logger.Info("redispatch found no couriers", "order_id", order.ID, "reason", result.Reason)
		}
	}

	return len(expired), nil
}
