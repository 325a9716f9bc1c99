package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feastly/dispatch/internal/domain"
	"github.com/feastly/dispatch/internal/notify"
)

// OrderStore loads orders for post-acceptance bookkeeping.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// ContactStore resolves user ids to connection handles for pushes.
type ContactStore interface {
	ConnectionHandles(ctx context.Context, ids []string) (map[string]string, error)
}

// Resolver arbitrates concurrent acceptance attempts. The ledger's
// conditional update is the only writer of the broadcasted→assigned
// transition, so at most one courier ever wins a given assignment.
type Resolver struct {
	store    AssignmentStore
	orders   OrderStore
	contacts ContactStore
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewResolver(store AssignmentStore, orders OrderStore, contacts ContactStore, notifier notify.Notifier, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		orders:   orders,
		contacts: contacts,
		notifier: notifier,
		logger:   logger,
	}
}

// Accept attempts to claim the assignment for the courier. Errors:
// ErrAssignmentNotFound, ErrAssignmentExpired (no longer broadcasted),
// ErrCourierBusy (courier holds another accepted assignment) and
// ErrAssignmentTaken (lost the race).
func (r *Resolver) Accept(ctx context.Context, assignmentID, courierID string) (*domain.Assignment, error) {
	assignment, err := r.store.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	if assignment.Status != domain.AssignmentStatusBroadcasted {
		return nil, ErrAssignmentExpired
	}

	busy, err := r.store.HasActiveFor(ctx, courierID)
	if err != nil {
		return nil, fmt.Errorf("busy check: %w", err)
	}
	if busy {
		return nil, ErrCourierBusy
	}

	// Both preflight checks race with other accepts; the conditional
	// update below is what actually decides the winner.
	accepted, err := r.store.Accept(ctx, assignmentID, courierID)
	if err != nil {
		return nil, err
	}

	if err := r.store.LinkCourier(ctx, accepted.ShopOrderID, courierID); err != nil {
		return nil, fmt.Errorf("link courier on shop order: %w", err)
	}

	r.notifyParties(ctx, accepted, courierID)

	r.logger.Info("assignment accepted",
		"assignment_id", accepted.ID, "order_id", accepted.OrderID, "courier_id", courierID)

	return accepted, nil
}

// notifyParties pushes delivery:assigned to the customer and the shop
// owner. Losing candidates are not notified; the offer simply vanishes
// from their list on the next fetch.
func (r *Resolver) notifyParties(ctx context.Context, assignment *domain.Assignment, courierID string) {
	order, err := r.orders.GetByID(ctx, assignment.OrderID)
	if err != nil || order == nil {
		r.logger.Error("failed to load order for acceptance pushes", "error", err,
			"order_id", assignment.OrderID)
		return
	}

	shopOrder := order.ShopOrderByID(assignment.ShopOrderID)
	if shopOrder == nil {
		r.logger.Error("accepted assignment references unknown shop order",
			"assignment_id", assignment.ID, "shop_order_id", assignment.ShopOrderID)
		return
	}

	handles, err := r.contacts.ConnectionHandles(ctx, []string{order.CustomerID, shopOrder.OwnerID})
	if err != nil {
		r.logger.Error("failed to resolve connection handles", "error", err)
		return
	}

	event := domain.DeliveryAssignedEvent{
		OrderID:   order.ID,
		ShopID:    shopOrder.ShopID,
		CourierID: courierID,
	}
	for _, recipient := range []string{order.CustomerID, shopOrder.OwnerID} {
		if err := r.notifier.Push(ctx, handles[recipient], domain.EventDeliveryAssigned, event); err != nil {
			r.logger.Error("failed to push delivery assigned", "error", err, "recipient", recipient)
		}
	}
}
