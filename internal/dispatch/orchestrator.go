package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feastly/dispatch/internal/couriers"
	"github.com/feastly/dispatch/internal/domain"
	"github.com/feastly/dispatch/internal/notify"
)

// Config carries the dispatch tunables. StrictBroadcastExclusion
// changes the availability policy: by default a courier who has been
// offered (but not accepted) other assignments still counts as
// available, which reproduces the historical behaviour; strict mode
// treats any open offer as busy.
type Config struct {
	RadiusMeters             float64
	OfferTTL                 time.Duration
	StrictBroadcastExclusion bool
}

const DefaultRadiusMeters = 5000

// Locator finds couriers near a point. Backed by the Redis GEO index.
type Locator interface {
	Nearby(ctx context.Context, longitude, latitude, radiusMeters float64) ([]couriers.Position, error)
}

// CourierStore resolves candidate ids to courier records.
type CourierStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.Courier, error)
}

// AssignmentStore is the slice of the ledger repository the
// orchestrator and resolver need.
type AssignmentStore interface {
	CreateAndLink(ctx context.Context, a *domain.Assignment) error
	GetByID(ctx context.Context, id string) (*domain.Assignment, error)
	BusyCouriers(ctx context.Context, ids []string, includeBroadcasted bool) (map[string]struct{}, error)
	HasActiveFor(ctx context.Context, courierID string) (bool, error)
	Accept(ctx context.Context, assignmentID, courierID string) (*domain.Assignment, error)
	LinkCourier(ctx context.Context, shopOrderID, courierID string) error
}

// Result is what a dispatch attempt produced. Assignment is nil when
// nothing was broadcast; Reason says why.
type Result struct {
	Assignment *domain.Assignment `json:"assignment,omitempty"`
	Candidates []domain.Courier   `json:"candidates"`
	Reason     string             `json:"reason,omitempty"`
}

const (
	ReasonNoCoordinates = "delivery address has no coordinates"
	ReasonNoCouriers    = "no available couriers nearby"
)

// Orchestrator creates assignment ledger entries for shop orders going
// out for delivery and broadcasts the offer to nearby free couriers.
type Orchestrator struct {
	cfg      Config
	locator  Locator
	couriers CourierStore
	store    AssignmentStore
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(cfg Config, locator Locator, courierStore CourierStore, store AssignmentStore, notifier notify.Notifier, logger *slog.Logger) *Orchestrator {
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = DefaultRadiusMeters
	}
	return &Orchestrator{
		cfg:      cfg,
		locator:  locator,
		couriers: courierStore,
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch runs the candidate query and, when anyone qualifies,
// creates one broadcasted ledger entry linked to the shop order and
// pushes the offer to every candidate. An empty candidate set is not
// an error: the caller still persists the status change and reports
// the reason to the operator.
func (o *Orchestrator) Dispatch(ctx context.Context, order *domain.Order, shopOrder *domain.ShopOrder) (*Result, error) {
	if !order.DeliveryAddress.HasCoordinates() {
		return &Result{Candidates: []domain.Courier{}, Reason: ReasonNoCoordinates}, nil
	}

	positions, err := o.locator.Nearby(ctx,
		*order.DeliveryAddress.Longitude, *order.DeliveryAddress.Latitude, o.cfg.RadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("courier proximity query: %w", err)
	}

	if len(positions) == 0 {
		return &Result{Candidates: []domain.Courier{}, Reason: ReasonNoCouriers}, nil
	}

	nearbyIDs := make([]string, 0, len(positions))
	coords := make(map[string]couriers.Position, len(positions))
	for _, p := range positions {
		nearbyIDs = append(nearbyIDs, p.CourierID)
		coords[p.CourierID] = p
	}

	busy, err := o.store.BusyCouriers(ctx, nearbyIDs, o.cfg.StrictBroadcastExclusion)
	if err != nil {
		return nil, fmt.Errorf("availability filter: %w", err)
	}

	availableIDs := make([]string, 0, len(nearbyIDs))
	for _, id := range nearbyIDs {
		if _, isBusy := busy[id]; !isBusy {
			availableIDs = append(availableIDs, id)
		}
	}

	candidates, err := o.couriers.GetByIDs(ctx, availableIDs)
	if err != nil {
		return nil, fmt.Errorf("load candidate couriers: %w", err)
	}
	for i := range candidates {
		if p, ok := coords[candidates[i].ID]; ok {
			candidates[i].Longitude = p.Longitude
			candidates[i].Latitude = p.Latitude
		}
	}

	if len(candidates) == 0 {
		return &Result{Candidates: []domain.Courier{}, Reason: ReasonNoCouriers}, nil
	}

	candidateIDs := make([]string, len(candidates))
	for i, c := range candidates {
		candidateIDs[i] = c.ID
	}

	assignment := &domain.Assignment{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		ShopOrderID:   shopOrder.ID,
		ShopID:        shopOrder.ShopID,
		BroadcastedTo: candidateIDs,
		Status:        domain.AssignmentStatusBroadcasted,
		CreatedAt:     o.now().UTC(),
	}

	if err := o.store.CreateAndLink(ctx, assignment); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	shopOrder.AssignmentID = &assignment.ID

	for _, c := range candidates {
		offer := domain.AssignmentOfferEvent{
			SentTo:          c.ID,
			AssignmentID:    assignment.ID,
			OrderID:         order.ID,
			ShopName:        shopOrder.ShopName,
			DeliveryAddress: order.DeliveryAddress,
			Items:           shopOrder.Items,
			Subtotal:        shopOrder.Subtotal,
		}
		if err := o.notifier.Push(ctx, c.ConnectionHandle, domain.EventAssignmentOffer, offer); err != nil {
			o.logger.Error("failed to push assignment offer", "error", err,
				"assignment_id", assignment.ID, "courier_id", c.ID)
		}
	}

	o.logger.Info("assignment broadcasted",
		"assignment_id", assignment.ID, "order_id", order.ID,
		"shop_order_id", shopOrder.ID, "candidates", len(candidates))

	return &Result{Assignment: assignment, Candidates: candidates}, nil
}
