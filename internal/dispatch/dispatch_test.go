package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/feastly/dispatch/internal/couriers"
	"github.com/feastly/dispatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func float64Ptr(v float64) *float64 { return &v }

type fakeLocator struct {
	positions []couriers.Position
	err       error
}

func (f *fakeLocator) Nearby(_ context.Context, _, _, _ float64) ([]couriers.Position, error) {
	return f.positions, f.err
}

type fakeCourierStore struct {
	couriers map[string]domain.Courier
}

func (f *fakeCourierStore) GetByIDs(_ context.Context, ids []string) ([]domain.Courier, error) {
	var out []domain.Courier
	for _, id := range ids {
		if c, ok := f.couriers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeAssignmentStore mimics the ledger's conditional update under a
// mutex so concurrent accepts race the same way they do in Postgres.
type fakeAssignmentStore struct {
	mu          sync.Mutex
	assignments map[string]*domain.Assignment
	linked      map[string]string
	busy        map[string]struct{}
	created     []*domain.Assignment
}

func newFakeAssignmentStore() *fakeAssignmentStore {
	return &fakeAssignmentStore{
		assignments: make(map[string]*domain.Assignment),
		linked:      make(map[string]string),
		busy:        make(map[string]struct{}),
	}
}

func (f *fakeAssignmentStore) CreateAndLink(_ context.Context, a *domain.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *a
	f.assignments[a.ID] = &copied
	f.created = append(f.created, &copied)
	return nil
}

func (f *fakeAssignmentStore) GetByID(_ context.Context, id string) (*domain.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAssignmentStore) BusyCouriers(_ context.Context, ids []string, includeBroadcasted bool) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := f.busy[id]; ok {
			out[id] = struct{}{}
			continue
		}
		if includeBroadcasted && f.onOpenBroadcast(id) {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeAssignmentStore) onOpenBroadcast(courierID string) bool {
	for _, a := range f.assignments {
		if a.Status != domain.AssignmentStatusBroadcasted {
			continue
		}
		for _, id := range a.BroadcastedTo {
			if id == courierID {
				return true
			}
		}
	}
	return false
}

func (f *fakeAssignmentStore) HasActiveFor(_ context.Context, courierID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.busy[courierID]
	return ok, nil
}

func (f *fakeAssignmentStore) Accept(_ context.Context, assignmentID, courierID string) (*domain.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[assignmentID]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	if a.Status != domain.AssignmentStatusBroadcasted {
		return nil, ErrAssignmentTaken
	}
	now := time.Now()
	a.Status = domain.AssignmentStatusAssigned
	a.AssignedTo = &courierID
	a.AcceptedAt = &now
	f.busy[courierID] = struct{}{}
	copied := *a
	return &copied, nil
}

func (f *fakeAssignmentStore) LinkCourier(_ context.Context, shopOrderID, courierID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked[shopOrderID] = courierID
	return nil
}

type pushedEvent struct {
	Handle  string
	Event   string
	Payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	pushed []pushedEvent
}

func (f *fakeNotifier) Push(_ context.Context, handle, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, pushedEvent{Handle: handle, Event: event, Payload: payload})
	return nil
}

func (f *fakeNotifier) events() []pushedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushedEvent(nil), f.pushed...)
}

type fakeOrderStore struct {
	orders map[string]*domain.Order
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.orders[id], nil
}

type fakeContactStore struct {
	handles map[string]string
}

func (f *fakeContactStore) ConnectionHandles(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		out[id] = f.handles[id]
	}
	return out, nil
}

func testOrder(courierCoords bool) *domain.Order {
	order := &domain.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		DeliveryAddress: domain.DeliveryAddress{
			Text: "12 Rua Nova",
		},
		ShopOrders: []domain.ShopOrder{
			{
				ID:       "shop-order-1",
				OrderID:  "order-1",
				ShopID:   "shop-1",
				ShopName: "Green Bowl",
				OwnerID:  "owner-1",
				Subtotal: 2500,
				Status:   domain.ShopOrderStatusOutForDelivery,
			},
		},
	}
	if courierCoords {
		order.DeliveryAddress.Longitude = float64Ptr(-9.139)
		order.DeliveryAddress.Latitude = float64Ptr(38.722)
	}
	return order
}
