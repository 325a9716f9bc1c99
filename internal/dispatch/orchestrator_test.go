package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastly/dispatch/internal/couriers"
	"github.com/feastly/dispatch/internal/domain"
)

func TestOrchestrator_Dispatch(t *testing.T) {
	ctx := context.Background()

	courierStore := &fakeCourierStore{couriers: map[string]domain.Courier{
		"courier-1": {ID: "courier-1", FullName: "Pedro Gomes", ConnectionHandle: "conn-1"},
		"courier-2": {ID: "courier-2", FullName: "Rita Alves", ConnectionHandle: "conn-2"},
	}}

	t.Run("no coordinates means no broadcast", func(t *testing.T) {
		store := newFakeAssignmentStore()
		notifier := &fakeNotifier{}
		o := NewOrchestrator(Config{}, &fakeLocator{}, courierStore, store, notifier, testLogger())

		order := testOrder(false)
		result, err := o.Dispatch(ctx, order, &order.ShopOrders[0])

		require.NoError(t, err)
		assert.Nil(t, result.Assignment)
		assert.Empty(t, result.Candidates)
		assert.Equal(t, ReasonNoCoordinates, result.Reason)
		assert.Empty(t, store.created)
		assert.Empty(t, notifier.events())
	})

	t.Run("no couriers in radius means no broadcast", func(t *testing.T) {
		store := newFakeAssignmentStore()
		o := NewOrchestrator(Config{}, &fakeLocator{}, courierStore, store, &fakeNotifier{}, testLogger())

		order := testOrder(true)
		result, err := o.Dispatch(ctx, order, &order.ShopOrders[0])

		require.NoError(t, err)
		assert.Nil(t, result.Assignment)
		assert.Equal(t, ReasonNoCouriers, result.Reason)
		assert.Nil(t, order.ShopOrders[0].AssignmentID)
	})

	t.Run("broadcasts to every free nearby courier", func(t *testing.T) {
		locator := &fakeLocator{positions: []couriers.Position{
			{CourierID: "courier-1", Longitude: -9.14, Latitude: 38.72},
			{CourierID: "courier-2", Longitude: -9.13, Latitude: 38.73},
		}}
		store := newFakeAssignmentStore()
		notifier := &fakeNotifier{}
		o := NewOrchestrator(Config{}, locator, courierStore, store, notifier, testLogger())

		order := testOrder(true)
		result, err := o.Dispatch(ctx, order, &order.ShopOrders[0])

		require.NoError(t, err)
		require.NotNil(t, result.Assignment)
		assert.Equal(t, domain.AssignmentStatusBroadcasted, result.Assignment.Status)
		assert.ElementsMatch(t, []string{"courier-1", "courier-2"}, result.Assignment.BroadcastedTo)
		assert.Len(t, result.Candidates, 2)

		require.NotNil(t, order.ShopOrders[0].AssignmentID)
		assert.Equal(t, result.Assignment.ID, *order.ShopOrders[0].AssignmentID)

		events := notifier.events()
		require.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, domain.EventAssignmentOffer, e.Event)
			offer := e.Payload.(domain.AssignmentOfferEvent)
			assert.Equal(t, result.Assignment.ID, offer.AssignmentID)
			assert.Equal(t, "Green Bowl", offer.ShopName)
			assert.Equal(t, int64(2500), offer.Subtotal)
		}
	})

	t.Run("busy couriers are filtered out", func(t *testing.T) {
		locator := &fakeLocator{positions: []couriers.Position{
			{CourierID: "courier-1"},
			{CourierID: "courier-2"},
		}}
		store := newFakeAssignmentStore()
		store.busy["courier-1"] = struct{}{}
		o := NewOrchestrator(Config{}, locator, courierStore, store, &fakeNotifier{}, testLogger())

		order := testOrder(true)
		result, err := o.Dispatch(ctx, order, &order.ShopOrders[0])

		require.NoError(t, err)
		require.NotNil(t, result.Assignment)
		assert.Equal(t, []string{"courier-2"}, result.Assignment.BroadcastedTo)
	})

	t.Run("all couriers busy means no broadcast", func(t *testing.T) {
		locator := &fakeLocator{positions: []couriers.Position{{CourierID: "courier-1"}}}
		store := newFakeAssignmentStore()
		store.busy["courier-1"] = struct{}{}
		o := NewOrchestrator(Config{}, locator, courierStore, store, &fakeNotifier{}, testLogger())

		order := testOrder(true)
		result, err := o.Dispatch(ctx, order, &order.ShopOrders[0])

		require.NoError(t, err)
		assert.Nil(t, result.Assignment)
		assert.Equal(t, ReasonNoCouriers, result.Reason)
	})

	t.Run("open broadcasts only exclude couriers under the strict policy", func(t *testing.T) {
		locator := &fakeLocator{positions: []couriers.Position{
			{CourierID: "courier-1"},
			{CourierID: "courier-2"},
		}}
		store := newFakeAssignmentStore()
		notifier := &fakeNotifier{}

		// First broadcast goes to courier-1 only and stays open.
		strict := NewOrchestrator(Config{StrictBroadcastExclusion: true},
			&fakeLocator{positions: []couriers.Position{{CourierID: "courier-1"}}},
			courierStore, store, notifier, testLogger())
		order := testOrder(true)
		first, err := strict.Dispatch(ctx, order, &order.ShopOrders[0])
		require.NoError(t, err)
		require.NotNil(t, first.Assignment)

		second := testOrder(true)
		second.ID = "order-2"
		second.ShopOrders[0].ID = "shop-order-2"

		strictAgain := NewOrchestrator(Config{StrictBroadcastExclusion: true}, locator, courierStore, store, notifier, testLogger())
		result, err := strictAgain.Dispatch(ctx, second, &second.ShopOrders[0])
		require.NoError(t, err)
		require.NotNil(t, result.Assignment)
		assert.Equal(t, []string{"courier-2"}, result.Assignment.BroadcastedTo,
			"courier-1 sits on an open offer and must be excluded")

		// The default policy only counts accepted assignments as busy,
		// so the same courier is still a candidate.
		third := testOrder(true)
		third.ID = "order-3"
		third.ShopOrders[0].ID = "shop-order-3"

		loose := NewOrchestrator(Config{}, locator, courierStore, store, notifier, testLogger())
		looseResult, err := loose.Dispatch(ctx, third, &third.ShopOrders[0])
		require.NoError(t, err)
		require.NotNil(t, looseResult.Assignment)
		assert.ElementsMatch(t, []string{"courier-1", "courier-2"}, looseResult.Assignment.BroadcastedTo)
	})

	t.Run("unknown courier ids from the geo index are dropped", func(t *testing.T) {
		locator := &fakeLocator{positions: []couriers.Position{
			{CourierID: "courier-1"},
			{CourierID: "ghost"},
		}}
		store := newFakeAssignmentStore()
		o := NewOrchestrator(Config{}, locator, courierStore, store, &fakeNotifier{}, testLogger())

		order := testOrder(true)
		result, err := o.Dispatch(ctx, order, &order.ShopOrders[0])

		require.NoError(t, err)
		require.NotNil(t, result.Assignment)
		assert.Equal(t, []string{"courier-1"}, result.Assignment.BroadcastedTo)
	})
}
