package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastly/dispatch/internal/domain"
)

func broadcastedAssignment(store *fakeAssignmentStore, candidates ...string) *domain.Assignment {
	a := &domain.Assignment{
		ID:            "assignment-1",
		OrderID:       "order-1",
		ShopOrderID:   "shop-order-1",
		ShopID:        "shop-1",
		BroadcastedTo: candidates,
		Status:        domain.AssignmentStatusBroadcasted,
	}
	store.assignments[a.ID] = a
	return a
}

func newTestResolver(store *fakeAssignmentStore, notifier *fakeNotifier) *Resolver {
	orders := &fakeOrderStore{orders: map[string]*domain.Order{
		"order-1": testOrder(true),
	}}
	contacts := &fakeContactStore{handles: map[string]string{
		"customer-1": "conn-customer",
		"owner-1":    "conn-owner",
	}}
	return NewResolver(store, orders, contacts, notifier, testLogger())
}

func TestResolver_Accept(t *testing.T) {
	ctx := context.Background()

	t.Run("first accept wins and links the courier", func(t *testing.T) {
		store := newFakeAssignmentStore()
		broadcastedAssignment(store, "courier-1", "courier-2")
		notifier := &fakeNotifier{}
		resolver := newTestResolver(store, notifier)

		accepted, err := resolver.Accept(ctx, "assignment-1", "courier-1")

		require.NoError(t, err)
		assert.Equal(t, domain.AssignmentStatusAssigned, accepted.Status)
		require.NotNil(t, accepted.AssignedTo)
		assert.Equal(t, "courier-1", *accepted.AssignedTo)
		assert.NotNil(t, accepted.AcceptedAt)
		assert.Equal(t, "courier-1", store.linked["shop-order-1"])
	})

	t.Run("customer and owner are notified, losers are not", func(t *testing.T) {
		store := newFakeAssignmentStore()
		broadcastedAssignment(store, "courier-1", "courier-2")
		notifier := &fakeNotifier{}
		resolver := newTestResolver(store, notifier)

		_, err := resolver.Accept(ctx, "assignment-1", "courier-1")
		require.NoError(t, err)

		events := notifier.events()
		require.Len(t, events, 2)
		handles := []string{events[0].Handle, events[1].Handle}
		assert.ElementsMatch(t, []string{"conn-customer", "conn-owner"}, handles)
		for _, e := range events {
			assert.Equal(t, domain.EventDeliveryAssigned, e.Event)
			payload := e.Payload.(domain.DeliveryAssignedEvent)
			assert.Equal(t, "courier-1", payload.CourierID)
		}
	})

	t.Run("unknown assignment", func(t *testing.T) {
		resolver := newTestResolver(newFakeAssignmentStore(), &fakeNotifier{})

		_, err := resolver.Accept(ctx, "missing", "courier-1")

		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})

	t.Run("second accept loses", func(t *testing.T) {
		store := newFakeAssignmentStore()
		broadcastedAssignment(store, "courier-1", "courier-2")
		resolver := newTestResolver(store, &fakeNotifier{})

		_, err := resolver.Accept(ctx, "assignment-1", "courier-1")
		require.NoError(t, err)

		_, err = resolver.Accept(ctx, "assignment-1", "courier-2")
		assert.ErrorIs(t, err, ErrAssignmentExpired)
	})

	t.Run("courier with an active delivery cannot accept", func(t *testing.T) {
		store := newFakeAssignmentStore()
		broadcastedAssignment(store, "courier-1")
		store.busy["courier-1"] = struct{}{}
		resolver := newTestResolver(store, &fakeNotifier{})

		_, err := resolver.Accept(ctx, "assignment-1", "courier-1")

		assert.ErrorIs(t, err, ErrCourierBusy)
	})

	t.Run("exactly one winner under concurrent accepts", func(t *testing.T) {
		store := newFakeAssignmentStore()
		broadcastedAssignment(store,
			"courier-0", "courier-1", "courier-2", "courier-3", "courier-4",
			"courier-5", "courier-6", "courier-7", "courier-8", "courier-9")
		resolver := newTestResolver(store, &fakeNotifier{})

		const attempts = 10
		var wg sync.WaitGroup
		results := make([]error, attempts)

		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = resolver.Accept(ctx, "assignment-1", fmt.Sprintf("courier-%d", i))
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range results {
			if err == nil {
				winners++
				continue
			}
			assert.True(t, errors.Is(err, ErrAssignmentTaken) || errors.Is(err, ErrAssignmentExpired),
				"unexpected error: %v", err)
		}
		assert.Equal(t, 1, winners)

		final, _ := store.GetByID(ctx, "assignment-1")
		assert.Equal(t, domain.AssignmentStatusAssigned, final.Status)
		require.NotNil(t, final.AssignedTo)
		assert.Equal(t, store.linked["shop-order-1"], *final.AssignedTo)
	})
}
