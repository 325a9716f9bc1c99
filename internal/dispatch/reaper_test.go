package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastly/dispatch/internal/domain"
)

type fakeStaleStore struct {
	expired []domain.Assignment
	cutoff  time.Time
}

func (f *fakeStaleStore) ExpireStale(_ context.Context, cutoff time.Time) ([]domain.Assignment, error) {
	f.cutoff = cutoff
	return f.expired, nil
}

type fakeDispatcher struct {
	calls []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *domain.Order, shopOrder *domain.ShopOrder) (*Result, error) {
	f.calls = append(f.calls, shopOrder.ID)
	return &Result{Candidates: []domain.Courier{}, Reason: ReasonNoCouriers}, nil
}

func TestReaper_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("zero ttl disables sweeping", func(t *testing.T) {
		store := &fakeStaleStore{expired: []domain.Assignment{{ID: "a1"}}}
		reaper := NewReaper(0, store, &fakeOrderStore{}, &fakeDispatcher{}, testLogger())

		n, err := reaper.Sweep(ctx)

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.True(t, store.cutoff.IsZero())
	})

	t.Run("expired broadcasts are redispatched", func(t *testing.T) {
		order := testOrder(true)
		store := &fakeStaleStore{expired: []domain.Assignment{{
			ID:          "a1",
			OrderID:     order.ID,
			ShopOrderID: order.ShopOrders[0].ID,
			Status:      domain.AssignmentStatusExpired,
		}}}
		orders := &fakeOrderStore{orders: map[string]*domain.Order{order.ID: order}}
		dispatcher := &fakeDispatcher{}
		reaper := NewReaper(2*time.Minute, store, orders, dispatcher, testLogger())

		n, err := reaper.Sweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"shop-order-1"}, dispatcher.calls)
	})

	t.Run("delivered shop orders are not redispatched", func(t *testing.T) {
		order := testOrder(true)
		order.ShopOrders[0].Status = domain.ShopOrderStatusDelivered
		store := &fakeStaleStore{expired: []domain.Assignment{{
			ID:          "a1",
			OrderID:     order.ID,
			ShopOrderID: order.ShopOrders[0].ID,
		}}}
		orders := &fakeOrderStore{orders: map[string]*domain.Order{order.ID: order}}
		dispatcher := &fakeDispatcher{}
		reaper := NewReaper(2*time.Minute, store, orders, dispatcher, testLogger())

		n, err := reaper.Sweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, dispatcher.calls)
	})

	t.Run("cutoff is now minus ttl", func(t *testing.T) {
		store := &fakeStaleStore{}
		reaper := NewReaper(2*time.Minute, store, &fakeOrderStore{}, &fakeDispatcher{}, testLogger())
		frozen := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
		reaper.now = func() time.Time { return frozen }

		_, err := reaper.Sweep(ctx)

		require.NoError(t, err)
		assert.Equal(t, frozen.Add(-2*time.Minute), store.cutoff)
	})
}
