package orders

import (
	"testing"
)

func TestGroupCartByShop(t *testing.T) {
	cart := []CartItem{
		{ItemID: "item-1", ShopID: "shop-1", Name: "Caesar Salad", Price: 1200, Quantity: 1},
		{ItemID: "item-2", ShopID: "shop-2", Name: "Carbonara", Price: 1500, Quantity: 2},
		{ItemID: "item-3", ShopID: "shop-1", Name: "Lemonade", Price: 350, Quantity: 1},
	}

	shopIDs, byShop := GroupCartByShop(cart)

	if len(shopIDs) != 2 {
		t.Fatalf("expected 2 shops, got %d", len(shopIDs))
	}
	if shopIDs[0] != "shop-1" || shopIDs[1] != "shop-2" {
		t.Errorf("expected first-seen shop order [shop-1 shop-2], got %v", shopIDs)
	}
	if len(byShop["shop-1"]) != 2 {
		t.Errorf("expected 2 items for shop-1, got %d", len(byShop["shop-1"]))
	}
	if len(byShop["shop-2"]) != 1 {
		t.Errorf("expected 1 item for shop-2, got %d", len(byShop["shop-2"]))
	}
	if byShop["shop-1"][1].ItemID != "item-3" {
		t.Errorf("expected item-3 second for shop-1, got %s", byShop["shop-1"][1].ItemID)
	}
}

func TestGroupCartByShop_Empty(t *testing.T) {
	shopIDs, byShop := GroupCartByShop(nil)

	if len(shopIDs) != 0 {
		t.Errorf("expected no shops, got %v", shopIDs)
	}
	if len(byShop) != 0 {
		t.Errorf("expected empty map, got %v", byShop)
	}
}

func TestSubtotal(t *testing.T) {
	items := []CartItem{
		{Price: 1500, Quantity: 2},
		{Price: 350, Quantity: 1},
	}

	if got := Subtotal(items); got != 3350 {
		t.Errorf("expected subtotal 3350, got %d", got)
	}

	if got := Subtotal(nil); got != 0 {
		t.Errorf("expected zero subtotal for empty cart, got %d", got)
	}
}
