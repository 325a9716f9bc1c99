package orders

import "errors"

var ErrEmptyCart = errors.New("cart is empty")

// CartItem is one line of a checkout request. Prices arrive with the
// cart because the item catalog lives outside this service.
type CartItem struct {
	ItemID   string `json:"item_id"`
	ShopID   string `json:"shop_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// GroupCartByShop splits a cart into per-shop item lists, preserving
// the order in which shops first appear in the cart.
func GroupCartByShop(items []CartItem) (shopIDs []string, byShop map[string][]CartItem) {
	byShop = make(map[string][]CartItem)
	for _, item := range items {
		if _, seen := byShop[item.ShopID]; !seen {
			shopIDs = append(shopIDs, item.ShopID)
		}
		byShop[item.ShopID] = append(byShop[item.ShopID], item)
	}
	return shopIDs, byShop
}

// Subtotal sums price times quantity over the items.
func Subtotal(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}
