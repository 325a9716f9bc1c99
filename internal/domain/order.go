package domain

import "time"

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cod"
	PaymentPrepaid        PaymentMethod = "prepaid"
)

type ShopOrderStatus string

const (
	ShopOrderStatusPending        ShopOrderStatus = "pending"
	ShopOrderStatusPreparing      ShopOrderStatus = "preparing"
	ShopOrderStatusOutForDelivery ShopOrderStatus = "out-of-delivery"
	ShopOrderStatusDelivered      ShopOrderStatus = "delivered"
)

// KnownShopOrderStatus reports whether s is one of the four statuses a
// shop owner may set. Transition ordering is deliberately not enforced;
// owners use backward moves to correct mistakes.
func KnownShopOrderStatus(s ShopOrderStatus) bool {
	switch s {
	case ShopOrderStatusPending, ShopOrderStatusPreparing,
		ShopOrderStatusOutForDelivery, ShopOrderStatusDelivered:
		return true
	default:
		return false
	}
}

// DeliveryAddress carries the free-text address plus optional
// coordinates. Dispatch is only possible when both coordinates are set.
type DeliveryAddress struct {
	Text      string   `json:"text"`
	Longitude *float64 `json:"longitude,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
}

func (a DeliveryAddress) HasCoordinates() bool {
	return a.Longitude != nil && a.Latitude != nil
}

type ShopOrderItem struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// ShopOrder is the slice of a multi-shop order that belongs to one
// shop; it is the unit of status tracking and courier dispatch.
type ShopOrder struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	ShopID            string          `json:"shop_id"`
	ShopName          string          `json:"shop_name,omitempty"`
	OwnerID           string          `json:"owner_id"`
	Subtotal          int64           `json:"subtotal"`
	Status            ShopOrderStatus `json:"status"`
	AssignedCourierID *string         `json:"assigned_courier_id,omitempty"`
	AssignmentID      *string         `json:"assignment_id,omitempty"`
	Items             []ShopOrderItem `json:"items"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Paid            bool            `json:"paid"`
	PaymentRef      string          `json:"payment_ref,omitempty"`
	Total           int64           `json:"total"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	ShopOrders      []ShopOrder     `json:"shop_orders"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ShopOrderByID returns the embedded shop order with the given id, or
// nil when the order has no such sub-entity.
func (o *Order) ShopOrderByID(id string) *ShopOrder {
	for i := range o.ShopOrders {
		if o.ShopOrders[i].ID == id {
			return &o.ShopOrders[i]
		}
	}
	return nil
}

// ShopOrderByShop returns the shop order belonging to the given shop.
func (o *Order) ShopOrderByShop(shopID string) *ShopOrder {
	for i := range o.ShopOrders {
		if o.ShopOrders[i].ShopID == shopID {
			return &o.ShopOrders[i]
		}
	}
	return nil
}
