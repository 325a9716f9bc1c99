package domain

import "time"

// Kafka topics. client.events carries realtime push events keyed by
// the recipient's connection handle; the socket tier consumes it.
// order.placed feeds the owner-notification worker.
const (
	TopicClientEvents = "client.events"
	TopicOrderPlaced  = "order.placed"
)

// Push event names on the client.events topic.
const (
	EventOrderIncoming    = "order:incoming"
	EventStatusChanged    = "order:status"
	EventAssignmentOffer  = "assignment:offer"
	EventDeliveryAssigned = "delivery:assigned"
)

type OrderIncomingEvent struct {
	OrderID   string    `json:"order_id"`
	ShopID    string    `json:"shop_id"`
	CreatedAt time.Time `json:"created_at"`
}

type StatusChangedEvent struct {
	OrderID    string          `json:"order_id"`
	ShopID     string          `json:"shop_id"`
	Status     ShopOrderStatus `json:"status"`
	CustomerID string          `json:"customer_id"`
}

// AssignmentOfferEvent is pushed once per broadcast candidate and
// carries everything the courier UI shows before accepting.
type AssignmentOfferEvent struct {
	SentTo          string          `json:"sent_to"`
	AssignmentID    string          `json:"assignment_id"`
	OrderID         string          `json:"order_id"`
	ShopName        string          `json:"shop_name"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	Items           []ShopOrderItem `json:"items"`
	Subtotal        int64           `json:"subtotal"`
}

type DeliveryAssignedEvent struct {
	OrderID   string `json:"order_id"`
	ShopID    string `json:"shop_id"`
	CourierID string `json:"courier_id"`
}

// OrderPlacedEvent goes to the order.placed topic; the worker fans it
// out as one email per shop represented in the order.
type OrderPlacedEvent struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id"`
	ShopOrders []PlacedShopSlice `json:"shop_orders"`
	Timestamp  time.Time         `json:"timestamp"`
}

type PlacedShopSlice struct {
	ShopOrderID string `json:"shop_order_id"`
	ShopID      string `json:"shop_id"`
	ShopName    string `json:"shop_name"`
	OwnerID     string `json:"owner_id"`
	OwnerEmail  string `json:"owner_email"`
	Subtotal    int64  `json:"subtotal"`
}
