package domain

import "time"

type AssignmentStatus string

const (
	AssignmentStatusBroadcasted AssignmentStatus = "broadcasted"
	AssignmentStatusAssigned    AssignmentStatus = "assigned"
	AssignmentStatusCompleted   AssignmentStatus = "completed"
	AssignmentStatusExpired     AssignmentStatus = "expired"
)

// Terminal reports whether the assignment can no longer change hands.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentStatusCompleted || s == AssignmentStatusExpired
}

// Assignment is one dispatch attempt for one shop order: the offer is
// broadcast to a set of couriers, at most one of them wins the race to
// accept it, and the entry is completed when the delivery OTP is
// verified. A shop order holds at most one non-terminal assignment.
type Assignment struct {
	ID            string           `json:"id"`
	OrderID       string           `json:"order_id"`
	ShopOrderID   string           `json:"shop_order_id"`
	ShopID        string           `json:"shop_id"`
	BroadcastedTo []string         `json:"broadcasted_to"`
	AssignedTo    *string          `json:"assigned_to,omitempty"`
	Status        AssignmentStatus `json:"status"`
	AcceptedAt    *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
