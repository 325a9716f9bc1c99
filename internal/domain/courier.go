package domain

// Courier is the subset of a user the dispatch flow cares about. Busy
// state is not stored here; it is derived from the assignment ledger.
// The connection handle identifies the courier's realtime session and
// is empty when they are not connected.
type Courier struct {
	ID               string  `json:"id"`
	FullName         string  `json:"full_name"`
	Mobile           string  `json:"mobile"`
	Email            string  `json:"email,omitempty"`
	ConnectionHandle string  `json:"-"`
	Longitude        float64 `json:"longitude"`
	Latitude         float64 `json:"latitude"`
}
