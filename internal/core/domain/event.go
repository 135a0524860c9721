package domain

import "time"

// ChangeEvent is one row change pushed by the backing store for a single
// order. Every field except OrderID may be absent; validation happens in the
// tracking core, not here.
type ChangeEvent struct {
	OrderID   string
	Latitude  *float64
	Longitude *float64
	Status    *OrderStatus
	UpdatedAt *time.Time
}

// HasPosition reports whether both coordinates are present.
func (e ChangeEvent) HasPosition() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// LocationPing is a position report sent by a delivery partner.
type LocationPing struct {
	OrderID   string
	PartnerID string
	Position  Coordinates
	Timestamp time.Time
	Source    string
}
