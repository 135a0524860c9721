package domain

import (
	"errors"
	"time"
)

// OrderStatus represents the delivery lifecycle state of an order.
// Values outside the known set are carried verbatim from upstream.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
)

// validTransitions defines the allowed state machine transitions.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusAccepted},
	StatusAccepted:  {StatusInTransit},
	StatusInTransit: {StatusDelivered},
}

var ErrInvalidTransition = errors.New("invalid status transition")
var ErrOrderNotFound = errors.New("order not found")
var ErrForbidden = errors.New("access forbidden")
var ErrAlreadyAssigned = errors.New("order already assigned")

// ErrStaleWrite reports a conditional write whose timestamp is not newer
// than the stored updated_at.
var ErrStaleWrite = errors.New("write is not newer than stored row")

// CanTransitionTo reports whether a transition from current status to next is valid.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Known reports whether s is one of the statuses this service produces.
func (s OrderStatus) Known() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInTransit, StatusDelivered:
		return true
	}
	return false
}

// Order is the stored order row. Latitude and Longitude are nil until a
// delivery partner reports a position.
type Order struct {
	ID                string      `json:"id" bson:"_id"`
	UserID            string      `json:"user_id" bson:"user_id"`
	Status            OrderStatus `json:"status" bson:"status"`
	DeliveryPartnerID string      `json:"delivery_partner_id,omitempty" bson:"delivery_partner_id,omitempty"`
	ShippingAddress   string      `json:"shipping_address" bson:"shipping_address"`
	TotalAmount       float64     `json:"total_amount" bson:"total_amount"`
	Latitude          *float64    `json:"latitude" bson:"latitude"`
	Longitude         *float64    `json:"longitude" bson:"longitude"`
	CreatedAt         time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" bson:"updated_at"`
}

// Snapshot converts the stored row into the change-event shape the tracking
// core validates. Missing fields stay nil.
func (o *Order) Snapshot() ChangeEvent {
	ev := ChangeEvent{
		OrderID:   o.ID,
		Latitude:  o.Latitude,
		Longitude: o.Longitude,
	}
	if o.Status != "" {
		st := o.Status
		ev.Status = &st
	}
	if !o.UpdatedAt.IsZero() {
		ts := o.UpdatedAt
		ev.UpdatedAt = &ts
	}
	return ev
}
