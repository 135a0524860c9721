package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrChannel             = errors.New("tracking channel unavailable")
	ErrSnapshotUnavailable = errors.New("order location unavailable")
)

// ValidationError describes why a snapshot or change event was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ChannelError reports a push channel that could not be opened or was
// dropped by the transport.
type ChannelError struct {
	OrderID string
	Op      string // "open" or "receive"
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s %s", ErrChannel, e.Op, e.OrderID)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrChannel, e.Op, e.OrderID, e.Err)
}

func (e *ChannelError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrChannel}
	}
	return []error{ErrChannel, e.Err}
}

// Coordinates represents a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Validate checks that both components are finite and within geographic range.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return &ValidationError{Field: "latitude", Reason: "is not a finite number"}
	}
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return &ValidationError{Field: "longitude", Reason: "is not a finite number"}
	}
	if c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v out of range [-90, 90]", c.Lat)}
	}
	if c.Lng < -180 || c.Lng > 180 {
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v out of range [-180, 180]", c.Lng)}
	}
	return nil
}

// Location is the last known state of one tracked order.
type Location struct {
	OrderID   string      `json:"order_id"`
	Position  Coordinates `json:"position"`
	Status    OrderStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TrackingStatus is the consumer-visible state of a tracking handle.
type TrackingStatus string

const (
	TrackingLive        TrackingStatus = "live"
	TrackingUnavailable TrackingStatus = "unavailable"
	TrackingStopped     TrackingStatus = "stopped"
)

// MaxPingClockSkew is how far ahead of the server clock a reported ping time
// may be. updated_at orders every row change, so a later stamp would hide
// all real pings until the clock catches up.
const MaxPingClockSkew = 30 * time.Second

// CheckReportedAt rejects a client-reported time beyond now+MaxPingClockSkew.
// The zero time is accepted; the caller stamps it.
func CheckReportedAt(ts, now time.Time) error {
	if ts.IsZero() {
		return nil
	}
	if ts.After(now.Add(MaxPingClockSkew)) {
		return &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%s is ahead of server time", ts.UTC().Format(time.RFC3339))}
	}
	return nil
}
