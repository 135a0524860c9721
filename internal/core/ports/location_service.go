package ports

import (
	"context"
	"time"
)

// LocationInput carries geographic coordinates for a ping.
type LocationInput struct {
	Lat float64
	Lng float64
}

// LocationPingInput is the DTO passed from the transport layer to LocationService.
type LocationPingInput struct {
	OrderID   string
	PartnerID string
	Location  LocationInput
	Timestamp time.Time
	Source    string
}

// LocationService processes incoming position reports.
type LocationService interface {
	Process(ctx context.Context, ping LocationPingInput) error
}
