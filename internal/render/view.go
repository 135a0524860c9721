// Package render turns a tracked location into the frame a map widget draws.
package render

import (
	"fmt"

	"github.com/wear60/tracking-service/internal/core/domain"
)

const DefaultZoom = 13

// DefaultCenter is shown when an order has no reported position yet.
var DefaultCenter = [2]float64{12.943060699936739, 77.54281118013748}

// BuildView returns the frame for loc. A nil loc renders the neutral
// default viewport with no marker.
func BuildView(orderID string, loc *domain.Location, mode domain.RenderMode) domain.MapView {
	if mode == "" {
		mode = domain.RenderMount
	}
	if loc == nil {
		return domain.MapView{Mode: mode, Center: DefaultCenter, Zoom: DefaultZoom}
	}

	pos := [2]float64{loc.Position.Lat, loc.Position.Lng}
	return domain.MapView{
		Mode:   mode,
		Center: pos,
		Zoom:   DefaultZoom,
		Marker: &domain.Marker{
			Position: pos,
			Label:    MarkerLabel(orderID, loc.Status),
		},
	}
}

// MarkerLabel is the popup text attached to the order marker.
func MarkerLabel(orderID string, status domain.OrderStatus) string {
	return fmt.Sprintf("Order #%s\nStatus: %s", orderID, status)
}
