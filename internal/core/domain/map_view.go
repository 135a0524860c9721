package domain

// RenderMode tells the map widget whether to build the viewport or move the
// existing marker.
type RenderMode string

const (
	RenderMount      RenderMode = "mount"
	RenderReposition RenderMode = "reposition"
)

// Marker is a single labelled point on the map.
type Marker struct {
	Position [2]float64 `json:"position"`
	Label    string     `json:"label"`
}

// MapView is everything a map widget needs to draw one frame.
type MapView struct {
	Mode   RenderMode `json:"mode"`
	Center [2]float64 `json:"center"`
	Zoom   int        `json:"zoom"`
	Marker *Marker    `json:"marker,omitempty"`
}
