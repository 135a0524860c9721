package handler

import "time"

// --- Requests ---

type locationPingRequest struct {
	Lat       *float64  `json:"lat"       validate:"required,gte=-90,lte=90"`
	Lng       *float64  `json:"lng"       validate:"required,gte=-180,lte=180"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"    validate:"omitempty,max=32"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=in_transit delivered"`
}

// --- Responses ---

type acceptedResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

type orderSummaryResponse struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	ShippingAddress string    `json:"shipping_address"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	CreatedAt       time.Time `json:"created_at"`

	Links *trackingLinks `json:"_links,omitempty"`
}

type listOrdersResponse struct {
	Data []orderSummaryResponse `json:"data"`
}

type markerResponse struct {
	Position [2]float64 `json:"position"`
	Label    string     `json:"label"`
}

type mapViewResponse struct {
	Mode   string          `json:"mode"`
	Center [2]float64      `json:"center"`
	Zoom   int             `json:"zoom"`
	Marker *markerResponse `json:"marker"`
}

type locationResponse struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

type trackingResponse struct {
	OrderID  string            `json:"order_id"`
	Status   string            `json:"status"`
	Location *locationResponse `json:"location"`
	View     mapViewResponse   `json:"view"`
	Links    trackingLinks     `json:"_links"`
}

type trackingLinks struct {
	Self   string `json:"self"`
	Stream string `json:"stream"`
}

// unavailableFrame is sent on the stream when the push channel fails.
type unavailableFrame struct {
	OrderID    string `json:"order_id"`
	Error      string `json:"error"`
	RetryInMs  int64  `json:"retry_in_ms,omitempty"`
	Final      bool   `json:"final,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
