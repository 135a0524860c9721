package handler

import (
	"strings"
	"testing"
)

func TestValidator_UsesJSONFieldNames(t *testing.T) {
	v := NewValidator()
	lat := 95.0

	err := v.Validate(&locationPingRequest{Lat: &lat})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "lat must be <= 90") {
		t.Errorf("expected latitude range message, got %q", msg)
	}
	if !strings.Contains(msg, "lng is required") {
		t.Errorf("expected missing lng message, got %q", msg)
	}
}

func TestValidator_ZeroCoordinatesAreValid(t *testing.T) {
	zero := 0.0
	if err := NewValidator().Validate(&locationPingRequest{Lat: &zero, Lng: &zero}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidator_OneOf(t *testing.T) {
	err := NewValidator().Validate(&updateStatusRequest{Status: "accepted"})
	if err == nil || !strings.Contains(err.Error(), "status must be one of [in_transit, delivered]") {
		t.Fatalf("unexpected error: %v", err)
	}
}
