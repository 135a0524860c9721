package handler

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestLocationHandler_Receive_Accepted(t *testing.T) {
	e := newEcho()
	d := &stubDispatcher{}
	h := NewLocationHandler(d)

	c, rec := newContext(e, http.MethodPost, "/v1/orders/o1/location",
		strings.NewReader(`{"lat":12.95,"lng":77.6,"timestamp":"2026-03-01T10:00:00Z"}`), &partner)
	c.SetParamNames("id")
	c.SetParamValues("o1")

	if code := statusOf(e, c, rec, h.Receive(c)); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", code, rec.Body.String())
	}
	if len(d.single) != 1 {
		t.Fatalf("expected one ping enqueued, got %d", len(d.single))
	}
	p := d.single[0]
	if p.OrderID != "o1" || p.PartnerID != "partner_1" || p.Source != defaultPingSource {
		t.Errorf("unexpected ping: %+v", p)
	}
	if p.Location.Lat != 12.95 || !p.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected ping position/time: %+v", p)
	}
}

func TestLocationHandler_Receive_ZeroCoordinatesAreValid(t *testing.T) {
	e := newEcho()
	d := &stubDispatcher{}

	c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(`{"lat":0,"lng":0}`), &partner)
	if code := statusOf(e, c, rec, NewLocationHandler(d).Receive(c)); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", code, rec.Body.String())
	}
}

func TestLocationHandler_Receive_Rejects(t *testing.T) {
	cases := map[string]struct {
		body string
		want int
	}{
		"missing lng":        {`{"lat":12.9}`, http.StatusUnprocessableEntity},
		"lat out of range":   {`{"lat":91,"lng":77.6}`, http.StatusUnprocessableEntity},
		"lng out of range":   {`{"lat":12.9,"lng":-181}`, http.StatusUnprocessableEntity},
		"source too long":    {`{"lat":12.9,"lng":77.6,"source":"` + strings.Repeat("x", 40) + `"}`, http.StatusUnprocessableEntity},
		"malformed json":     {`{"lat":`, http.StatusBadRequest},
		"lat is not numeric": {`{"lat":"north","lng":77.6}`, http.StatusBadRequest},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEcho()
			d := &stubDispatcher{}
			c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(tc.body), &partner)

			if code := statusOf(e, c, rec, NewLocationHandler(d).Receive(c)); code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, code, rec.Body.String())
			}
			if len(d.single) != 0 {
				t.Errorf("rejected ping must not be enqueued")
			}
		})
	}
}

func TestLocationHandler_Receive_NoPrincipal(t *testing.T) {
	e := newEcho()
	c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(`{"lat":1,"lng":1}`), nil)

	if code := statusOf(e, c, rec, NewLocationHandler(&stubDispatcher{}).Receive(c)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestLocationHandler_ReceiveBatch(t *testing.T) {
	e := newEcho()
	d := &stubDispatcher{}
	c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(
		`[{"lat":12.9,"lng":77.5,"timestamp":"2026-03-01T10:00:00Z"},{"lat":12.95,"lng":77.6,"timestamp":"2026-03-01T10:00:05Z"}]`), &partner)
	c.SetParamNames("id")
	c.SetParamValues("o1")

	if code := statusOf(e, c, rec, NewLocationHandler(d).ReceiveBatch(c)); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", code, rec.Body.String())
	}
	if len(d.batch) != 1 || len(d.batch[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", d.batch)
	}
	if d.batch[0][1].OrderID != "o1" || d.batch[0][1].Location.Lng != 77.6 {
		t.Errorf("unexpected second ping: %+v", d.batch[0][1])
	}
	if !strings.Contains(rec.Body.String(), `"count":2`) {
		t.Errorf("expected count in body, got %s", rec.Body.String())
	}
}

func TestLocationHandler_ReceiveBatch_Rejects(t *testing.T) {
	cases := map[string]struct {
		body string
		want int
	}{
		"empty batch":     {`[]`, http.StatusBadRequest},
		"one invalid":     {`[{"lat":12.9,"lng":77.5},{"lat":200,"lng":77.5}]`, http.StatusUnprocessableEntity},
		"not an array":    {`{"lat":12.9,"lng":77.5}`, http.StatusBadRequest},
		"oversized batch": {"[" + strings.TrimSuffix(strings.Repeat(`{"lat":1,"lng":1},`, maxBatchSize+1), ",") + "]", http.StatusBadRequest},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEcho()
			d := &stubDispatcher{}
			c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(tc.body), &partner)

			if code := statusOf(e, c, rec, NewLocationHandler(d).ReceiveBatch(c)); code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, code, rec.Body.String())
			}
			if len(d.batch) != 0 {
				t.Errorf("rejected batch must not be enqueued")
			}
		})
	}
}

func TestLocationHandler_Receive_FutureTimestamp(t *testing.T) {
	e := newEcho()
	d := &stubDispatcher{}
	c, rec := newContext(e, http.MethodPost, "/",
		strings.NewReader(`{"lat":12.9,"lng":77.5,"timestamp":"2100-01-01T00:00:00Z"}`), &partner)

	if code := statusOf(e, c, rec, NewLocationHandler(d).Receive(c)); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "timestamp") {
		t.Errorf("expected timestamp in message, got %s", rec.Body.String())
	}
	if len(d.single) != 0 {
		t.Errorf("future ping must not be enqueued")
	}
}

func TestLocationHandler_Receive_SmallSkewAccepted(t *testing.T) {
	e := newEcho()
	d := &stubDispatcher{}
	ts := time.Now().Add(5 * time.Second).UTC().Format(time.RFC3339)
	c, rec := newContext(e, http.MethodPost, "/",
		strings.NewReader(`{"lat":12.9,"lng":77.5,"timestamp":"`+ts+`"}`), &partner)

	if code := statusOf(e, c, rec, NewLocationHandler(d).Receive(c)); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", code, rec.Body.String())
	}
}

func TestLocationHandler_ReceiveBatch_FutureTimestamp(t *testing.T) {
	e := newEcho()
	d := &stubDispatcher{}
	c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(
		`[{"lat":12.9,"lng":77.5,"timestamp":"2026-03-01T10:00:00Z"},{"lat":12.9,"lng":77.5,"timestamp":"2100-01-01T00:00:00Z"}]`), &partner)

	if code := statusOf(e, c, rec, NewLocationHandler(d).ReceiveBatch(c)); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "ping[1]") {
		t.Errorf("expected offending index in message, got %s", rec.Body.String())
	}
	if len(d.batch) != 0 {
		t.Errorf("rejected batch must not be enqueued")
	}
}

func TestLocationHandler_DispatcherStopped(t *testing.T) {
	stopped := errors.New("dispatcher: stopped")

	t.Run("single", func(t *testing.T) {
		e := newEcho()
		d := &stubDispatcher{err: stopped}
		c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(`{"lat":1,"lng":1}`), &partner)

		if code := statusOf(e, c, rec, NewLocationHandler(d).Receive(c)); code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d: %s", code, rec.Body.String())
		}
	})

	t.Run("batch", func(t *testing.T) {
		e := newEcho()
		d := &stubDispatcher{err: stopped}
		c, rec := newContext(e, http.MethodPost, "/", strings.NewReader(`[{"lat":1,"lng":1}]`), &partner)

		if code := statusOf(e, c, rec, NewLocationHandler(d).ReceiveBatch(c)); code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d: %s", code, rec.Body.String())
		}
	})
}
