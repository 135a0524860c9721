package tracking

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wear60/tracking-service/internal/core/domain"
)

func newStore() *LocationStore {
	return NewLocationStore("order-1", zerolog.Nop())
}

func TestLocationStore_InitializeThenRead(t *testing.T) {
	s := newStore()

	_, ok := s.Current()
	require.False(t, ok, "store must start uninitialized")

	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusAccepted, 100)))

	got, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, domain.Location{
		OrderID:   "order-1",
		Position:  domain.Coordinates{Lat: 12.9, Lng: 77.5},
		Status:    domain.StatusAccepted,
		UpdatedAt: time.Unix(100, 0).UTC(),
	}, got)
}

func TestLocationStore_InitializeRejectsIncompleteSnapshot(t *testing.T) {
	cases := map[string]domain.ChangeEvent{
		"missing latitude":   {Longitude: f64(77.5), Status: st(domain.StatusPending), UpdatedAt: at(100)},
		"missing longitude":  {Latitude: f64(12.9), Status: st(domain.StatusPending), UpdatedAt: at(100)},
		"missing status":     {Latitude: f64(12.9), Longitude: f64(77.5), UpdatedAt: at(100)},
		"missing updated_at": {Latitude: f64(12.9), Longitude: f64(77.5), Status: st(domain.StatusPending)},
		"latitude too large": event(200, 77.5, domain.StatusPending, 100),
		"empty status":       {Latitude: f64(12.9), Longitude: f64(77.5), Status: st(""), UpdatedAt: at(100)},
	}

	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			err := s.Initialize(snap)

			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation), "expected ErrValidation, got %v", err)
			var ve *domain.ValidationError
			assert.True(t, errors.As(err, &ve))
			_, ok := s.Current()
			assert.False(t, ok)
		})
	}
}

func TestLocationStore_ApplyUpdate_InvalidCoordinatesDropped(t *testing.T) {
	cases := map[string]domain.ChangeEvent{
		"latitude out of range":  event(200, 77.6, domain.StatusInTransit, 150),
		"longitude out of range": event(12.95, 200, domain.StatusInTransit, 150),
		"longitude NaN":          event(12.95, math.NaN(), domain.StatusInTransit, 150),
		"longitude infinite":     event(12.95, math.Inf(1), domain.StatusInTransit, 150),
		"latitude only":          {Latitude: f64(12.95), UpdatedAt: at(150)},
		"no ordering token":      {Latitude: f64(12.95), Longitude: f64(77.6)},
	}

	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusAccepted, 100)))
			before, _ := s.Current()

			var applied bool
			require.NotPanics(t, func() { applied = s.ApplyUpdate(ev) })

			assert.False(t, applied)
			after, _ := s.Current()
			assert.Equal(t, before, after)
		})
	}
}

func TestLocationStore_ApplyUpdate_IncreasingSequenceEndsAtLast(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Initialize(event(10, 70, domain.StatusAccepted, 100)))

	seq := []domain.ChangeEvent{
		event(10.1, 70.1, domain.StatusAccepted, 101),
		event(10.2, 70.2, domain.StatusInTransit, 102),
		event(10.3, 70.3, domain.StatusInTransit, 110),
		event(10.4, 70.4, domain.StatusDelivered, 111),
	}
	for _, ev := range seq {
		require.True(t, s.ApplyUpdate(ev))
	}

	got, _ := s.Current()
	assert.Equal(t, domain.Coordinates{Lat: 10.4, Lng: 70.4}, got.Position)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, time.Unix(111, 0).UTC(), got.UpdatedAt)
}

func TestLocationStore_ApplyUpdate_OlderOrEqualTimestampIgnored(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusInTransit, 150)))

	assert.False(t, s.ApplyUpdate(event(1, 1, domain.StatusAccepted, 120)), "older event applied")
	assert.False(t, s.ApplyUpdate(event(2, 2, domain.StatusDelivered, 150)), "equal-timestamp event applied")

	got, _ := s.Current()
	assert.Equal(t, domain.Coordinates{Lat: 12.9, Lng: 77.5}, got.Position)
	// Ordering covers the whole event, so status is held too.
	assert.Equal(t, domain.StatusInTransit, got.Status)
}

func TestLocationStore_ApplyUpdate_StatusOnlyKeepsPosition(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusInTransit, 150)))

	require.True(t, s.ApplyUpdate(domain.ChangeEvent{Status: st(domain.StatusDelivered), UpdatedAt: at(200)}))

	got, _ := s.Current()
	assert.Equal(t, domain.Coordinates{Lat: 12.9, Lng: 77.5}, got.Position)
	assert.Equal(t, domain.StatusDelivered, got.Status)
}

func TestLocationStore_ApplyUpdate_UnknownStatusCarried(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusInTransit, 150)))

	require.True(t, s.ApplyUpdate(event(12.9, 77.5, "returned_to_sender", 151)))

	got, _ := s.Current()
	assert.Equal(t, domain.OrderStatus("returned_to_sender"), got.Status)
}

func TestLocationStore_ApplyUpdate_OtherOrderDropped(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusInTransit, 150)))

	ev := event(1, 1, domain.StatusInTransit, 200)
	ev.OrderID = "order-2"

	assert.False(t, s.ApplyUpdate(ev))
}

func TestLocationStore_ApplyUpdate_BeforeInitialize(t *testing.T) {
	s := newStore()

	assert.False(t, s.ApplyUpdate(domain.ChangeEvent{Status: st(domain.StatusAccepted), UpdatedAt: at(100)}),
		"partial event must not initialize the store")
	_, ok := s.Current()
	assert.False(t, ok)

	assert.True(t, s.ApplyUpdate(event(12.9, 77.5, domain.StatusInTransit, 101)))
	got, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, domain.StatusInTransit, got.Status)
}

func TestLocationStore_ObserversNotifiedAndRemovable(t *testing.T) {
	s := newStore()
	var seen []domain.Location
	remove := s.Observe(func(l domain.Location) { seen = append(seen, l) })

	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusAccepted, 100)))
	require.True(t, s.ApplyUpdate(event(12.95, 77.6, domain.StatusInTransit, 150)))
	s.ApplyUpdate(event(0, 200, "", 160))

	require.Len(t, seen, 2)
	assert.Equal(t, domain.StatusInTransit, seen[1].Status)

	remove()
	remove()
	require.True(t, s.ApplyUpdate(event(13, 78, domain.StatusInTransit, 170)))
	assert.Len(t, seen, 2)
}

func TestLocationStore_ObserverPanicIsContained(t *testing.T) {
	s := newStore()
	calls := 0
	s.Observe(func(domain.Location) { panic("renderer exploded") })
	s.Observe(func(domain.Location) { calls++ })

	require.NoError(t, s.Initialize(event(12.9, 77.5, domain.StatusAccepted, 100)))

	var applied bool
	require.NotPanics(t, func() { applied = s.ApplyUpdate(event(12.95, 77.6, domain.StatusInTransit, 150)) })
	assert.True(t, applied)
	assert.Equal(t, 2, calls)

	got, _ := s.Current()
	assert.Equal(t, domain.StatusInTransit, got.Status)
}
