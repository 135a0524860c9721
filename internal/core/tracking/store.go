package tracking

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/metrics"
)

// errOutOfOrder marks an event that is not newer than the held state.
var errOutOfOrder = errors.New("event not newer than current state")

// Observer is notified with the new state after every accepted write.
type Observer func(domain.Location)

// LocationStore holds the last known location of one order. It is owned by a
// single tracking handle and is not shared.
type LocationStore struct {
	orderID string
	log     zerolog.Logger

	mu        sync.Mutex
	state     *domain.Location
	observers map[uint64]Observer
	nextObs   uint64
}

// NewLocationStore returns an empty store for orderID.
func NewLocationStore(orderID string, log zerolog.Logger) *LocationStore {
	return &LocationStore{
		orderID:   orderID,
		log:       log.With().Str("order_id", orderID).Logger(),
		observers: make(map[uint64]Observer),
	}
}

// Initialize sets the state from a freshly fetched snapshot, ignoring the
// ordering guard. The snapshot must carry every field.
func (s *LocationStore) Initialize(snap domain.ChangeEvent) error {
	loc, err := s.completeLocation(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = &loc
	obs := s.observerList()
	s.mu.Unlock()

	s.notify(obs, loc)
	return nil
}

// ApplyUpdate validates ev and, if it is acceptable, merges it into the held
// state and notifies observers. Rejected events are logged and dropped. It
// never panics, so one malformed push cannot stop later ones.
func (s *LocationStore) ApplyUpdate(ev domain.ChangeEvent) (applied bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("change event handling panicked")
			applied = false
		}
	}()

	s.mu.Lock()
	next, err := s.merge(ev)
	if err != nil {
		s.mu.Unlock()
		s.drop(ev, err)
		return false
	}
	s.state = &next
	obs := s.observerList()
	s.mu.Unlock()

	metrics.ChangeEventsAppliedTotal.Inc()
	s.log.Debug().
		Str("status", string(next.Status)).
		Float64("lat", next.Position.Lat).
		Float64("lng", next.Position.Lng).
		Time("updated_at", next.UpdatedAt).
		Msg("location updated")

	s.notify(obs, next)
	return true
}

// Current returns the held state, and false if the store has not been
// initialized yet.
func (s *LocationStore) Current() (domain.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.Location{}, false
	}
	return *s.state, true
}

// Observe registers fn and returns a func that removes it.
func (s *LocationStore) Observe(fn Observer) (remove func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// merge must be called with s.mu held.
func (s *LocationStore) merge(ev domain.ChangeEvent) (domain.Location, error) {
	if ev.OrderID != "" && ev.OrderID != s.orderID {
		return domain.Location{}, &domain.ValidationError{Field: "order_id", Reason: "does not match tracked order " + s.orderID}
	}
	if s.state == nil {
		// Nothing to merge into: only a complete event is usable.
		return s.completeLocation(ev)
	}
	if err := validateEvent(ev); err != nil {
		return domain.Location{}, err
	}
	// Ordering applies to the whole event, status included.
	if !ev.UpdatedAt.After(s.state.UpdatedAt) {
		return domain.Location{}, errOutOfOrder
	}

	next := *s.state
	next.UpdatedAt = *ev.UpdatedAt
	if ev.HasPosition() {
		next.Position = domain.Coordinates{Lat: *ev.Latitude, Lng: *ev.Longitude}
	}
	if ev.Status != nil {
		next.Status = *ev.Status
	}
	return next, nil
}

func (s *LocationStore) completeLocation(ev domain.ChangeEvent) (domain.Location, error) {
	switch {
	case ev.Latitude == nil:
		return domain.Location{}, &domain.ValidationError{Field: "latitude", Reason: "is missing"}
	case ev.Longitude == nil:
		return domain.Location{}, &domain.ValidationError{Field: "longitude", Reason: "is missing"}
	case ev.Status == nil:
		return domain.Location{}, &domain.ValidationError{Field: "status", Reason: "is missing"}
	}
	if err := validateEvent(ev); err != nil {
		return domain.Location{}, err
	}
	return domain.Location{
		OrderID:   s.orderID,
		Position:  domain.Coordinates{Lat: *ev.Latitude, Lng: *ev.Longitude},
		Status:    *ev.Status,
		UpdatedAt: *ev.UpdatedAt,
	}, nil
}

// validateEvent checks the fields present on ev. Coordinates arrive as a
// pair or not at all; updated_at is the ordering token and is mandatory.
func validateEvent(ev domain.ChangeEvent) error {
	if ev.UpdatedAt == nil || ev.UpdatedAt.IsZero() {
		return &domain.ValidationError{Field: "updated_at", Reason: "is missing"}
	}
	if (ev.Latitude == nil) != (ev.Longitude == nil) {
		return &domain.ValidationError{Field: "position", Reason: "must carry both latitude and longitude"}
	}
	if ev.HasPosition() {
		if err := (domain.Coordinates{Lat: *ev.Latitude, Lng: *ev.Longitude}).Validate(); err != nil {
			return err
		}
	}
	if ev.Status != nil && *ev.Status == "" {
		return &domain.ValidationError{Field: "status", Reason: "is empty"}
	}
	return nil
}

func (s *LocationStore) drop(ev domain.ChangeEvent, err error) {
	reason := "validation"
	if errors.Is(err, errOutOfOrder) {
		reason = "out_of_order"
	}
	metrics.ChangeEventsDroppedTotal.WithLabelValues(reason).Inc()

	e := s.log.Warn().Err(err).Str("reason", reason)
	if ev.UpdatedAt != nil {
		e = e.Time("event_updated_at", *ev.UpdatedAt)
	}
	e.Msg("change event dropped")
}

// observerList must be called with s.mu held.
func (s *LocationStore) observerList() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		out = append(out, fn)
	}
	return out
}

func (s *LocationStore) notify(obs []Observer, loc domain.Location) {
	for _, fn := range obs {
		s.callObserver(fn, loc)
	}
}

func (s *LocationStore) callObserver(fn Observer, loc domain.Location) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("location observer panicked")
		}
	}()
	fn(loc)
}
