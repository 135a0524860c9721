package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
	"github.com/wear60/tracking-service/internal/metrics"
)

const defaultDetachTimeout = 5 * time.Second

var errBusy = errors.New("subscription is changing state")

var errDetachedWhileOpening = errors.New("subscription detached while opening")

// SubscriptionState is a node of the subscription lifecycle.
type SubscriptionState int

const (
	Unattached SubscriptionState = iota
	Attaching
	Attached
	Detaching
)

func (s SubscriptionState) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	case Detaching:
		return "detaching"
	}
	return "unknown"
}

// EventHandler receives change events in channel-delivery order. It must not
// call Detach or Attach on the subscriber that delivered the event.
type EventHandler func(domain.ChangeEvent)

// ErrorHandler is told once per transport drop. It runs on the delivery
// goroutine after the subscription has already returned to Unattached.
type ErrorHandler func(err error)

// SubscriberOption customises a Subscriber.
type SubscriberOption func(*Subscriber)

// WithDetachTimeout bounds how long Detach waits for the transport to close
// its event stream. Events that still arrive afterwards are discarded.
func WithDetachTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.detachTimeout = d
		}
	}
}

// WithErrorHandler sets the callback for transport drops.
func WithErrorHandler(fn ErrorHandler) SubscriberOption {
	return func(s *Subscriber) { s.onError = fn }
}

// Subscriber bridges one push channel, scoped to a single order id at a
// time, into an EventHandler.
type Subscriber struct {
	feed          ports.ChangeFeed
	log           zerolog.Logger
	onError       ErrorHandler
	detachTimeout time.Duration

	mu      sync.Mutex
	state   SubscriptionState
	orderID string
	gen     uint64 // bumped on every attach and detach
	ch      ports.FeedChannel
	done    chan struct{}

	// deliver serialises event delivery against Detach so that no event is
	// handed out once Detach has returned.
	deliver sync.Mutex
}

// NewSubscriber returns an unattached Subscriber reading from feed.
func NewSubscriber(feed ports.ChangeFeed, log zerolog.Logger, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		feed:          feed,
		log:           log,
		detachTimeout: defaultDetachTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Subscriber) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OrderID returns the order the subscriber is attached or attaching to.
func (s *Subscriber) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderID
}

// Attach opens a channel for orderID and starts delivering its events to
// onEvent. Attaching to the id already attached is a no-op; attaching to a
// different id detaches first. An open failure is returned as a
// *domain.ChannelError and is not retried.
func (s *Subscriber) Attach(ctx context.Context, orderID string, onEvent EventHandler) error {
	s.mu.Lock()
	if s.state == Attached && s.orderID == orderID {
		s.mu.Unlock()
		return nil
	}
	switchID := s.state == Attached
	s.mu.Unlock()

	if switchID {
		s.Detach()
	}

	s.mu.Lock()
	if s.state != Unattached {
		s.mu.Unlock()
		return errBusy
	}
	s.state = Attaching
	s.orderID = orderID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	ch, err := s.feed.Open(ctx, orderID)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if err == nil {
			_ = ch.Close()
		}
		return errDetachedWhileOpening
	}
	if err != nil {
		s.state = Unattached
		s.orderID = ""
		s.mu.Unlock()

		metrics.ChannelErrorsTotal.WithLabelValues("open").Inc()
		s.log.Error().Err(err).Str("order_id", orderID).Msg("change feed open failed")
		return &domain.ChannelError{OrderID: orderID, Op: "open", Err: err}
	}
	done := make(chan struct{})
	s.ch = ch
	s.done = done
	s.state = Attached
	s.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	s.log.Debug().Str("order_id", orderID).Msg("change feed attached")

	go s.pump(gen, orderID, ch, onEvent, done)
	return nil
}

// Detach releases the current channel. It is a no-op when unattached. Once
// it returns, no event from the released channel reaches the handler.
func (s *Subscriber) Detach() {
	s.mu.Lock()
	switch s.state {
	case Unattached, Detaching:
		s.mu.Unlock()
		return
	case Attaching:
		// Attach notices the generation change and closes what it opened.
		s.gen++
		s.state = Unattached
		s.orderID = ""
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = Detaching
	ch, done, orderID := s.ch, s.done, s.orderID
	s.mu.Unlock()

	if err := ch.Close(); err != nil {
		s.log.Warn().Err(err).Str("order_id", orderID).Msg("change feed close failed")
	}

	// Barrier: any in-flight delivery finishes, later ones see the new generation.
	s.deliver.Lock()
	s.deliver.Unlock()

	select {
	case <-done:
	case <-time.After(s.detachTimeout):
		s.log.Warn().Str("order_id", orderID).Msg("change feed did not close in time, discarding late events")
	}

	s.mu.Lock()
	s.state = Unattached
	s.orderID = ""
	s.ch = nil
	s.done = nil
	s.mu.Unlock()

	metrics.ActiveSubscriptions.Dec()
	s.log.Debug().Str("order_id", orderID).Msg("change feed detached")
}

func (s *Subscriber) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// deliverOne hands ev to onEvent unless the subscription generation has moved on.
func (s *Subscriber) deliverOne(gen uint64, ev domain.ChangeEvent, onEvent EventHandler) bool {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	if !s.current(gen) {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("order_id", ev.OrderID).Msg("change event handler panicked")
		}
	}()
	onEvent(ev)
	return true
}

func (s *Subscriber) pump(gen uint64, orderID string, ch ports.FeedChannel, onEvent EventHandler, done chan struct{}) {
	defer close(done)

	for ev := range ch.Events() {
		if ev.OrderID == "" {
			ev.OrderID = orderID
		}

		if !s.deliverOne(gen, ev, onEvent) {
			metrics.ChangeEventsDroppedTotal.WithLabelValues("stale_subscription").Inc()
			s.log.Debug().Str("order_id", orderID).Msg("stale change event discarded")
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	// The transport ended the channel on its own.
	s.gen++
	s.state = Unattached
	s.orderID = ""
	s.ch = nil
	s.done = nil
	s.mu.Unlock()

	metrics.ActiveSubscriptions.Dec()
	metrics.ChannelErrorsTotal.WithLabelValues("receive").Inc()
	_ = ch.Close()

	cerr := &domain.ChannelError{OrderID: orderID, Op: "receive", Err: ch.Err()}
	s.log.Error().Err(cerr).Str("order_id", orderID).Msg("change feed dropped")
	if s.onError != nil {
		s.onError(cerr)
	}
}
