package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/ports"
	"github.com/wear60/tracking-service/internal/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// ErrStopped is returned by Enqueue once the workers are shutting down.
var ErrStopped = errors.New("dispatcher: stopped")

// Dispatcher routes location pings to a fixed set of workers using
// consistent hashing on the order id, so pings for one order are applied in
// arrival order.
type Dispatcher struct {
	workers []chan ports.LocationPingInput
	service ports.LocationService
	log     zerolog.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, service ports.LocationService, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan ports.LocationPingInput, numWorkers),
		service: service,
		log:     log,
		quit:    make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.LocationPingInput, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines and blocks until ctx is cancelled and
// every worker has returned.
func (d *Dispatcher) Start(ctx context.Context) {
	stopAccepting := context.AfterFunc(ctx, d.stop)
	defer stopAccepting()
	defer d.stop()

	done := make(chan struct{}, len(d.workers))
	for i, ch := range d.workers {
		go func(id int, ch <-chan ports.LocationPingInput) {
			d.runWorker(ctx, id, ch)
			done <- struct{}{}
		}(i, ch)
	}
	for range d.workers {
		<-done
	}
}

func (d *Dispatcher) stop() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// Enqueue sends a ping to the worker responsible for its order. It waits
// while that worker's buffer is full, and gives up with ErrStopped once the
// dispatcher shuts down or with ctx's error when the caller leaves.
func (d *Dispatcher) Enqueue(ctx context.Context, ping ports.LocationPingInput) error {
	select {
	case <-d.quit:
		return ErrStopped
	default:
	}

	idx := d.shardIndex(ping.OrderID)
	select {
	case d.workers[idx] <- ping:
	case <-d.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	metrics.PingsQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	return nil
}

// EnqueueBatch enqueues pings in order, preserving per-order ordering. It
// stops at the first ping that cannot be enqueued; earlier ones stay queued.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, pings []ports.LocationPingInput) error {
	for _, p := range pings {
		if err := d.Enqueue(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// shardIndex maps an order id deterministically to a worker index.
func (d *Dispatcher) shardIndex(orderID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.LocationPingInput) {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ping, ok := <-ch:
			if !ok {
				return
			}
			metrics.PingsQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			if err := d.service.Process(ctx, ping); err != nil {
				d.log.Error().Err(err).
					Str("order_id", ping.OrderID).
					Int("worker_id", id).
					Msg("ping processing failed")
			}
		}
	}
}
