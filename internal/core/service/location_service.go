package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
	"github.com/wear60/tracking-service/internal/metrics"
)

// DedupChecker abstracts the idempotency store (Redis).
type DedupChecker interface {
	IsDuplicate(ctx context.Context, orderID, partnerID string, ts time.Time) (bool, error)
	Mark(ctx context.Context, orderID, partnerID string, ts time.Time) error
}

type locationService struct {
	repo      ports.OrderRepository
	publisher ports.ChangePublisher
	dedup     DedupChecker
	log       zerolog.Logger
	now       func() time.Time
}

// NewLocationService returns a LocationService implementation. publisher may
// be nil when the backing store pushes its own change events.
func NewLocationService(
	repo ports.OrderRepository,
	publisher ports.ChangePublisher,
	dedup DedupChecker,
	log zerolog.Logger,
) ports.LocationService {
	return &locationService{
		repo:      repo,
		publisher: publisher,
		dedup:     dedup,
		log:       log,
		now:       time.Now,
	}
}

// Process validates, deduplicates, and persists a single location ping.
func (s *locationService) Process(ctx context.Context, in ports.LocationPingInput) error {
	start := time.Now()
	result := "ok"
	defer func() {
		metrics.PingProcessingDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	pos := domain.Coordinates{Lat: in.Location.Lat, Lng: in.Location.Lng}
	if err := pos.Validate(); err != nil {
		result = "error"
		metrics.PingsErrorsTotal.WithLabelValues("validation").Inc()
		return fmt.Errorf("process ping: %w", err)
	}
	now := s.now()
	if err := domain.CheckReportedAt(in.Timestamp, now); err != nil {
		result = "error"
		metrics.PingsErrorsTotal.WithLabelValues("validation").Inc()
		return fmt.Errorf("process ping: %w", err)
	}
	ts := in.Timestamp.UTC()
	if in.Timestamp.IsZero() {
		ts = now.UTC()
	}

	// 1. Idempotency check; duplicates are skipped silently.
	isDup, err := s.dedup.IsDuplicate(ctx, in.OrderID, in.PartnerID, ts)
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", in.OrderID).Msg("dedup check failed, processing anyway")
	} else if isDup {
		metrics.PingsDedupTotal.WithLabelValues("hit").Inc()
		s.log.Debug().Str("order_id", in.OrderID).Time("ts", ts).Msg("duplicate ping skipped")
		return nil
	}
	metrics.PingsDedupTotal.WithLabelValues("miss").Inc()

	// 2. Only the assigned partner reports positions, and only while the
	// order is on its way.
	order, err := s.repo.FindByID(ctx, in.OrderID)
	if err != nil {
		result = "error"
		if errors.Is(err, domain.ErrOrderNotFound) {
			metrics.PingsErrorsTotal.WithLabelValues("order_not_found").Inc()
		} else {
			metrics.PingsErrorsTotal.WithLabelValues("lookup_failed").Inc()
		}
		return fmt.Errorf("process ping: %w", err)
	}
	if order.DeliveryPartnerID != in.PartnerID {
		result = "error"
		metrics.PingsErrorsTotal.WithLabelValues("forbidden").Inc()
		return fmt.Errorf("process ping: %w", domain.ErrForbidden)
	}
	if order.Status != domain.StatusAccepted && order.Status != domain.StatusInTransit {
		result = "error"
		metrics.PingsErrorsTotal.WithLabelValues("not_trackable").Inc()
		return fmt.Errorf("process ping: %w (order is %s)", domain.ErrInvalidTransition, order.Status)
	}

	// 3. Mark before writing so a retried batch does not re-apply.
	if markErr := s.dedup.Mark(ctx, in.OrderID, in.PartnerID, ts); markErr != nil {
		s.log.Warn().Err(markErr).Str("order_id", in.OrderID).Msg("failed to set dedup key")
	}

	// 4. Conditional write; an older ping than the stored row is a no-op.
	updated, err := s.repo.UpdatePosition(ctx, in.OrderID, pos, ts)
	if err != nil {
		result = "error"
		metrics.PingsErrorsTotal.WithLabelValues("update_failed").Inc()
		return fmt.Errorf("process ping: update position: %w", err)
	}
	if updated == nil {
		result = "stale"
		s.log.Debug().Str("order_id", in.OrderID).Time("ts", ts).Msg("stale ping ignored")
		return nil
	}

	publishRow(ctx, s.publisher, s.log, updated)

	metrics.PingsProcessedTotal.WithLabelValues(in.Source).Inc()
	s.log.Info().
		Str("order_id", in.OrderID).
		Float64("lat", pos.Lat).
		Float64("lng", pos.Lng).
		Str("source", in.Source).
		Msg("ping processed")

	return nil
}
