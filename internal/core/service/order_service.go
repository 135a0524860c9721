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
	"github.com/wear60/tracking-service/internal/render"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// maxStampAttempts bounds UpdateStatus retries after ErrStaleWrite.
	maxStampAttempts = 3
)

type OrderService struct {
	repo      ports.OrderRepository
	publisher ports.ChangePublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewOrderService returns an OrderService. publisher may be nil when the
// backing store pushes its own change events.
func NewOrderService(repo ports.OrderRepository, publisher ports.ChangePublisher, logger zerolog.Logger) *OrderService {
	return &OrderService{repo: repo, publisher: publisher, logger: logger, now: time.Now}
}

// ListPending returns orders still waiting for a delivery partner, newest first.
func (s *OrderService) ListPending(ctx context.Context, limit int) ([]ports.OrderSummary, error) {
	out, err := s.list(ctx, ports.ListOrdersFilter{Status: domain.StatusPending, Limit: limit})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending orders")
	}
	return out, err
}

// ListForCustomer returns the orders userID placed, newest first.
func (s *OrderService) ListForCustomer(ctx context.Context, userID string, limit int) ([]ports.OrderSummary, error) {
	out, err := s.list(ctx, ports.ListOrdersFilter{UserID: userID, Limit: limit})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list customer orders")
	}
	return out, err
}

func (s *OrderService) list(ctx context.Context, f ports.ListOrdersFilter) ([]ports.OrderSummary, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	orders, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]ports.OrderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, ports.OrderSummary{
			ID:              o.ID,
			Status:          string(o.Status),
			ShippingAddress: o.ShippingAddress,
			Latitude:        o.Latitude,
			Longitude:       o.Longitude,
			CreatedAt:       o.CreatedAt,
		})
	}
	return out, nil
}

// Accept assigns a pending order to partnerID.
func (s *OrderService) Accept(ctx context.Context, orderID, partnerID string) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("accept order: %w", err)
	}
	if order.Status != domain.StatusPending {
		if order.DeliveryPartnerID != "" {
			return fmt.Errorf("accept order: %w", domain.ErrAlreadyAssigned)
		}
		return fmt.Errorf("accept order: %w (from %s to %s)", domain.ErrInvalidTransition, order.Status, domain.StatusAccepted)
	}

	updated, err := s.repo.Assign(ctx, orderID, partnerID, nextStamp(s.now(), order.UpdatedAt))
	if err != nil {
		return fmt.Errorf("accept order: %w", err)
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(domain.StatusAccepted)).Inc()
	publishRow(ctx, s.publisher, s.logger, updated)

	s.logger.Info().Str("order_id", orderID).Str("partner_id", partnerID).Msg("order accepted")
	return nil
}

// UpdateStatus moves an order the partner is assigned to along the delivery
// lifecycle. A position write landing between the read and the write can
// leave the chosen stamp behind the row; the stamp is then recomputed from
// the fresh row.
func (s *OrderService) UpdateStatus(ctx context.Context, in ports.UpdateStatusInput) error {
	next := domain.OrderStatus(in.Status)

	for attempt := 1; ; attempt++ {
		order, err := s.repo.FindByID(ctx, in.OrderID)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if order.DeliveryPartnerID != in.PartnerID {
			return fmt.Errorf("update status: %w", domain.ErrForbidden)
		}
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("update status: %w (from %s to %s)", domain.ErrInvalidTransition, order.Status, next)
		}

		updated, err := s.repo.UpdateStatus(ctx, in.OrderID, order.Status, next, nextStamp(s.now(), order.UpdatedAt))
		if errors.Is(err, domain.ErrStaleWrite) && attempt < maxStampAttempts {
			s.logger.Debug().Str("order_id", in.OrderID).Int("attempt", attempt).Msg("status stamp behind row, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		metrics.StatusTransitionsTotal.WithLabelValues(string(next)).Inc()
		publishRow(ctx, s.publisher, s.logger, updated)

		s.logger.Info().
			Str("order_id", in.OrderID).
			Str("from", string(order.Status)).
			Str("to", string(next)).
			Msg("order status updated")
		return nil
	}
}

// Authorize checks that p may watch orderID.
func (s *OrderService) Authorize(ctx context.Context, orderID string, p domain.Principal) error {
	_, err := s.visibleOrder(ctx, orderID, p)
	return err
}

// Snapshot returns the current tracking view of an order without opening a
// push channel.
func (s *OrderService) Snapshot(ctx context.Context, orderID string, p domain.Principal) (*ports.TrackingSnapshot, error) {
	order, err := s.visibleOrder(ctx, orderID, p)
	if err != nil {
		return nil, err
	}

	snap := &ports.TrackingSnapshot{OrderID: order.ID, Status: order.Status}
	if order.Latitude != nil && order.Longitude != nil {
		pos := domain.Coordinates{Lat: *order.Latitude, Lng: *order.Longitude}
		if err := pos.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrSnapshotUnavailable, err)
		}
		snap.Location = &domain.Location{
			OrderID:   order.ID,
			Position:  pos,
			Status:    order.Status,
			UpdatedAt: order.UpdatedAt,
		}
	}
	snap.View = render.BuildView(order.ID, snap.Location, domain.RenderMount)
	return snap, nil
}

func (s *OrderService) visibleOrder(ctx context.Context, orderID string, p domain.Principal) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.CanView(order) {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

// nextStamp returns now, or the smallest step past prev when the clock has
// not moved beyond it. Consumers drop rows whose updated_at does not advance.
func nextStamp(now, prev time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// publishRow pushes the row as stored after the write to feeds that need an
// explicit publish. Failures are logged; the write already happened.
func publishRow(ctx context.Context, pub ports.ChangePublisher, log zerolog.Logger, o *domain.Order) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, o.Snapshot()); err != nil {
		log.Warn().Err(err).Str("order_id", o.ID).Msg("failed to publish change event")
	}
}
