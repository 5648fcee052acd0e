package services

import (
	"context"
	"errors"
	"time"

	"github.com/casamar/reservations-backend/internal/clock"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/pkg/events"
	"github.com/casamar/reservations-backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// SweepReport summarizes one expiry run
type SweepReport struct {
	Examined  int `json:"examined"`
	Settled   int `json:"settled"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	// Released counts cancelled bookings whose nights were freed on retry
	Released int `json:"released"`
}

// ProvisionalExpiryService releases nights held by provisional bookings
// (confirmed, payment pending) whose payment never arrived
type ProvisionalExpiryService struct {
	bookings   BookingStore
	resolver   *PaymentStatusResolver
	reconciler *ReconciliationService
	locker     *AvailabilityLocker
	logs       ReconciliationLogStore
	publisher  EventPublisher
	clock      clock.Clock
	ttl        time.Duration
	batchSize  int
	logger     *logrus.Logger
}

// NewProvisionalExpiryService creates a new expiry service.
// logs and publisher may be nil.
func NewProvisionalExpiryService(
	bookings BookingStore,
	resolver *PaymentStatusResolver,
	reconciler *ReconciliationService,
	locker *AvailabilityLocker,
	logs ReconciliationLogStore,
	publisher EventPublisher,
	clk clock.Clock,
	ttl time.Duration,
	batchSize int,
	logger *logrus.Logger,
) *ProvisionalExpiryService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ProvisionalExpiryService{
		bookings:   bookings,
		resolver:   resolver,
		reconciler: reconciler,
		locker:     locker,
		logs:       logs,
		publisher:  publisher,
		clock:      clk,
		ttl:        ttl,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// RunOnce first frees nights still held by cancelled bookings, then pages
// through every stale provisional booking
func (s *ProvisionalExpiryService) RunOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	if err := s.releaseCancelled(ctx, report); err != nil {
		return nil, err
	}

	cutoff := s.clock.Now().Add(-s.ttl)
	var after models.BookingCursor
	for {
		stale, err := s.bookings.ListStaleProvisional(ctx, cutoff, after, s.batchSize)
		if err != nil {
			return nil, err
		}
		if len(stale) == 0 {
			break
		}

		report.Examined += len(stale)
		s.logger.WithField("count", len(stale)).Info("Processing stale provisional bookings")

		for i := range stale {
			s.process(ctx, &stale[i], report)
		}

		if len(stale) < s.batchSize {
			break
		}
		after = stale[len(stale)-1].CursorAfter()
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	return report, nil
}

func (s *ProvisionalExpiryService) process(ctx context.Context, booking *models.Booking, report *SweepReport) {
	logger := s.logger.WithField("booking_id", booking.ID)

	switch verdict, err := s.expire(ctx, booking); {
	case err != nil:
		report.Failed++
		logger.WithError(err).Error("Failed to process provisional booking")
	case verdict == verdictSettled:
		report.Settled++
		logger.Info("Late payment settled provisional booking")
	case verdict == verdictCancelled:
		report.Cancelled++
		logger.Info("Provisional booking expired and nights released")
	default:
		report.Skipped++
	}
}

// releaseCancelled retries releases that failed after a cancellation committed
func (s *ProvisionalExpiryService) releaseCancelled(ctx context.Context, report *SweepReport) error {
	cancelled, err := s.bookings.ListCancelledHoldingNights(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for i := range cancelled {
		booking := &cancelled[i]
		logger := s.logger.WithField("booking_id", booking.ID)

		freed, err := s.locker.ReleaseDates(ctx, booking, models.TriggerSourceSweep)
		if err != nil {
			report.Failed++
			logger.WithError(err).Error("Failed to release nights of cancelled booking")
			continue
		}
		report.Released++
		logger.WithField("nights", len(freed)).Info("Released nights still held by cancelled booking")
	}

	return nil
}

type sweepVerdict int

const (
	verdictSkipped sweepVerdict = iota
	verdictSettled
	verdictCancelled
)

func (s *ProvisionalExpiryService) expire(ctx context.Context, booking *models.Booking) (sweepVerdict, error) {
	if intentID := booking.StoredPaymentIntentID(); intentID != "" {
		outcome, err := s.resolver.Resolve(ctx, models.Identifiers{
			PaymentIntentID: intentID,
			BookingID:       booking.ID,
			Source:          models.TriggerSourceSweep,
		})
		switch {
		case errors.Is(err, models.ErrGatewayUnavailable):
			// try again next run
			return verdictSkipped, nil
		case errors.Is(err, models.ErrNotFound):
			// no payment record: nothing will ever settle it
		case err != nil:
			return verdictSkipped, err
		case outcome.State == payment.StateSucceeded:
			if _, err := s.reconciler.Confirm(ctx, models.Identifiers{
				PaymentIntentID: intentID,
				BookingID:       booking.ID,
				Source:          models.TriggerSourceSweep,
			}); err != nil && !IsPartialFailure(err) {
				return verdictSkipped, err
			}
			return verdictSettled, nil
		case outcome.State == payment.StateProcessing:
			// money is in flight, keep holding
			return verdictSkipped, nil
		}
	}

	now := s.clock.Now()
	ok, err := s.bookings.UpdateStatusIfUnchanged(ctx, booking.ID,
		models.BookingStatusConfirmed, models.PaymentStatusPending,
		models.BookingStatusCancelled, models.PaymentStatusPending, now)
	if err != nil {
		return verdictSkipped, err
	}
	if !ok {
		// someone reconciled it meanwhile
		return verdictSkipped, nil
	}

	released, err := s.locker.ReleaseDates(ctx, booking, models.TriggerSourceSweep)
	if err != nil {
		return verdictCancelled, err
	}

	if s.logs != nil {
		entry := models.NewReconciliationLog(booking.ID, models.ReconciliationActionHoldExpired, models.TriggerSourceSweep).
			SetRoom(booking.RoomID).
			SetDays(released).
			SetMessage("provisional hold expired after " + s.ttl.String())
		if err := s.logs.Log(ctx, entry); err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to write reconciliation log")
		}
	}

	if s.publisher != nil {
		event := events.BookingEvent{
			BookingID:     booking.ID,
			RoomID:        booking.RoomID,
			Status:        string(models.BookingStatusCancelled),
			PaymentStatus: string(models.PaymentStatusPending),
			CheckIn:       models.DayKey(booking.CheckIn),
			CheckOut:      models.DayKey(booking.CheckOut),
			Nights:        released,
			Source:        string(models.TriggerSourceSweep),
			OccurredAt:    now,
		}
		if err := s.publisher.PublishJSON(ctx, events.KeyBookingExpired, event); err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to publish booking expired event")
		}
	}

	return verdictCancelled, nil
}
