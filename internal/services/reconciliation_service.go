package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/casamar/reservations-backend/internal/clock"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/internal/utils"
	"github.com/casamar/reservations-backend/pkg/events"
	"github.com/casamar/reservations-backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// maxStatusWriteAttempts bounds re-reads after losing a compare-and-set
const maxStatusWriteAttempts = 3

// ConfirmResult is the outcome of one reconciliation
type ConfirmResult struct {
	Booking  *models.Booking
	Outcome  *models.PaymentOutcome
	Decision Decision
	// Changed is true if this call wrote new statuses
	Changed        bool
	Locked         *LockResult
	Forwarded      bool
	RequiresAction bool
}

// Confirmed returns true if the booking holds its nights
func (r *ConfirmResult) Confirmed() bool {
	return r.Booking != nil && r.Booking.IsConfirmed()
}

// ReconciliationService composes resolution, decision, locking and
// forwarding into one idempotent confirm operation. It holds no in-process
// lock: every write it makes is safe to repeat and to race.
type ReconciliationService struct {
	resolver  *PaymentStatusResolver
	bookings  BookingStore
	locker    *AvailabilityLocker
	forwarder *SpecialRequestForwarder
	logs      ReconciliationLogStore
	publisher EventPublisher
	clock     clock.Clock
	logger    *logrus.Logger
}

// NewReconciliationService creates a new ReconciliationService.
// logs and publisher may be nil.
func NewReconciliationService(
	resolver *PaymentStatusResolver,
	bookings BookingStore,
	locker *AvailabilityLocker,
	forwarder *SpecialRequestForwarder,
	logs ReconciliationLogStore,
	publisher EventPublisher,
	clk clock.Clock,
	logger *logrus.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		resolver:  resolver,
		bookings:  bookings,
		locker:    locker,
		forwarder: forwarder,
		logs:      logs,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// Confirm reconciles a booking with its payment.
//
// NotFound, GatewayUnavailable, InvalidRange and EmptyRange abort before
// anything is written. When the status write succeeded but the nights could
// not be locked, the result is returned together with a *PartialFailureError.
func (s *ReconciliationService) Confirm(ctx context.Context, ids models.Identifiers) (*ConfirmResult, error) {
	if ids.IsEmpty() {
		return nil, models.ErrMissingIdentifiers
	}
	if ids.Source == "" {
		ids.Source = models.TriggerSourcePoll
	}

	outcome, err := s.resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	booking := outcome.Booking
	if booking == nil {
		booking, err = s.bookings.GetByID(ctx, outcome.BookingID)
		if err != nil {
			return nil, err
		}
	}

	decision := Decide(*outcome)
	result := &ConfirmResult{Booking: booking, Outcome: outcome, Decision: decision}
	logger := s.logger.WithFields(logrus.Fields{
		"booking_id":    booking.ID,
		"source":        ids.Source,
		"gateway_state": outcome.State,
		"method_family": outcome.Family,
	})

	if booking.Status.IsTerminal() {
		s.handleTerminal(ctx, ids, outcome, booking, logger)
		return result, nil
	}

	target := TargetStatuses(booking, decision)
	if target.Status == models.BookingStatusConfirmed {
		// a stay that cannot be locked must not be confirmed
		if _, err := EnumerateNights(booking.CheckIn, booking.CheckOut); err != nil {
			return nil, fmt.Errorf("booking %s: %w", booking.ID, err)
		}
	}

	previous := booking.Status
	booking, changed, err := s.writeStatus(ctx, booking, decision)
	if err != nil {
		return nil, err
	}
	result.Booking = booking
	result.Changed = changed

	if booking.Status.IsTerminal() {
		// lost the race to a cancellation
		s.handleTerminal(ctx, ids, outcome, booking, logger)
		return result, nil
	}

	if changed {
		logger.WithFields(logrus.Fields{
			"status":         booking.Status,
			"payment_status": booking.PaymentStatus,
		}).Info("Booking status reconciled")
		s.audit(ctx, models.NewReconciliationLog(booking.ID, models.ReconciliationActionStatusChanged, ids.Source).
			SetRoom(booking.RoomID).
			SetGatewayState(string(outcome.State)).
			SetMessage(fmt.Sprintf("%s/%s", booking.Status, booking.PaymentStatus)).
			SetClient(utils.SummarizeUserAgent(ids.Client)))
	}

	result.RequiresAction = decision.RequiresAction && !booking.IsConfirmed()

	if !booking.IsConfirmed() {
		return result, nil
	}

	var lockErr error
	result.Locked, lockErr = s.locker.LockDates(ctx, booking, ids.Source)
	if errors.Is(lockErr, models.ErrNotConfirmed) {
		// cancelled between the status write and the lock, nothing was blocked
		return s.lostToCancellation(ctx, ids, outcome, result, logger)
	}
	if lockErr != nil {
		logger.WithError(lockErr).Error("Booking saved but room nights not locked")
		s.audit(ctx, models.NewReconciliationLog(booking.ID, models.ReconciliationActionLockFailed, ids.Source).
			SetRoom(booking.RoomID).
			SetMessage(lockErr.Error()))
	}

	forwarded, err := s.forwarder.ForwardIfNeeded(ctx, booking, ids.Source)
	if err != nil {
		logger.WithError(err).Warn("Failed to forward special request")
	}
	result.Forwarded = forwarded

	if changed && previous != models.BookingStatusConfirmed {
		s.publishConfirmed(ctx, booking, result.Locked, ids.Source)
	}

	if lockErr != nil {
		return result, &models.PartialFailureError{Booking: booking, Cause: lockErr}
	}
	return result, nil
}

func (s *ReconciliationService) lostToCancellation(ctx context.Context, ids models.Identifiers, outcome *models.PaymentOutcome, result *ConfirmResult, logger *logrus.Entry) (*ConfirmResult, error) {
	latest, err := s.bookings.GetByID(ctx, result.Booking.ID)
	if err != nil {
		return nil, err
	}
	logger.WithField("status", latest.Status).Warn("Booking left confirmed before its nights were locked")

	result.Booking = latest
	result.Locked = nil
	result.RequiresAction = false
	s.handleTerminal(ctx, ids, outcome, latest, logger)
	return result, nil
}

// writeStatus persists the decided statuses with a compare-and-set on the
// pair that was read. A lost race re-reads and re-applies the decision to
// the winner's state.
func (s *ReconciliationService) writeStatus(ctx context.Context, booking *models.Booking, decision Decision) (*models.Booking, bool, error) {
	for attempt := 0; attempt < maxStatusWriteAttempts; attempt++ {
		if booking.Status.IsTerminal() {
			return booking, false, nil
		}

		target := TargetStatuses(booking, decision)
		if target.Status == booking.Status && target.PaymentStatus == booking.PaymentStatus {
			return booking, false, nil
		}

		now := s.clock.Now()
		ok, err := s.bookings.UpdateStatusIfUnchanged(ctx, booking.ID,
			booking.Status, booking.PaymentStatus,
			target.Status, target.PaymentStatus, now)
		if err != nil {
			return nil, false, err
		}
		if ok {
			updated := *booking
			updated.Status = target.Status
			updated.PaymentStatus = target.PaymentStatus
			updated.UpdatedAt = now
			return &updated, true, nil
		}

		booking, err = s.bookings.GetByID(ctx, booking.ID)
		if err != nil {
			return nil, false, err
		}
	}

	return nil, false, fmt.Errorf("booking %s: %w", booking.ID, models.ErrConcurrentUpdate)
}

// handleTerminal records payments that arrive for cancelled bookings.
// The booking itself is never resurrected.
func (s *ReconciliationService) handleTerminal(ctx context.Context, ids models.Identifiers, outcome *models.PaymentOutcome, booking *models.Booking, logger *logrus.Entry) {
	if booking.Status != models.BookingStatusCancelled || outcome.State != payment.StateSucceeded {
		logger.WithField("status", booking.Status).Debug("Booking is terminal, nothing to reconcile")
		return
	}

	logger.Warn("Payment succeeded for a cancelled booking, needs staff review")
	s.audit(ctx, models.NewReconciliationLog(booking.ID, models.ReconciliationActionLatePaymentOnCancelled, ids.Source).
		SetRoom(booking.RoomID).
		SetGatewayState(string(outcome.State)).
		SetMessage("payment intent " + outcome.PaymentIntentID).
		SetClient(utils.SummarizeUserAgent(ids.Client)))
}

// RelockDates re-runs night locking for a confirmed booking, for staff
// recovery after a partial failure. Statuses are not re-decided.
func (s *ReconciliationService) RelockDates(ctx context.Context, bookingID string) (*ConfirmResult, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsConfirmed() {
		return nil, fmt.Errorf("booking %s is %s: %w", booking.ID, booking.Status, models.ErrNotConfirmed)
	}

	locked, err := s.locker.LockDates(ctx, booking, models.TriggerSourceManual)
	if err != nil {
		return nil, err
	}

	return &ConfirmResult{Booking: booking, Locked: locked}, nil
}

// BookingInspection is the staff view of a booking's reconciliation state
type BookingInspection struct {
	Booking  *models.BookingSnapshot `json:"booking"`
	Nights   []NightState            `json:"nights"`
	Unlocked []string                `json:"unlocked,omitempty"` // confirmed nights this booking does not hold
	Messages []models.InboxMessage   `json:"messages"`
}

// Inspect gathers the booking, the state of its nights and the special
// requests forwarded for it
func (s *ReconciliationService) Inspect(ctx context.Context, bookingID string) (*BookingInspection, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	inspection := &BookingInspection{Booking: booking.ToSnapshot(), Nights: []NightState{}}

	nights, err := s.locker.Nights(ctx, booking)
	switch {
	case errors.Is(err, models.ErrInvalidRange), errors.Is(err, models.ErrEmptyRange):
		// nothing to show for a stay without nights
	case err != nil:
		return nil, err
	default:
		inspection.Nights = nights
	}

	if booking.IsConfirmed() {
		for _, n := range inspection.Nights {
			if n.Available || !n.IsHeldBy(booking.ID) {
				inspection.Unlocked = append(inspection.Unlocked, n.Day)
			}
		}
	}

	inspection.Messages, err = s.forwarder.Forwarded(ctx, booking.ID)
	if err != nil {
		return nil, err
	}

	return inspection, nil
}

// History returns the reconciliation log of a booking
func (s *ReconciliationService) History(ctx context.Context, bookingID string, limit int) ([]models.ReconciliationLog, error) {
	if _, err := s.bookings.GetByID(ctx, bookingID); err != nil {
		return nil, err
	}
	if s.logs == nil {
		return []models.ReconciliationLog{}, nil
	}
	return s.logs.ListByBooking(ctx, bookingID, limit)
}

func (s *ReconciliationService) publishConfirmed(ctx context.Context, booking *models.Booking, locked *LockResult, source models.TriggerSource) {
	if s.publisher == nil {
		return
	}

	event := events.BookingEvent{
		BookingID:     booking.ID,
		RoomID:        booking.RoomID,
		Status:        string(booking.Status),
		PaymentStatus: string(booking.PaymentStatus),
		CheckIn:       models.DayKey(booking.CheckIn),
		CheckOut:      models.DayKey(booking.CheckOut),
		Source:        string(source),
		OccurredAt:    s.clock.Now(),
	}
	if locked != nil {
		event.Nights = locked.Days
	}

	if err := s.publisher.PublishJSON(ctx, events.KeyBookingConfirmed, event); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to publish booking confirmed event")
	}
}

func (s *ReconciliationService) audit(ctx context.Context, entry *models.ReconciliationLog) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Log(ctx, entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": entry.BookingID,
			"action":     entry.Action,
		}).Warn("Failed to write reconciliation log")
	}
}

// IsPartialFailure reports whether err is a committed-but-unlocked result
func IsPartialFailure(err error) bool {
	var pf *models.PartialFailureError
	return errors.As(err, &pf)
}
