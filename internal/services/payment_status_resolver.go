package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

// BookingReader reads stored bookings
type BookingReader interface {
	GetByID(ctx context.Context, id string) (*models.Booking, error)
}

// PaymentStatusResolver turns whatever identifiers a trigger has into a
// normalized payment outcome
type PaymentStatusResolver struct {
	gateway    payment.Gateway
	bookings   BookingReader
	classifier *MethodClassifier
	timeout    time.Duration
	logger     *logrus.Logger
}

// NewPaymentStatusResolver creates a resolver. gateway may be nil, in which
// case only booking-id resolution works.
func NewPaymentStatusResolver(
	gateway payment.Gateway,
	bookings BookingReader,
	classifier *MethodClassifier,
	timeout time.Duration,
	logger *logrus.Logger,
) *PaymentStatusResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaymentStatusResolver{
		gateway:    gateway,
		bookings:   bookings,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger,
	}
}

// Resolve resolves identifiers in priority order: checkout session, payment
// intent, then the stored booking alone
func (r *PaymentStatusResolver) Resolve(ctx context.Context, ids models.Identifiers) (*models.PaymentOutcome, error) {
	switch {
	case ids.SessionID != "":
		return r.resolveSession(ctx, ids)
	case ids.PaymentIntentID != "":
		return r.resolveIntent(ctx, ids)
	case ids.BookingID != "":
		return r.resolveBooking(ctx, ids)
	default:
		return nil, models.ErrMissingIdentifiers
	}
}

func (r *PaymentStatusResolver) resolveSession(ctx context.Context, ids models.Identifiers) (*models.PaymentOutcome, error) {
	if r.gateway == nil {
		return nil, fmt.Errorf("checkout session %s: %w", ids.SessionID, models.ErrGatewayUnavailable)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	session, err := r.gateway.GetCheckoutSession(callCtx, ids.SessionID)
	cancel()
	if err != nil {
		return nil, r.mapGatewayError("checkout session", ids.SessionID, err)
	}

	bookingID := session.ClientReferenceID
	if bookingID == "" {
		bookingID = ids.BookingID
	} else if ids.BookingID != "" && ids.BookingID != bookingID {
		r.logger.WithFields(logrus.Fields{
			"session_id":        session.ID,
			"session_reference": bookingID,
			"given_booking_id":  ids.BookingID,
		}).Warn("Booking id does not match checkout session reference, using session reference")
	}
	if bookingID == "" {
		return nil, models.NewNotFound("booking reference for checkout session", session.ID)
	}

	outcome := &models.PaymentOutcome{
		BookingID:       bookingID,
		State:           payment.StateUnpaid,
		Family:          r.classifier.Classify(session.PaymentMethodTypes...),
		PaymentIntentID: session.PaymentIntentID,
		NativeStatus:    session.NativeStatus,
	}
	if session.Paid {
		outcome.State = payment.StateSucceeded
		return outcome, nil
	}

	// an unpaid session says nothing about vouchers still in flight, the intent does
	intentID := ids.PaymentIntentID
	if intentID == "" {
		intentID = session.PaymentIntentID
	}
	if intentID == "" {
		return outcome, nil
	}

	intent, err := r.fetchIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	outcome.State = intent.State
	outcome.PaymentIntentID = intent.ID
	outcome.NativeStatus = intent.NativeStatus
	if len(intent.PaymentMethodTypes) > 0 {
		outcome.Family = r.classifier.Classify(intent.PaymentMethodTypes...)
	}
	return outcome, nil
}

func (r *PaymentStatusResolver) resolveIntent(ctx context.Context, ids models.Identifiers) (*models.PaymentOutcome, error) {
	if r.gateway == nil {
		return nil, fmt.Errorf("payment intent %s: %w", ids.PaymentIntentID, models.ErrGatewayUnavailable)
	}

	intent, err := r.fetchIntent(ctx, ids.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	bookingID := intent.BookingID()
	if bookingID == "" {
		bookingID = ids.BookingID
	} else if ids.BookingID != "" && ids.BookingID != bookingID {
		r.logger.WithFields(logrus.Fields{
			"payment_intent_id": intent.ID,
			"intent_reference":  bookingID,
			"given_booking_id":  ids.BookingID,
		}).Warn("Booking id does not match payment intent metadata, using intent metadata")
	}
	if bookingID == "" {
		return nil, models.NewNotFound("booking reference for payment intent", intent.ID)
	}

	return &models.PaymentOutcome{
		BookingID:       bookingID,
		State:           intent.State,
		Family:          r.classifier.Classify(intent.PaymentMethodTypes...),
		PaymentIntentID: intent.ID,
		NativeStatus:    intent.NativeStatus,
	}, nil
}

// resolveBooking never calls the gateway: the caller has no intent to poll
func (r *PaymentStatusResolver) resolveBooking(ctx context.Context, ids models.Identifiers) (*models.PaymentOutcome, error) {
	booking, err := r.bookings.GetByID(ctx, ids.BookingID)
	if err != nil {
		return nil, err
	}

	outcome := &models.PaymentOutcome{
		BookingID: booking.ID,
		State:     payment.StateRequiresAction,
		Family:    r.classifier.Classify(booking.StoredPaymentMethod()),
		Booking:   booking,
	}
	if booking.PaymentStatus == models.PaymentStatusPaid || ids.Manual {
		outcome.State = payment.StateSucceeded
	}
	return outcome, nil
}

func (r *PaymentStatusResolver) fetchIntent(ctx context.Context, id string) (*payment.Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	intent, err := r.gateway.GetPaymentIntent(callCtx, id)
	if err != nil {
		return nil, r.mapGatewayError("payment intent", id, err)
	}
	return intent, nil
}

// mapGatewayError keeps NotFound distinct and turns everything else into
// GatewayUnavailable, never into a failed payment
func (r *PaymentStatusResolver) mapGatewayError(kind, id string, err error) error {
	if errors.Is(err, payment.ErrNotFound) {
		return models.NewNotFound(kind, id)
	}

	r.logger.WithError(err).WithFields(logrus.Fields{
		"kind": kind,
		"id":   id,
	}).Warn("Payment gateway lookup failed")
	return fmt.Errorf("%s %s: %w: %v", kind, id, models.ErrGatewayUnavailable, err)
}
