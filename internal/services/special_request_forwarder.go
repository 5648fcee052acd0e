package services

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/casamar/reservations-backend/internal/clock"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// SpecialRequestIdempotencyKey derives the dedup key of a forwarded request
// from the booking id and the trimmed request text
func SpecialRequestIdempotencyKey(bookingID, text string) string {
	sum := blake2b.Sum256([]byte(bookingID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// SpecialRequestForwarder copies guest special requests into the staff inbox
type SpecialRequestForwarder struct {
	inbox  InboxStore
	logs   ReconciliationLogStore
	clock  clock.Clock
	window time.Duration
	logger *logrus.Logger
}

// NewSpecialRequestForwarder creates a new SpecialRequestForwarder
func NewSpecialRequestForwarder(inbox InboxStore, logs ReconciliationLogStore, clk clock.Clock, window time.Duration, logger *logrus.Logger) *SpecialRequestForwarder {
	return &SpecialRequestForwarder{
		inbox:  inbox,
		logs:   logs,
		clock:  clk,
		window: window,
		logger: logger,
	}
}

// ForwardIfNeeded creates an inbox message for the booking's special request
// unless the request is blank or was already forwarded within the window.
// Returns true if a new message was created.
func (f *SpecialRequestForwarder) ForwardIfNeeded(ctx context.Context, booking *models.Booking, source models.TriggerSource) (bool, error) {
	text := booking.TrimmedSpecialRequests()
	if text == "" {
		return false, nil
	}

	now := f.clock.Now()
	key := SpecialRequestIdempotencyKey(booking.ID, text)
	msg := models.NewSpecialRequestMessage(booking, key, now)

	created, err := f.inbox.CreateUnlessDuplicate(ctx, msg, now.Add(-f.window))
	if err != nil {
		return false, err
	}

	fields := logrus.Fields{
		"booking_id":      booking.ID,
		"idempotency_key": key,
		"source":          source,
	}
	if !created {
		f.logger.WithFields(fields).Debug("Special request already forwarded within window")
		return false, nil
	}

	f.logger.WithFields(fields).Info("Special request forwarded to inbox")

	if f.logs != nil {
		entry := models.NewReconciliationLog(booking.ID, models.ReconciliationActionSpecialRequestSent, source).
			SetRoom(booking.RoomID).
			SetMessage(msg.ID.String())
		if err := f.logs.Log(ctx, entry); err != nil {
			f.logger.WithError(err).WithFields(fields).Warn("Failed to write reconciliation log")
		}
	}

	return true, nil
}

// Forwarded returns the inbox messages already created for a booking
func (f *SpecialRequestForwarder) Forwarded(ctx context.Context, bookingID string) ([]models.InboxMessage, error) {
	return f.inbox.ListByBooking(ctx, bookingID)
}
