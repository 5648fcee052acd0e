package services

import (
	"context"
	"time"

	"github.com/casamar/reservations-backend/internal/clock"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// LockResult reports the nights a lock call covered
type LockResult struct {
	Days []string `json:"days"`
	// Conflicts are nights already held by another booking
	Conflicts []string `json:"conflicts,omitempty"`
}

// EnumerateNights returns the day keys of every night of a stay: each
// calendar day d with checkIn <= d < checkOut. The check-out day is not a night.
func EnumerateNights(checkIn, checkOut time.Time) ([]string, error) {
	start := calendarDay(checkIn)
	end := calendarDay(checkOut)

	if end.Before(start) {
		return nil, models.ErrInvalidRange
	}
	if !start.Before(end) {
		return nil, models.ErrEmptyRange
	}

	var days []string
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days = append(days, models.DayKey(d))
	}
	return days, nil
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AvailabilityLocker blocks and frees room nights for bookings
type AvailabilityLocker struct {
	rooms  RoomStore
	logs   ReconciliationLogStore
	clock  clock.Clock
	logger *logrus.Logger
}

// NewAvailabilityLocker creates a new AvailabilityLocker
func NewAvailabilityLocker(rooms RoomStore, logs ReconciliationLogStore, clk clock.Clock, logger *logrus.Logger) *AvailabilityLocker {
	return &AvailabilityLocker{
		rooms:  rooms,
		logs:   logs,
		clock:  clk,
		logger: logger,
	}
}

// LockDates marks every night of the booking unavailable on its room.
// Re-locking the same booking is a no-op in effect.
func (l *AvailabilityLocker) LockDates(ctx context.Context, booking *models.Booking, source models.TriggerSource) (*LockResult, error) {
	days, err := EnumerateNights(booking.CheckIn, booking.CheckOut)
	if err != nil {
		return nil, err
	}

	conflicts, err := l.rooms.LockNights(ctx, booking.RoomID, booking.ID, days, l.clock.Now())
	if err != nil {
		return nil, err
	}

	result := &LockResult{Days: days, Conflicts: conflicts}

	l.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"room_id":    booking.RoomID,
		"nights":     len(days),
		"source":     source,
	}).Info("Room nights locked")

	l.audit(ctx, models.NewReconciliationLog(booking.ID, models.ReconciliationActionDatesBlocked, source).
		SetRoom(booking.RoomID).
		SetDays(days))

	if len(conflicts) > 0 {
		l.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"room_id":    booking.RoomID,
			"conflicts":  conflicts,
		}).Warn("Overbooking detected: nights already held by another booking")

		l.audit(ctx, models.NewReconciliationLog(booking.ID, models.ReconciliationActionOverbookingDetected, source).
			SetRoom(booking.RoomID).
			SetDays(conflicts).
			SetMessage("nights already held by another booking"))
	}

	return result, nil
}

// ReleaseDates drops the booking from the nights it holds on its room and
// returns the nights that became available. Nights another booking still
// holds stay blocked.
func (l *AvailabilityLocker) ReleaseDates(ctx context.Context, booking *models.Booking, source models.TriggerSource) ([]string, error) {
	released, err := l.rooms.ReleaseNights(ctx, booking.RoomID, booking.ID, l.clock.Now())
	if err != nil {
		return nil, err
	}

	if len(released) > 0 {
		l.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"room_id":    booking.RoomID,
			"nights":     len(released),
			"source":     source,
		}).Info("Room nights released")

		l.audit(ctx, models.NewReconciliationLog(booking.ID, models.ReconciliationActionDatesReleased, source).
			SetRoom(booking.RoomID).
			SetDays(released))
	}

	return released, nil
}

// audit writes a log entry; a failure is logged and never returned
func (l *AvailabilityLocker) audit(ctx context.Context, entry *models.ReconciliationLog) {
	if l.logs == nil {
		return
	}
	if err := l.logs.Log(ctx, entry); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": entry.BookingID,
			"action":     entry.Action,
		}).Warn("Failed to write reconciliation log")
	}
}

// NightState is the inventory state of one night of a stay
type NightState struct {
	Day       string   `json:"day"`
	Available bool     `json:"available"`
	HeldBy    []string `json:"held_by,omitempty"`
}

// IsHeldBy reports whether the booking is among the night's holders
func (n NightState) IsHeldBy(bookingID string) bool {
	for _, holder := range n.HeldBy {
		if holder == bookingID {
			return true
		}
	}
	return false
}

// Nights reports, for every night of the booking, whether the room shows it
// available and which bookings hold it in the ledger
func (l *AvailabilityLocker) Nights(ctx context.Context, booking *models.Booking) ([]NightState, error) {
	days, err := EnumerateNights(booking.CheckIn, booking.CheckOut)
	if err != nil {
		return nil, err
	}

	room, err := l.rooms.GetByID(ctx, booking.RoomID)
	if err != nil {
		return nil, err
	}
	locks, err := l.rooms.ListLocks(ctx, booking.RoomID, days)
	if err != nil {
		return nil, err
	}

	holders := make(map[string][]string, len(locks))
	for _, lock := range locks {
		holders[lock.DayKey] = append(holders[lock.DayKey], lock.BookingID)
	}

	states := make([]NightState, 0, len(days))
	for _, day := range days {
		states = append(states, NightState{
			Day:       day,
			Available: room.AvailabilityDates.IsAvailable(day),
			HeldBy:    holders[day],
		})
	}
	return states, nil
}
