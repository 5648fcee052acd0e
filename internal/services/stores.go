package services

import (
	"context"
	"time"

	"github.com/casamar/reservations-backend/internal/models"
)

// BookingStore is the booking persistence used by reconciliation
type BookingStore interface {
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	UpdateStatusIfUnchanged(
		ctx context.Context,
		id string,
		fromStatus models.BookingStatus, fromPayment models.PaymentStatus,
		toStatus models.BookingStatus, toPayment models.PaymentStatus,
		now time.Time,
	) (bool, error)
	ListStaleProvisional(ctx context.Context, olderThan time.Time, after models.BookingCursor, limit int) ([]models.Booking, error)
	ListCancelledHoldingNights(ctx context.Context, limit int) ([]models.Booking, error)
}

// RoomStore is the night-level inventory persistence
type RoomStore interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
	ListLocks(ctx context.Context, roomID string, days []string) ([]models.RoomNightLock, error)
	// LockNights fails with models.ErrNotConfirmed unless the booking is confirmed
	LockNights(ctx context.Context, roomID, bookingID string, days []string, now time.Time) ([]string, error)
	ReleaseNights(ctx context.Context, roomID, bookingID string, now time.Time) ([]string, error)
}

// InboxStore is the staff inbox persistence
type InboxStore interface {
	CreateUnlessDuplicate(ctx context.Context, msg *models.InboxMessage, since time.Time) (bool, error)
	ListByBooking(ctx context.Context, bookingID string) ([]models.InboxMessage, error)
}

// ReconciliationLogStore is the append-only audit trail
type ReconciliationLogStore interface {
	Log(ctx context.Context, entry *models.ReconciliationLog) error
	ListByBooking(ctx context.Context, bookingID string, limit int) ([]models.ReconciliationLog, error)
}

// EventPublisher publishes booking lifecycle events
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}
