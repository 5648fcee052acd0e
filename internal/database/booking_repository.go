package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/casamar/reservations-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

const bookingColumns = `
	id, guest_name, guest_email, guest_phone, check_in, check_out,
	room_id, room_name, adults, children, total_price,
	status, payment_status, payment_method, payment_intent_id, special_requests,
	created_at, updated_at`

// BookingRepository handles bookings database operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// GetByID retrieves a booking by ID
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.GetContext(ctx, &booking, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking", id)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return &booking, nil
}

// UpdateStatusIfUnchanged writes the new (status, payment_status) pair only if
// the stored pair still equals the one the caller read. Returns false when
// another writer got there first.
func (r *BookingRepository) UpdateStatusIfUnchanged(
	ctx context.Context,
	id string,
	fromStatus models.BookingStatus, fromPayment models.PaymentStatus,
	toStatus models.BookingStatus, toPayment models.PaymentStatus,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $1, payment_status = $2, updated_at = $3
		WHERE id = $4 AND status = $5 AND payment_status = $6
	`

	result, err := r.db.ExecContext(ctx, query, toStatus, toPayment, now, id, fromStatus, fromPayment)
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// ListStaleProvisional returns provisionally confirmed bookings that have not
// been touched since the given time, oldest first, starting after the cursor
func (r *BookingRepository) ListStaleProvisional(ctx context.Context, olderThan time.Time, after models.BookingCursor, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1 AND payment_status = $2 AND updated_at < $3
			AND (updated_at, id) > ($4, $5)
		ORDER BY updated_at ASC, id ASC
		LIMIT $6`

	bookings := []models.Booking{}
	err := r.db.SelectContext(ctx, &bookings, query,
		models.BookingStatusConfirmed, models.PaymentStatusPending, olderThan,
		after.UpdatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale provisional bookings: %w", err)
	}

	return bookings, nil
}

// ListCancelledHoldingNights returns cancelled bookings that still own room
// nights in the lock ledger, oldest first
func (r *BookingRepository) ListCancelledHoldingNights(ctx context.Context, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings b
		WHERE b.status = $1
			AND EXISTS (
				SELECT 1 FROM room_night_locks l
				WHERE l.room_id = b.room_id AND l.booking_id = b.id
			)
		ORDER BY b.updated_at ASC
		LIMIT $2`

	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, models.BookingStatusCancelled, limit); err != nil {
		return nil, fmt.Errorf("failed to list cancelled bookings holding nights: %w", err)
	}

	return bookings, nil
}
