package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/casamar/reservations-backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RoomRepository handles rooms and room_night_locks database operations
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository creates a new RoomRepository
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// GetByID retrieves a room by ID
func (r *RoomRepository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	query := `SELECT id, name, availability_dates, updated_at FROM rooms WHERE id = $1`

	err := r.db.GetContext(ctx, &room, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("room", id)
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return &room, nil
}

// LockNights marks the given nights unavailable on the room and records the
// booking as one of their holders, in one transaction.
//
// The booking row is locked first and must still be confirmed, so a
// concurrent cancellation either happens before (and the lock is refused
// with ErrNotConfirmed) or after (and its release sees these rows).
// The availability map is merged in place with the jsonb || operator so
// concurrent lockers on the same room never overwrite each other's keys.
// Nights also held by a different booking are returned as conflicts.
func (r *RoomRepository) LockNights(ctx context.Context, roomID, bookingID string, days []string, now time.Time) ([]string, error) {
	patch := make(models.AvailabilityDates, len(days))
	for _, day := range days {
		patch[day] = false
	}
	patchJSON, err := patch.Value()
	if err != nil {
		return nil, fmt.Errorf("failed to encode availability patch: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.BookingStatus
	statusQuery := `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &status, statusQuery, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking", bookingID)
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	if status != models.BookingStatusConfirmed {
		return nil, fmt.Errorf("booking %s is %s: %w", bookingID, status, models.ErrNotConfirmed)
	}

	mergeQuery := `
		UPDATE rooms
		SET availability_dates = COALESCE(availability_dates, '{}'::jsonb) || $2::jsonb,
			updated_at = $3
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, mergeQuery, roomID, patchJSON, now)
	if err != nil {
		return nil, fmt.Errorf("failed to merge room availability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, models.NewNotFound("room", roomID)
	}

	ledgerQuery := `
		INSERT INTO room_night_locks (room_id, day_key, booking_id, locked_at)
		SELECT $1, day_key, $3, $4 FROM unnest($2::text[]) AS day_key
		ON CONFLICT (room_id, day_key, booking_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, ledgerQuery, roomID, pq.Array(days), bookingID, now); err != nil {
		return nil, fmt.Errorf("failed to record night locks: %w", err)
	}

	conflictQuery := `
		SELECT DISTINCT day_key FROM room_night_locks
		WHERE room_id = $1 AND day_key = ANY($2) AND booking_id <> $3
		ORDER BY day_key
	`
	conflicts := []string{}
	if err := tx.SelectContext(ctx, &conflicts, conflictQuery, roomID, pq.Array(days), bookingID); err != nil {
		return nil, fmt.Errorf("failed to check night lock holders: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return conflicts, nil
}

// ReleaseNights drops the booking from every night it holds on the room and
// returns the nights that became available. A night stays blocked while any
// other booking still holds it.
func (r *RoomRepository) ReleaseNights(ctx context.Context, roomID, bookingID string, now time.Time) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// serializes with LockNights, which updates the room row first
	var lockedID string
	if err := tx.GetContext(ctx, &lockedID, `SELECT id FROM rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("room", roomID)
		}
		return nil, fmt.Errorf("failed to lock room: %w", err)
	}

	dropped := []string{}
	deleteQuery := `
		DELETE FROM room_night_locks
		WHERE room_id = $1 AND booking_id = $2
		RETURNING day_key
	`
	if err := tx.SelectContext(ctx, &dropped, deleteQuery, roomID, bookingID); err != nil {
		return nil, fmt.Errorf("failed to delete night locks: %w", err)
	}

	freed := []string{}
	if len(dropped) == 0 {
		return freed, tx.Commit()
	}

	freeQuery := `
		SELECT d FROM unnest($2::text[]) AS d
		WHERE NOT EXISTS (
			SELECT 1 FROM room_night_locks l WHERE l.room_id = $1 AND l.day_key = d
		)
		ORDER BY d
	`
	if err := tx.SelectContext(ctx, &freed, freeQuery, roomID, pq.Array(dropped)); err != nil {
		return nil, fmt.Errorf("failed to check remaining night holders: %w", err)
	}

	if len(freed) > 0 {
		patch := make(models.AvailabilityDates, len(freed))
		for _, day := range freed {
			patch[day] = true
		}
		patchJSON, err := patch.Value()
		if err != nil {
			return nil, fmt.Errorf("failed to encode availability patch: %w", err)
		}

		mergeQuery := `
			UPDATE rooms
			SET availability_dates = COALESCE(availability_dates, '{}'::jsonb) || $2::jsonb,
				updated_at = $3
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, mergeQuery, roomID, patchJSON, now); err != nil {
			return nil, fmt.Errorf("failed to merge room availability: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return freed, nil
}

// ListLocks returns the ledger entries for the given nights of a room
func (r *RoomRepository) ListLocks(ctx context.Context, roomID string, days []string) ([]models.RoomNightLock, error) {
	query := `
		SELECT room_id, day_key, booking_id, locked_at
		FROM room_night_locks
		WHERE room_id = $1 AND day_key = ANY($2)
		ORDER BY day_key, locked_at, booking_id
	`

	locks := []models.RoomNightLock{}
	if err := r.db.SelectContext(ctx, &locks, query, roomID, pq.Array(days)); err != nil {
		return nil, fmt.Errorf("failed to list night locks: %w", err)
	}

	return locks, nil
}
