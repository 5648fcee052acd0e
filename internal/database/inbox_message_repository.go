package database

import (
	"context"
	"fmt"
	"time"

	"github.com/casamar/reservations-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// InboxMessageRepository handles inbox_messages database operations
type InboxMessageRepository struct {
	db *sqlx.DB
}

// NewInboxMessageRepository creates a new InboxMessageRepository
func NewInboxMessageRepository(db *sqlx.DB) *InboxMessageRepository {
	return &InboxMessageRepository{db: db}
}

// CreateUnlessDuplicate inserts the message unless one created at or after
// since already carries the same idempotency key, or the same email and text.
// Callers racing on the same key are serialized by a transaction-scoped
// advisory lock. Returns true if the message was inserted.
func (r *InboxMessageRepository) CreateUnlessDuplicate(ctx context.Context, msg *models.InboxMessage, since time.Time) (bool, error) {
	if msg.IdempotencyKey == nil || *msg.IdempotencyKey == "" {
		return false, fmt.Errorf("idempotency key is required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, *msg.IdempotencyKey); err != nil {
		return false, fmt.Errorf("failed to acquire dedup lock: %w", err)
	}

	var count int
	dupQuery := `
		SELECT COUNT(*) FROM inbox_messages
		WHERE created_at >= $1
		AND (idempotency_key = $2 OR (email = $3 AND message = $4))
	`
	if err := tx.GetContext(ctx, &count, dupQuery, since, *msg.IdempotencyKey, msg.Email, msg.Message); err != nil {
		return false, fmt.Errorf("failed to check duplicate message: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	insertQuery := `
		INSERT INTO inbox_messages (
			id, booking_id, name, email, phone, subject, message, status,
			reservation_details, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		msg.ID, msg.BookingID, msg.Name, msg.Email, msg.Phone, msg.Subject, msg.Message, msg.Status,
		msg.ReservationDetails, msg.IdempotencyKey, msg.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create inbox message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// ListByBooking returns the messages forwarded for a booking, newest first
func (r *InboxMessageRepository) ListByBooking(ctx context.Context, bookingID string) ([]models.InboxMessage, error) {
	query := `
		SELECT id, booking_id, name, email, phone, subject, message, status,
			reservation_details, idempotency_key, created_at
		FROM inbox_messages
		WHERE booking_id = $1
		ORDER BY created_at DESC
	`

	messages := []models.InboxMessage{}
	if err := r.db.SelectContext(ctx, &messages, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list inbox messages: %w", err)
	}

	return messages, nil
}
