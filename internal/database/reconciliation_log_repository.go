package database

import (
	"context"
	"fmt"
	"time"

	"github.com/casamar/reservations-backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ReconciliationLogRepository handles reconciliation_logs database operations
type ReconciliationLogRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewReconciliationLogRepository creates a new reconciliation log repository
func NewReconciliationLogRepository(db *sqlx.DB, logger *logrus.Logger) *ReconciliationLogRepository {
	return &ReconciliationLogRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a reconciliation log entry
func (r *ReconciliationLogRepository) Log(ctx context.Context, entry *models.ReconciliationLog) error {
	if entry == nil {
		return fmt.Errorf("log entry cannot be nil")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO reconciliation_logs (
			id, booking_id, room_id, action, days, source,
			gateway_state, message, client, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.BookingID, entry.RoomID, entry.Action, entry.Days, entry.Source,
		entry.GatewayState, entry.Message, entry.Client, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write reconciliation log: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"log_id":     entry.ID,
		"booking_id": entry.BookingID,
		"action":     entry.Action,
	}).Debug("Reconciliation log written")

	return nil
}

// ListByBooking returns the log entries of a booking, oldest first
func (r *ReconciliationLogRepository) ListByBooking(ctx context.Context, bookingID string, limit int) ([]models.ReconciliationLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, booking_id, room_id, action, days, source,
			gateway_state, message, client, created_at
		FROM reconciliation_logs
		WHERE booking_id = $1
		ORDER BY created_at ASC
		LIMIT $2`

	entries := []models.ReconciliationLog{}
	if err := r.db.SelectContext(ctx, &entries, query, bookingID, limit); err != nil {
		return nil, fmt.Errorf("failed to list reconciliation logs: %w", err)
	}

	return entries, nil
}
