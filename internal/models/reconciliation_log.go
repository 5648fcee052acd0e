package models

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationAction represents what a reconciliation step did
type ReconciliationAction string

const (
	ReconciliationActionStatusChanged          ReconciliationAction = "status_changed"
	ReconciliationActionDatesBlocked           ReconciliationAction = "dates_blocked"
	ReconciliationActionDatesReleased          ReconciliationAction = "dates_released"
	ReconciliationActionOverbookingDetected    ReconciliationAction = "overbooking_detected"
	ReconciliationActionLockFailed             ReconciliationAction = "lock_failed"
	ReconciliationActionSpecialRequestSent     ReconciliationAction = "special_request_forwarded"
	ReconciliationActionLatePaymentOnCancelled ReconciliationAction = "late_payment_on_cancelled"
	ReconciliationActionHoldExpired            ReconciliationAction = "provisional_hold_expired"
)

// ReconciliationLog represents an append-only audit entry for a booking
type ReconciliationLog struct {
	ID        uuid.UUID            `json:"id" db:"id"`
	BookingID string               `json:"booking_id" db:"booking_id"`
	RoomID    *string              `json:"room_id,omitempty" db:"room_id"`
	Action    ReconciliationAction `json:"action" db:"action"`
	Days      DayKeys              `json:"days" db:"days"`
	Source    TriggerSource        `json:"source" db:"source"`

	// Gateway info
	GatewayState *string `json:"gateway_state,omitempty" db:"gateway_state"`

	Message *string `json:"message,omitempty" db:"message"`
	Client  *string `json:"client,omitempty" db:"client"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewReconciliationLog creates a new log entry with required fields
func NewReconciliationLog(bookingID string, action ReconciliationAction, source TriggerSource) *ReconciliationLog {
	return &ReconciliationLog{
		ID:        uuid.New(),
		BookingID: bookingID,
		Action:    action,
		Source:    source,
		Days:      DayKeys{},
		CreatedAt: time.Now(),
	}
}

// SetRoom sets the room the entry refers to
func (l *ReconciliationLog) SetRoom(roomID string) *ReconciliationLog {
	if roomID != "" {
		l.RoomID = &roomID
	}
	return l
}

// SetDays sets the affected day keys
func (l *ReconciliationLog) SetDays(days []string) *ReconciliationLog {
	l.Days = DayKeys(days)
	return l
}

// SetGatewayState records the normalized gateway state seen
func (l *ReconciliationLog) SetGatewayState(state string) *ReconciliationLog {
	if state != "" {
		l.GatewayState = &state
	}
	return l
}

// SetMessage sets a free-text note
func (l *ReconciliationLog) SetMessage(message string) *ReconciliationLog {
	l.Message = &message
	return l
}

// SetClient sets the summarized caller client
func (l *ReconciliationLog) SetClient(client string) *ReconciliationLog {
	if client != "" {
		l.Client = &client
	}
	return l
}
