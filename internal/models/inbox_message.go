package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus represents the staff handling state of an inbox message
type MessageStatus string

const (
	MessageStatusNew     MessageStatus = "new"
	MessageStatusRead    MessageStatus = "read"
	MessageStatusReplied MessageStatus = "replied"
)

// ReservationDetails is the booking snapshot attached to a forwarded request
type ReservationDetails struct {
	BookingID  string  `json:"booking_id"`
	RoomID     string  `json:"room_id"`
	RoomName   string  `json:"room_name"`
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	Adults     int     `json:"adults"`
	Children   int     `json:"children"`
	TotalPrice float64 `json:"total_price"`
}

// Value implements the driver.Valuer interface
func (r ReservationDetails) Value() (driver.Value, error) {
	bytes, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (r *ReservationDetails) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*r = ReservationDetails{}
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("cannot scan %T into ReservationDetails", value)
	}
}

// InboxMessage represents a message in the staff inbox
type InboxMessage struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	BookingID          *string            `json:"booking_id,omitempty" db:"booking_id"`
	Name               string             `json:"name" db:"name"`
	Email              string             `json:"email" db:"email"`
	Phone              *string            `json:"phone,omitempty" db:"phone"`
	Subject            string             `json:"subject" db:"subject"`
	Message            string             `json:"message" db:"message"`
	Status             MessageStatus      `json:"status" db:"status"`
	ReservationDetails ReservationDetails `json:"reservation_details" db:"reservation_details"`
	IdempotencyKey     *string            `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// NewSpecialRequestMessage builds the inbox message forwarded for a booking
func NewSpecialRequestMessage(b *Booking, idempotencyKey string, now time.Time) *InboxMessage {
	bookingID := b.ID
	return &InboxMessage{
		ID:        uuid.New(),
		BookingID: &bookingID,
		Name:      b.GuestName,
		Email:     b.GuestEmail,
		Phone:     b.GuestPhone,
		Subject:   fmt.Sprintf("Special request for booking %s (%s)", b.ID, b.RoomName),
		Message:   b.TrimmedSpecialRequests(),
		Status:    MessageStatusNew,
		ReservationDetails: ReservationDetails{
			BookingID:  b.ID,
			RoomID:     b.RoomID,
			RoomName:   b.RoomName,
			CheckIn:    DayKey(b.CheckIn),
			CheckOut:   DayKey(b.CheckOut),
			Adults:     b.Adults,
			Children:   b.Children,
			TotalPrice: b.TotalPrice,
		},
		IdempotencyKey: &idempotencyKey,
		CreatedAt:      now,
	}
}
