package models

import (
	"strings"
	"time"
)

// PaymentStatus represents the settlement status of a booking
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// BookingStatus represents the lifecycle status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// IsTerminal returns true if reconciliation must no longer move the booking
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// Booking represents a guest's room reservation
type Booking struct {
	ID              string        `json:"id" db:"id"`
	GuestName       string        `json:"guest_name" db:"guest_name"`
	GuestEmail      string        `json:"guest_email" db:"guest_email"`
	GuestPhone      *string       `json:"guest_phone,omitempty" db:"guest_phone"`
	CheckIn         time.Time     `json:"check_in" db:"check_in"`
	CheckOut        time.Time     `json:"check_out" db:"check_out"`
	RoomID          string        `json:"room_id" db:"room_id"`
	RoomName        string        `json:"room_name" db:"room_name"`
	Adults          int           `json:"adults" db:"adults"`
	Children        int           `json:"children" db:"children"`
	TotalPrice      float64       `json:"total_price" db:"total_price"`
	Status          BookingStatus `json:"status" db:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status" db:"payment_status"`
	PaymentMethod   *string       `json:"payment_method,omitempty" db:"payment_method"`
	PaymentIntentID *string       `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	SpecialRequests *string       `json:"special_requests,omitempty" db:"special_requests"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// IsConfirmed returns true if the booking holds its nights
func (b *Booking) IsConfirmed() bool {
	return b.Status == BookingStatusConfirmed
}

// IsProvisional returns true for a confirmed booking still waiting on money
func (b *Booking) IsProvisional() bool {
	return b.Status == BookingStatusConfirmed && b.PaymentStatus == PaymentStatusPending
}

// TrimmedSpecialRequests returns the special request text without
// surrounding whitespace, or "" if none was given
func (b *Booking) TrimmedSpecialRequests() string {
	if b.SpecialRequests == nil {
		return ""
	}
	return strings.TrimSpace(*b.SpecialRequests)
}

// StoredPaymentMethod returns the payment method recorded at checkout
func (b *Booking) StoredPaymentMethod() string {
	if b.PaymentMethod == nil {
		return ""
	}
	return *b.PaymentMethod
}

// StoredPaymentIntentID returns the gateway intent id recorded at checkout
func (b *Booking) StoredPaymentIntentID() string {
	if b.PaymentIntentID == nil {
		return ""
	}
	return *b.PaymentIntentID
}

// BookingSnapshot is the booking view returned to reconciliation callers
type BookingSnapshot struct {
	ID            string        `json:"id"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod *string       `json:"payment_method,omitempty"`
	GuestName     string        `json:"guest_name"`
	GuestEmail    string        `json:"guest_email"`
	CheckIn       string        `json:"check_in"`
	CheckOut      string        `json:"check_out"`
	RoomID        string        `json:"room_id"`
	RoomName      string        `json:"room_name"`
	Adults        int           `json:"adults"`
	Children      int           `json:"children"`
	TotalPrice    float64       `json:"total_price"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ToSnapshot converts a booking to its caller-facing view
func (b *Booking) ToSnapshot() *BookingSnapshot {
	return &BookingSnapshot{
		ID:            b.ID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		PaymentMethod: b.PaymentMethod,
		GuestName:     b.GuestName,
		GuestEmail:    b.GuestEmail,
		CheckIn:       DayKey(b.CheckIn),
		CheckOut:      DayKey(b.CheckOut),
		RoomID:        b.RoomID,
		RoomName:      b.RoomName,
		Adults:        b.Adults,
		Children:      b.Children,
		TotalPrice:    b.TotalPrice,
		UpdatedAt:     b.UpdatedAt,
	}
}

// BookingCursor is the keyset position of a page ordered by (updated_at, id)
type BookingCursor struct {
	UpdatedAt time.Time
	ID        string
}

// CursorAfter returns the position just past this booking
func (b *Booking) CursorAfter() BookingCursor {
	return BookingCursor{UpdatedAt: b.UpdatedAt, ID: b.ID}
}
