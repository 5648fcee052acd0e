package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DayKeyLayout is the canonical date-only format of an inventory night
const DayKeyLayout = "2006-01-02"

// DayKey formats the calendar day of t as a day key. The wall-clock date is
// used as stored, no timezone conversion happens here.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// AvailabilityDates maps a day key to its "available" flag.
// A missing key means available.
type AvailabilityDates map[string]bool

// Value implements the driver.Valuer interface
func (a AvailabilityDates) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (a *AvailabilityDates) Scan(value interface{}) error {
	if value == nil {
		*a = AvailabilityDates{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AvailabilityDates", value)
	}
	return json.Unmarshal(bytes, a)
}

// IsAvailable reports whether the given night is free
func (a AvailabilityDates) IsAvailable(dayKey string) bool {
	available, ok := a[dayKey]
	return !ok || available
}

// Room represents a bookable room and its night-level availability
type Room struct {
	ID                string            `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	AvailabilityDates AvailabilityDates `json:"availability_dates" db:"availability_dates"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// RoomNightLock records which booking owns a blocked night
type RoomNightLock struct {
	RoomID    string    `json:"room_id" db:"room_id"`
	DayKey    string    `json:"day_key" db:"day_key"`
	BookingID string    `json:"booking_id" db:"booking_id"`
	LockedAt  time.Time `json:"locked_at" db:"locked_at"`
}
