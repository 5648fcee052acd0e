package models

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// DayKeys is a custom type for handling TEXT[] day-key lists in PostgreSQL
type DayKeys []string

// Value implements the driver.Valuer interface
func (a DayKeys) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return pq.Array([]string(a)).Value()
}

// Scan implements the sql.Scanner interface
func (a *DayKeys) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	slice := (*[]string)(a)
	return pq.Array(slice).Scan(src)
}

// Strings returns the keys as a plain slice
func (a DayKeys) Strings() []string {
	return []string(a)
}
