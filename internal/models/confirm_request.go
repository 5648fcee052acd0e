package models

// ConfirmBookingRequest carries the identifiers a trigger knows about.
// Bound from the query string and, on POST, from a JSON body.
type ConfirmBookingRequest struct {
	PaymentIntent string `form:"payment_intent" json:"payment_intent"`
	SessionID     string `form:"session_id" json:"session_id"`
	BookingID     string `form:"booking_id" json:"booking_id"`
	Manual        bool   `form:"manual" json:"manual"`
}

// ToIdentifiers converts the request for the given trigger path
func (r ConfirmBookingRequest) ToIdentifiers(source TriggerSource, client string) Identifiers {
	return Identifiers{
		PaymentIntentID: r.PaymentIntent,
		SessionID:       r.SessionID,
		BookingID:       r.BookingID,
		Manual:          r.Manual,
		Source:          source,
		Client:          client,
	}
}

// ConfirmBookingResponse is returned by every confirm endpoint
type ConfirmBookingResponse struct {
	// Success is true when the booking holds its nights
	Success          bool             `json:"success"`
	Booking          *BookingSnapshot `json:"booking,omitempty"`
	RequiresAction   bool             `json:"requires_action"`
	Message          string           `json:"message"`
	LockedNights     []string         `json:"locked_nights,omitempty"`
	OverbookedNights []string         `json:"overbooked_nights,omitempty"`
	PartialFailure   bool             `json:"partial_failure,omitempty"`
}
