package models

import "github.com/casamar/reservations-backend/pkg/payment"

// MethodFamily classifies how a payment method settles
type MethodFamily string

const (
	// MethodFamilyInFlow settles inside the checkout flow (cards, wallets, 3DS)
	MethodFamilyInFlow MethodFamily = "in_flow"
	// MethodFamilyReference settles later outside the app (vouchers, transfers)
	MethodFamilyReference MethodFamily = "reference"
)

// TriggerSource identifies which path invoked a reconciliation
type TriggerSource string

const (
	TriggerSourcePoll     TriggerSource = "poll"
	TriggerSourceRedirect TriggerSource = "redirect"
	TriggerSourceManual   TriggerSource = "manual"
	TriggerSourceSweep    TriggerSource = "sweep"
)

// Identifiers are whatever a trigger knows about the payment it reports
type Identifiers struct {
	PaymentIntentID string
	SessionID       string
	BookingID       string
	// Manual is an authorised staff override for non-gateway confirmations
	Manual bool
	Source TriggerSource
	// Client is the raw User-Agent of the caller, if any
	Client string
}

// IsEmpty returns true if no identifier was supplied
func (i Identifiers) IsEmpty() bool {
	return i.PaymentIntentID == "" && i.SessionID == "" && i.BookingID == ""
}

// PaymentOutcome is the normalized result of resolving a payment
type PaymentOutcome struct {
	BookingID       string
	State           payment.State
	Family          MethodFamily
	PaymentIntentID string
	// NativeStatus is the raw gateway status, kept for logs only
	NativeStatus string
	// Booking is the stored booking when the resolver already read it
	Booking *Booking
}
