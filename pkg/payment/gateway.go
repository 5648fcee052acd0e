package payment

import (
	"context"
	"errors"
)

// State is the normalized gateway state every gateway-specific status is
// translated into before it reaches the booking state machine.
type State string

const (
	StateSucceeded      State = "succeeded"
	StateProcessing     State = "processing"
	StateRequiresAction State = "requires_action"
	StateUnpaid         State = "unpaid"
	StateFailedOrOther  State = "failed_or_other"
)

var (
	// ErrNotFound means the gateway has no record for the requested id.
	ErrNotFound = errors.New("payment record not found")
	// ErrUnavailable covers transport failures and timeouts. Safe to retry.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Intent is the subset of a payment intent the reconciliation needs
type Intent struct {
	ID                 string
	NativeStatus       string
	State              State
	PaymentMethodTypes []string
	Metadata           map[string]string
}

// BookingID returns the booking reference stored in the intent metadata
func (i *Intent) BookingID() string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	if id := i.Metadata["bookingId"]; id != "" {
		return id
	}
	return i.Metadata["booking_id"]
}

// CheckoutSession is the subset of a hosted checkout session the
// reconciliation needs
type CheckoutSession struct {
	ID                 string
	ClientReferenceID  string
	NativeStatus       string
	Paid               bool
	PaymentIntentID    string
	PaymentMethodTypes []string
}

// Gateway defines the read-only lookups consumed from the payment processor
type Gateway interface {
	// GetPaymentIntent retrieves a payment intent by id
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)

	// GetCheckoutSession retrieves a checkout session by id
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)

	// GetName returns the name of the gateway implementation
	GetName() string
}
