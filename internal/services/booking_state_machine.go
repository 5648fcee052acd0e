package services

import (
	"strings"

	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/pkg/payment"
)

// Decision is the state machine's verdict for one payment outcome
type Decision struct {
	// Apply is false when the booking must keep its stored statuses
	Apply          bool
	Status         models.BookingStatus
	PaymentStatus  models.PaymentStatus
	LockDates      bool
	RequiresAction bool
}

type decisionKey struct {
	state  payment.State
	family models.MethodFamily
}

var unchanged = Decision{}

// decisionTable is the only place booking statuses are derived from gateway
// state. Add a row here when a new method family or gateway state appears.
var decisionTable = map[decisionKey]Decision{
	{payment.StateSucceeded, models.MethodFamilyInFlow}:    {Apply: true, Status: models.BookingStatusConfirmed, PaymentStatus: models.PaymentStatusPaid, LockDates: true},
	{payment.StateSucceeded, models.MethodFamilyReference}: {Apply: true, Status: models.BookingStatusConfirmed, PaymentStatus: models.PaymentStatusPaid, LockDates: true},

	{payment.StateProcessing, models.MethodFamilyInFlow}:    {Apply: true, Status: models.BookingStatusConfirmed, PaymentStatus: models.PaymentStatusPending, LockDates: true},
	{payment.StateProcessing, models.MethodFamilyReference}: {Apply: true, Status: models.BookingStatusConfirmed, PaymentStatus: models.PaymentStatusPending, LockDates: true},

	// provisional confirmation: the guest pays outside the app, hold the nights meanwhile
	{payment.StateRequiresAction, models.MethodFamilyReference}: {Apply: true, Status: models.BookingStatusConfirmed, PaymentStatus: models.PaymentStatusPending, LockDates: true},
	{payment.StateRequiresAction, models.MethodFamilyInFlow}:    {RequiresAction: true},

	{payment.StateUnpaid, models.MethodFamilyInFlow}:    unchanged,
	{payment.StateUnpaid, models.MethodFamilyReference}: unchanged,

	{payment.StateFailedOrOther, models.MethodFamilyInFlow}:    unchanged,
	{payment.StateFailedOrOther, models.MethodFamilyReference}: unchanged,
}

// Decide maps a resolved payment outcome to target booking statuses
func Decide(outcome models.PaymentOutcome) Decision {
	family := outcome.Family
	if family == "" {
		family = models.MethodFamilyInFlow
	}
	if d, ok := decisionTable[decisionKey{outcome.State, family}]; ok {
		return d
	}
	return unchanged
}

// StatusPair is a (status, paymentStatus) tuple
type StatusPair struct {
	Status        models.BookingStatus
	PaymentStatus models.PaymentStatus
}

// TargetStatuses applies a decision to the stored booking. Terminal
// bookings never move and settled money is never marked pending again.
func TargetStatuses(current *models.Booking, d Decision) StatusPair {
	target := StatusPair{Status: current.Status, PaymentStatus: current.PaymentStatus}
	if !d.Apply || current.Status.IsTerminal() {
		return target
	}

	target.Status = d.Status
	if current.PaymentStatus == models.PaymentStatusPending {
		target.PaymentStatus = d.PaymentStatus
	}
	return target
}

// MethodClassifier sorts payment method types into families
type MethodClassifier struct {
	reference map[string]struct{}
}

// NewMethodClassifier creates a classifier for the given reference-based types
func NewMethodClassifier(referenceTypes []string) *MethodClassifier {
	set := make(map[string]struct{}, len(referenceTypes))
	for _, t := range referenceTypes {
		if n := normalizeMethodType(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return &MethodClassifier{reference: set}
}

// Classify returns MethodFamilyReference if any type settles outside the flow
func (c *MethodClassifier) Classify(methodTypes ...string) models.MethodFamily {
	for _, t := range methodTypes {
		if _, ok := c.reference[normalizeMethodType(t)]; ok {
			return models.MethodFamilyReference
		}
	}
	return models.MethodFamilyInFlow
}

func normalizeMethodType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.NewReplacer("-", "_", " ", "_").Replace(t)
}
