package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeIntentStates translates Stripe payment intent statuses into the
// normalized vocabulary. Anything missing maps to StateFailedOrOther.
var StripeIntentStates = map[string]State{
	"succeeded":               StateSucceeded,
	"processing":              StateProcessing,
	"requires_action":         StateRequiresAction,
	"requires_payment_method": StateUnpaid,
	"requires_confirmation":   StateUnpaid,
}

// NormalizeStripeIntentStatus maps a native Stripe intent status
func NormalizeStripeIntentStatus(status string) State {
	if state, ok := StripeIntentStates[status]; ok {
		return state
	}
	return StateFailedOrOther
}

// StripeConfig holds the settings for the Stripe adapter
type StripeConfig struct {
	SecretKey string
	APIURL    string // empty = api.stripe.com
	Timeout   time.Duration
}

// StripeGateway implements Gateway on top of stripe-go
type StripeGateway struct {
	api    *client.API
	config StripeConfig
	logger *logrus.Logger
}

// NewStripeGateway creates a Stripe adapter with a bounded HTTP timeout and
// SDK retries disabled, so the caller owns retry decisions.
func NewStripeGateway(cfg StripeConfig, logger *logrus.Logger) *StripeGateway {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if logger != nil {
		backendConfig.LeveledLogger = logger
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	return &StripeGateway{
		api:    client.New(cfg.SecretKey, backends),
		config: cfg,
		logger: logger,
	}
}

// IsConfigured returns true if a secret key is present
func (g *StripeGateway) IsConfigured() bool {
	return g.config.SecretKey != ""
}

// GetName returns the gateway name
func (g *StripeGateway) GetName() string {
	return "stripe"
}

// GetPaymentIntent retrieves a payment intent with its payment method expanded
func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("payment_method")

	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, g.mapError("payment intent", id, err)
	}

	methodTypes := pi.PaymentMethodTypes
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		methodTypes = []string{string(pi.PaymentMethod.Type)}
	}

	return &Intent{
		ID:                 pi.ID,
		NativeStatus:       string(pi.Status),
		State:              NormalizeStripeIntentStatus(string(pi.Status)),
		PaymentMethodTypes: methodTypes,
		Metadata:           pi.Metadata,
	}, nil
}

// GetCheckoutSession retrieves a hosted checkout session
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, g.mapError("checkout session", id, err)
	}

	session := &CheckoutSession{
		ID:                 s.ID,
		ClientReferenceID:  s.ClientReferenceID,
		NativeStatus:       string(s.PaymentStatus),
		Paid:               s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		PaymentMethodTypes: s.PaymentMethodTypes,
	}
	if s.PaymentIntent != nil {
		session.PaymentIntentID = s.PaymentIntent.ID
	}

	return session, nil
}

// mapError separates "record does not exist" from "could not ask"
func (g *StripeGateway) mapError(kind, id string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		default:
			// auth, rate limit and 5xx all mean we could not get an answer
			return fmt.Errorf("%s %s: %w (status %d): %s", kind, id, ErrUnavailable, stripeErr.HTTPStatusCode, stripeErr.Msg)
		}
	}

	if g.logger != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"kind": kind,
			"id":   id,
		}).Warn("Stripe request failed in transport")
	}
	return fmt.Errorf("%s %s: %w: %v", kind, id, ErrUnavailable, err)
}
