package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
)

var (
	// ErrSignatureInvalid covers every reason an inbound notification could
	// not be authenticated. Callers answer it with a 4xx and never retry.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrInvalidPayload is returned for an authentic body that cannot be decoded.
	// The event returned alongside it, if any, carries only the envelope
	// (provider, id, type, raw payload).
	ErrInvalidPayload = errors.New("webhook payload invalid")
	// ErrUnsupportedProvider is a configuration error from NewProvider.
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

// EventStatus is the provider independent meaning of a notification.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusSucceeded EventStatus = "succeeded"
	StatusFailed    EventStatus = "failed"
	StatusSkipped   EventStatus = "skipped"
)

// Event is an authenticated notification normalized for the pipeline.
// AmountMinor is nil when the notification does not claim an amount.
type Event struct {
	Provider          string          `json:"provider"`
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	ProviderChargeID  string          `json:"provider_charge_id,omitempty"`
	OrderID           uint            `json:"order_id,omitempty"`
	AmountMinor       *int64          `json:"amount_minor,omitempty"`
	Currency          string          `json:"currency,omitempty"`
	Status            EventStatus     `json:"status"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
}

// CheckoutRequest asks the provider to open a hosted checkout for one attempt.
type CheckoutRequest struct {
	OrderID        uint
	AttemptID      uint
	UserID         uint
	AmountMinor    int64
	Currency       string
	Description    string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is what the provider returned for a CheckoutRequest.
type CheckoutSession struct {
	SessionID       string
	URL             string
	PaymentIntentID string
	Metadata        map[string]string
}

// StatusResult is the provider's current view of a payment.
type StatusResult struct {
	ProviderPaymentID string      `json:"provider_payment_id"`
	Status            EventStatus `json:"status"`
	RawStatus         string      `json:"raw_status"`
	AmountMinor       int64       `json:"amount_minor"`
	Currency          string      `json:"currency"`
}

// Provider is implemented once per payment processor.
type Provider interface {
	InitiatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	AuthenticateWebhook(ctx context.Context, rawBody []byte, header http.Header) (*Event, error)
	QueryStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error)
}

// Config selects and configures the provider of a deployment.
type Config struct {
	Provider           string
	APIKey             string
	WebhookSecret      string
	SignatureTolerance time.Duration
	SuccessURL         string
	CancelURL          string
	// APIBaseURL overrides the provider API endpoint (stripe-mock, tests).
	APIBaseURL string
}

// NewProvider builds the provider named in cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case models.PaymentProviderStripe, "":
		return NewStripeProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
