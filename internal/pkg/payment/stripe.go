package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	metadataOrderID       = "order_id"
	metadataAttemptID     = "payment_attempt_id"
)

// StripeProvider talks to Stripe Checkout and verifies Stripe webhooks.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	successURL    string
	cancelURL     string
}

// NewStripeProvider creates a Stripe backed Provider.
func NewStripeProvider(cfg Config) *StripeProvider {
	var backends *stripe.Backends
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); base != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(base),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}

	api := &client.API{}
	api.Init(cfg.APIKey, backends)

	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &StripeProvider{
		api:           api,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// InitiatePayment opens a Checkout session. The order reference travels in
// both the session and the payment intent metadata so every later event can
// be matched back to the order.
func (p *StripeProvider) InitiatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", req.AmountMinor)
	}
	successURL := firstNonEmpty(req.SuccessURL, p.successURL)
	cancelURL := firstNonEmpty(req.CancelURL, p.cancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, errors.New("success and cancel URLs are required")
	}

	orderRef := strconv.FormatUint(uint64(req.OrderID), 10)
	metadata := map[string]string{
		metadataOrderID:   orderRef,
		metadataAttemptID: strconv.FormatUint(uint64(req.AttemptID), 10),
	}
	description := firstNonEmpty(req.Description, "Order #"+orderRef)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(orderRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}

	out := &CheckoutSession{
		SessionID: sess.ID,
		URL:       sess.URL,
		Metadata:  metadata,
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	return out, nil
}

// AuthenticateWebhook verifies the Stripe-Signature header over the exact raw
// body and normalizes the event.
func (p *StripeProvider) AuthenticateWebhook(_ context.Context, rawBody []byte, header http.Header) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrSignatureInvalid)
	}

	sig := header.Get(stripeSignatureHeader)
	evt, err := webhook.ConstructEventWithOptions(rawBody, sig, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return normalizeStripeEvent(evt, rawBody)
}

// QueryStatus looks a payment up by checkout session id (cs_...) or payment
// intent id (pi_...).
func (p *StripeProvider) QueryStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	id := strings.TrimSpace(providerPaymentID)
	if id == "" {
		return nil, errors.New("provider payment id is required")
	}

	if strings.HasPrefix(id, "cs_") {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		sess, err := p.api.CheckoutSessions.Get(id, params)
		if err != nil {
			return nil, fmt.Errorf("get stripe checkout session %s: %w", id, err)
		}
		return &StatusResult{
			ProviderPaymentID: sess.ID,
			Status:            checkoutSessionStatus(sess),
			RawStatus:         string(sess.PaymentStatus),
			AmountMinor:       sess.AmountTotal,
			Currency:          string(sess.Currency),
		}, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe payment intent %s: %w", id, err)
	}
	return &StatusResult{
		ProviderPaymentID: pi.ID,
		Status:            paymentIntentStatus(pi.Status),
		RawStatus:         string(pi.Status),
		AmountMinor:       pi.Amount,
		Currency:          string(pi.Currency),
	}, nil
}

func normalizeStripeEvent(evt stripe.Event, rawBody []byte) (*Event, error) {
	out := &Event{
		Provider:   models.PaymentProviderStripe,
		EventID:    evt.ID,
		EventType:  string(evt.Type),
		Status:     StatusSkipped,
		RawPayload: json.RawMessage(rawBody),
	}
	if out.EventID == "" {
		return nil, fmt.Errorf("%w: event id missing", ErrInvalidPayload)
	}

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := decodeEventObject(evt, &sess); err != nil {
			return out, err
		}
		out.Status = StatusPending
		out.ProviderPaymentID = sess.ID
		if sess.PaymentIntent != nil {
			out.ProviderChargeID = sess.PaymentIntent.ID
		}
		out.AmountMinor = int64Ptr(sess.AmountTotal)
		out.Currency = strings.ToLower(string(sess.Currency))
		out.OrderID = orderIDFrom(sess.Metadata, sess.ClientReferenceID)

	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := decodeEventObject(evt, &pi); err != nil {
			return out, err
		}
		out.ProviderPaymentID = pi.ID
		out.ProviderChargeID = pi.ID
		out.Currency = strings.ToLower(string(pi.Currency))
		out.OrderID = orderIDFrom(pi.Metadata, "")
		if evt.Type == stripe.EventTypePaymentIntentSucceeded {
			out.Status = StatusSucceeded
			amount := pi.AmountReceived
			if amount == 0 {
				amount = pi.Amount
			}
			out.AmountMinor = int64Ptr(amount)
		} else {
			out.Status = StatusFailed
			out.AmountMinor = int64Ptr(pi.Amount)
		}

	default:
		log.Debugf("[Stripe] Ignoring event %s of type %s", evt.ID, evt.Type)
	}

	return out, nil
}

func decodeEventObject(evt stripe.Event, into interface{}) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return fmt.Errorf("%w: event %s has no data object", ErrInvalidPayload, evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, into); err != nil {
		return fmt.Errorf("%w: decode %s object: %v", ErrInvalidPayload, evt.Type, err)
	}
	return nil
}

func orderIDFrom(metadata map[string]string, fallback string) uint {
	ref := strings.TrimSpace(metadata[metadataOrderID])
	if ref == "" {
		ref = strings.TrimSpace(fallback)
	}
	if ref == "" {
		return 0
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		log.Warnf("[Stripe] Ignoring non-numeric order reference %q", ref)
		return 0
	}
	return uint(id)
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func checkoutSessionStatus(sess *stripe.CheckoutSession) EventStatus {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return StatusFailed
	default:
		return StatusPending
	}
}

func paymentIntentStatus(s stripe.PaymentIntentStatus) EventStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func int64Ptr(v int64) *int64 {
	return &v
}
