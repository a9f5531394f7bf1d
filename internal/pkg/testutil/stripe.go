package testutil

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81/webhook"
)

// TestWebhookSecret is the signing secret used across webhook tests.
const TestWebhookSecret = "whsec_test_secret"

// StripeSignatureHeader builds a Stripe-Signature header value for payload.
func StripeSignatureHeader(payload []byte, secret string, ts time.Time) string {
	sig := webhook.ComputeSignature(ts, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func stripeEvent(eventID, eventType string, object map[string]interface{}) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"livemode":    false,
		"api_version": "2024-09-30.acacia",
		"data": map[string]interface{}{
			"object": object,
		},
	})
	if err != nil {
		panic(err)
	}
	return body
}

func orderMetadata(orderID uint) map[string]string {
	if orderID == 0 {
		return map[string]string{}
	}
	return map[string]string{"order_id": strconv.FormatUint(uint64(orderID), 10)}
}

// CheckoutSessionCompleted returns a checkout.session.completed event body.
func CheckoutSessionCompleted(eventID, sessionID, intentID string, orderID uint, amount int64, currency string) []byte {
	obj := map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"amount_total":   amount,
		"currency":       currency,
		"metadata":       orderMetadata(orderID),
		"payment_status": "paid",
		"status":         "complete",
		"mode":           "payment",
	}
	if intentID != "" {
		obj["payment_intent"] = intentID
	}
	return stripeEvent(eventID, "checkout.session.completed", obj)
}

// PaymentIntentSucceeded returns a payment_intent.succeeded event body.
func PaymentIntentSucceeded(eventID, intentID string, orderID uint, amount int64, currency string) []byte {
	return stripeEvent(eventID, "payment_intent.succeeded", map[string]interface{}{
		"id":              intentID,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        currency,
		"metadata":        orderMetadata(orderID),
		"status":          "succeeded",
	})
}

// PaymentIntentFailed returns a payment_intent.payment_failed event body.
func PaymentIntentFailed(eventID, intentID string, orderID uint, amount int64, currency string) []byte {
	return stripeEvent(eventID, "payment_intent.payment_failed", map[string]interface{}{
		"id":       intentID,
		"object":   "payment_intent",
		"amount":   amount,
		"currency": currency,
		"metadata": orderMetadata(orderID),
		"status":   "requires_payment_method",
	})
}

// UnhandledEvent returns an event of a type the pipeline ignores.
func UnhandledEvent(eventID string) []byte {
	return stripeEvent(eventID, "customer.created", map[string]interface{}{
		"id":     "cus_test",
		"object": "customer",
	})
}
