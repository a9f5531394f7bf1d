package webhook

import "errors"

// ErrAmountMismatch is recorded on a Result whose claimed amount differs
// from the order total.
var ErrAmountMismatch = errors.New("payment amount does not match order total")

// Outcome classifies how an event was handled. Every outcome except a
// returned error is acknowledged to the provider.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeAttemptNotFound  Outcome = "payment_attempt_not_found"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeAlreadyFulfilled Outcome = "already_fulfilled"
	OutcomeManualReview     Outcome = "manual_review"
	OutcomeQueued           Outcome = "queued"
	OutcomeInvalidPayload   Outcome = "invalid_payload"
)

// Result describes the handling of one event.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	EventID   string  `json:"event_id"`
	OrderID   uint    `json:"order_id,omitempty"`
	AttemptID uint    `json:"payment_attempt_id,omitempty"`
	Err       error   `json:"-"`
}
