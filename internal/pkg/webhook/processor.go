// Package webhook turns authenticated payment notifications into exactly-once
// order effects.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/fulfillment"
	metrics "github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const publishTimeout = 5 * time.Second

// Options configures a Processor.
type Options struct {
	Recorder    metrics.Recorder
	Publisher   notify.Publisher
	MaxAttempts int
	Now         func() time.Time
}

// Processor runs the pipeline: authenticate, ledger check, attempt
// resolution and verification, fulfillment, ledger commit.
type Processor struct {
	db          *gorm.DB
	provider    payment.Provider
	engine      *fulfillment.Engine
	recorder    metrics.Recorder
	publisher   notify.Publisher
	maxAttempts int
	now         func() time.Time
}

// postCommit holds side effects that must only run once storage committed.
type postCommit struct {
	succeeded   bool
	failed      bool
	mismatch    bool
	amountMinor int64
	currency    string
	routingKey  string
	message     notify.OrderEvent
}

// NewProcessor creates a webhook processor.
func NewProcessor(db *gorm.DB, provider payment.Provider, engine *fulfillment.Engine, opts Options) *Processor {
	p := &Processor{
		db:          db,
		provider:    provider,
		engine:      engine,
		recorder:    opts.Recorder,
		publisher:   opts.Publisher,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
	if p.recorder == nil {
		p.recorder = metrics.Nop{}
	}
	if p.publisher == nil {
		p.publisher = notify.Nop{}
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 6
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// HandleWebhook authenticates and processes one inbound notification.
// payment.ErrSignatureInvalid is returned as is. An authentic body that cannot
// be decoded is recorded and reported as OutcomeInvalidPayload, since
// redelivering it cannot help. Processing failures are queued for retry and
// reported as OutcomeQueued; an error is only returned if queueing failed too.
func (p *Processor) HandleWebhook(ctx context.Context, rawBody []byte, header http.Header) (*Result, error) {
	start := p.now()

	ev, err := p.provider.AuthenticateWebhook(ctx, rawBody, header)
	if errors.Is(err, payment.ErrInvalidPayload) {
		return p.acceptInvalid(context.WithoutCancel(ctx), ev, err)
	}
	if err != nil {
		log.Warnf("[Security] Rejected webhook with invalid signature: %v", err)
		return nil, err
	}
	defer func() {
		p.recorder.WebhookDuration(ev.Provider, p.now().Sub(start))
	}()

	// The provider may hang up; the pipeline must still finish or roll back.
	ctx = context.WithoutCancel(ctx)

	res, err := p.process(ctx, ev)
	if err != nil {
		log.Errorf("[Webhook] Processing %s event %s failed: %v", ev.EventType, ev.EventID, err)
		if qerr := p.enqueue(ctx, ev, err); qerr != nil {
			log.Errorf("[Webhook] Could not queue event %s for retry: %v", ev.EventID, qerr)
			return nil, fmt.Errorf("process event %s: %v; queue for retry: %w", ev.EventID, err, qerr)
		}
		res = &Result{Outcome: OutcomeQueued, EventID: ev.EventID, OrderID: ev.OrderID}
	}

	p.recorder.WebhookOutcome(string(res.Outcome))
	return res, nil
}

// acceptInvalid acknowledges an authentic but unreadable notification. When
// the envelope named the event it goes into the ledger, so redeliveries are
// answered as duplicates.
func (p *Processor) acceptInvalid(ctx context.Context, ev *payment.Event, cause error) (*Result, error) {
	res := &Result{Outcome: OutcomeInvalidPayload}
	if ev == nil || ev.EventID == "" {
		log.Errorf("[Webhook] Manual review: authentic webhook without a readable event id: %v", cause)
		p.recorder.WebhookOutcome(string(res.Outcome))
		return res, nil
	}

	res.EventID = ev.EventID
	accepted, _, err := TryAcquire(repository.NewProcessedEventRepository(p.db.WithContext(ctx)), ev, p.now())
	if err != nil {
		return nil, fmt.Errorf("record invalid event %s: %w", ev.EventID, err)
	}
	if !accepted {
		res.Outcome = OutcomeDuplicate
	} else {
		log.Errorf("[Webhook] Manual review: %s event %s could not be decoded: %v", ev.EventType, ev.EventID, cause)
	}
	p.recorder.WebhookOutcome(string(res.Outcome))
	return res, nil
}

// Reprocess runs an already authenticated event through the pipeline again.
// It is used by the retry worker and never queues.
func (p *Processor) Reprocess(ctx context.Context, ev *payment.Event) (*Result, error) {
	res, err := p.process(ctx, ev)
	if err != nil {
		return nil, err
	}
	p.recorder.WebhookOutcome(string(res.Outcome))
	return res, nil
}

func (p *Processor) process(ctx context.Context, ev *payment.Event) (*Result, error) {
	if ev.Status == payment.StatusSkipped {
		log.Debugf("[Webhook] Skipping unhandled event type %s (%s)", ev.EventType, ev.EventID)
		return &Result{Outcome: OutcomeSkipped, EventID: ev.EventID}, nil
	}

	existing, err := Lookup(repository.NewProcessedEventRepository(p.db.WithContext(ctx)), ev)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if existing != nil {
		log.Infof("[Webhook] Event %s already processed at %s", ev.EventID, existing.ProcessedAt.Format(time.RFC3339))
		return &Result{Outcome: OutcomeDuplicate, EventID: ev.EventID}, nil
	}

	var (
		res *Result
		fx  *postCommit
	)
	err = p.engine.Run(ctx, func(s *fulfillment.Session) error {
		res, fx = nil, nil

		// Inside a transaction the ledger row is taken first so concurrent
		// duplicates serialize on the unique index. Without one it is
		// written last so a failure leaves the event retryable.
		if s.Transactional {
			accepted, _, err := TryAcquire(s.Repos.ProcessedEvent, ev, p.now())
			if err != nil {
				return fmt.Errorf("ledger acquire: %w", err)
			}
			if !accepted {
				res = &Result{Outcome: OutcomeDuplicate, EventID: ev.EventID}
				return nil
			}
		}

		r, effects, err := p.apply(ctx, s, ev)
		if err != nil {
			return err
		}

		if !s.Transactional {
			if _, _, err := TryAcquire(s.Repos.ProcessedEvent, ev, p.now()); err != nil {
				return fmt.Errorf("ledger record: %w", err)
			}
		}
		res, fx = r, effects
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fx != nil {
		p.afterCommit(ctx, ev, fx)
	}
	return res, nil
}

// apply resolves and verifies the attempt and performs the effects of ev.
func (p *Processor) apply(ctx context.Context, s *fulfillment.Session, ev *payment.Event) (*Result, *postCommit, error) {
	res := &Result{EventID: ev.EventID, OrderID: ev.OrderID}

	attempt, err := resolveAttempt(s.Repos.PaymentAttempt, ev)
	if errors.Is(err, errAttemptNotFound) {
		log.Warnf("[Webhook] Manual review: no payment attempt for %s event %s (payment %s, charge %s, order %d)",
			ev.EventType, ev.EventID, ev.ProviderPaymentID, ev.ProviderChargeID, ev.OrderID)
		res.Outcome = OutcomeAttemptNotFound
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve payment attempt: %w", err)
	}
	res.AttemptID = attempt.ID
	res.OrderID = attempt.OrderID

	order, err := s.Repos.Order.GetByID(attempt.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Webhook] Manual review: attempt %d points to missing order %d", attempt.ID, attempt.OrderID)
		res.Outcome = OutcomeAttemptNotFound
		return res, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load order %d: %w", attempt.OrderID, err)
	}

	if ev.ProviderChargeID != "" && attempt.ProviderChargeID == "" {
		if err := s.Repos.PaymentAttempt.AttachChargeID(attempt.ID, ev.ProviderChargeID); err != nil {
			return nil, nil, fmt.Errorf("attach charge id: %w", err)
		}
	}

	if ev.Status != payment.StatusFailed && ev.AmountMinor != nil {
		if err := verifyAmount(order, *ev.AmountMinor, ev.Currency); err != nil {
			return p.rejectAmount(s, ev, order, attempt, res, err)
		}
	}

	switch ev.Status {
	case payment.StatusPending:
		if order.IsSettled() {
			log.Infof("[Webhook] Order %d already settled, ignoring late %s", order.ID, ev.EventType)
			res.Outcome = OutcomeProcessed
			return res, nil, nil
		}
		if _, err := s.Repos.Order.UpdatePaymentStatus(order.ID, models.OrderPaymentPending); err != nil {
			return nil, nil, fmt.Errorf("update order %d payment status: %w", order.ID, err)
		}
		res.Outcome = OutcomeProcessed
		return res, nil, nil

	case payment.StatusFailed:
		if order.IsSettled() {
			log.Infof("[Webhook] Order %d already settled, ignoring %s", order.ID, ev.EventType)
			res.Outcome = OutcomeProcessed
			return res, nil, nil
		}
		changed, err := p.engine.Cancel(ctx, s, order, attempt)
		if err != nil {
			return nil, nil, err
		}
		res.Outcome = OutcomeProcessed
		if !changed {
			return res, nil, nil
		}
		log.Infof("[Webhook] Order %d cancelled after failed payment (attempt %d)", order.ID, attempt.ID)
		return res, &postCommit{
			failed:     true,
			routingKey: notify.OrderPaymentFailed,
			message:    p.orderMessage(order, attempt, ""),
		}, nil

	case payment.StatusSucceeded:
		if order.IsSettled() {
			if attempt.Status != models.PaymentAttemptSucceeded {
				log.Errorf("[Webhook] Order %d already settled but attempt %d also succeeded, possible double payment", order.ID, attempt.ID)
			}
			res.Outcome = OutcomeAlreadyFulfilled
			return res, nil, nil
		}

		result, err := p.engine.Fulfill(ctx, s, order, attempt)
		switch {
		case errors.Is(err, fulfillment.ErrPartialFulfillment):
			res.Outcome = OutcomeManualReview
			res.Err = err
			return res, &postCommit{
				routingKey: notify.OrderNeedsReview,
				message:    p.orderMessage(order, attempt, err.Error()),
			}, nil
		case err != nil:
			return nil, nil, err
		}

		if result == fulfillment.ResultAlreadyFulfilled {
			res.Outcome = OutcomeAlreadyFulfilled
			return res, nil, nil
		}
		res.Outcome = OutcomeProcessed
		return res, &postCommit{
			succeeded:   true,
			amountMinor: attempt.Amount,
			currency:    order.Currency,
			routingKey:  notify.OrderFulfilled,
			message:     p.orderMessage(order, attempt, ""),
		}, nil
	}

	return nil, nil, fmt.Errorf("unexpected event status %q", ev.Status)
}

// rejectAmount fails the attempt and the order payment. A settled order is
// never downgraded.
func (p *Processor) rejectAmount(s *fulfillment.Session, ev *payment.Event, order *models.Order, attempt *models.PaymentAttempt, res *Result, cause error) (*Result, *postCommit, error) {
	log.Errorf("[Security] Amount mismatch on %s event %s (attempt %d): %v", ev.EventType, ev.EventID, attempt.ID, cause)
	res.Outcome = OutcomeAmountMismatch
	res.Err = cause

	if order.IsSettled() {
		return res, &postCommit{mismatch: true}, nil
	}
	if !attempt.IsTerminal() {
		if err := s.Repos.PaymentAttempt.UpdateStatus(attempt.ID, models.PaymentAttemptFailed); err != nil {
			return nil, nil, fmt.Errorf("fail attempt %d: %w", attempt.ID, err)
		}
	}
	if _, err := s.Repos.Order.UpdatePaymentStatus(order.ID, models.OrderPaymentFailed); err != nil {
		return nil, nil, fmt.Errorf("fail order %d payment: %w", order.ID, err)
	}
	return res, &postCommit{mismatch: true}, nil
}

func (p *Processor) orderMessage(order *models.Order, attempt *models.PaymentAttempt, note string) notify.OrderEvent {
	return notify.OrderEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		AttemptID:   attempt.ID,
		AmountMinor: attempt.Amount,
		Currency:    order.Currency,
		Note:        note,
		OccurredAt:  p.now(),
	}
}

func (p *Processor) afterCommit(ctx context.Context, ev *payment.Event, fx *postCommit) {
	switch {
	case fx.succeeded:
		p.recorder.PaymentSucceeded(ev.Provider, fx.currency, fx.amountMinor)
	case fx.failed:
		p.recorder.PaymentFailed(ev.Provider)
	case fx.mismatch:
		p.recorder.AmountMismatch(ev.Provider)
	}

	if fx.routingKey == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.publisher.Publish(pubCtx, fx.routingKey, fx.message); err != nil {
		log.Errorf("[Webhook] Failed to publish %s for order %d: %v", fx.routingKey, fx.message.OrderID, err)
	}
}

// enqueue stores ev for the retry worker. A second failure of the same event
// keeps the existing queue entry.
func (p *Processor) enqueue(ctx context.Context, ev *payment.Event, cause error) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	fe := &models.FailedEvent{
		Provider:    ev.Provider,
		EventID:     ev.EventID,
		EventType:   ev.EventType,
		PayloadJSON: string(payload),
		LastError:   cause.Error(),
		MaxAttempts: p.maxAttempts,
		NextRetryAt: p.now(),
		Status:      models.FailedEventPending,
	}
	created, err := repository.NewFailedEventRepository(p.db.WithContext(ctx)).CreateIfNotExists(fe)
	if err != nil {
		return err
	}
	if created {
		log.Warnf("[Webhook] Queued event %s for retry (failed event %d)", ev.EventID, fe.ID)
	} else {
		log.Warnf("[Webhook] Event %s is already queued for retry", ev.EventID)
	}
	return nil
}

// DecodeEvent restores an event stored by enqueue.
func DecodeEvent(payloadJSON string) (*payment.Event, error) {
	var ev payment.Event
	if err := json.Unmarshal([]byte(payloadJSON), &ev); err != nil {
		return nil, fmt.Errorf("decode queued event: %w", err)
	}
	if ev.EventID == "" || ev.Provider == "" {
		return nil, errors.New("decode queued event: missing provider or event id")
	}
	return &ev, nil
}
