package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest  = errors.New("invalid checkout request")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPayable = errors.New("order cannot be paid")
)

// Request starts a hosted checkout for an order.
type Request struct {
	OrderID    uint   `json:"order_id" validate:"required"`
	UserID     uint   `json:"user_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// Result is what the buyer needs to continue at the provider.
type Result struct {
	AttemptID   uint   `json:"payment_attempt_id"`
	OrderID     uint   `json:"order_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// Options configures a Service.
type Options struct {
	ProviderName string
	Recorder     counter.Recorder
}

// Service creates payment attempts and the matching provider checkout sessions.
type Service struct {
	db           *gorm.DB
	provider     payment.Provider
	providerName string
	recorder     counter.Recorder
	validate     *validator.Validate
}

func NewService(db *gorm.DB, provider payment.Provider, opts Options) *Service {
	s := &Service{
		db:           db,
		provider:     provider,
		providerName: opts.ProviderName,
		recorder:     opts.Recorder,
		validate:     validator.New(),
	}
	if s.providerName == "" {
		s.providerName = models.PaymentProviderStripe
	}
	if s.recorder == nil {
		s.recorder = counter.Nop{}
	}
	return s
}

// Start creates a pending PaymentAttempt for the order and opens a provider
// checkout session for exactly the order total. The order id travels in the
// session metadata so webhooks can find the order even before the attempt
// carries any provider id.
func (s *Service) Start(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	repos := repository.NewRepositories(s.db.WithContext(ctx))
	order, err := repos.Order.GetByID(req.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order %d: %w", req.OrderID, err)
	}
	// Foreign orders look like missing ones.
	if order.UserID != req.UserID {
		return nil, ErrOrderNotFound
	}
	if order.IsSettled() || order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: status %s, payment %s", ErrOrderNotPayable, order.Status, order.PaymentStatus)
	}

	amount, err := order.TotalMinorUnits()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderNotPayable, err)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: total is %s", ErrOrderNotPayable, order.TotalAmount.String())
	}

	attempt := &models.PaymentAttempt{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Amount:   amount,
		Currency: order.Currency,
		Status:   models.PaymentAttemptPending,
		Provider: s.providerName,
	}
	if err := repos.PaymentAttempt.Create(attempt); err != nil {
		return nil, fmt.Errorf("create payment attempt: %w", err)
	}

	session, err := s.provider.InitiatePayment(ctx, payment.CheckoutRequest{
		OrderID:        order.ID,
		AttemptID:      attempt.ID,
		UserID:         order.UserID,
		AmountMinor:    amount,
		Currency:       order.Currency,
		Description:    fmt.Sprintf("Order #%d", order.ID),
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		if uerr := repos.PaymentAttempt.UpdateStatus(attempt.ID, models.PaymentAttemptFailed); uerr != nil {
			log.Errorf("[Checkout] Could not mark attempt %d failed: %v", attempt.ID, uerr)
		}
		return nil, fmt.Errorf("initiate payment for order %d: %w", order.ID, err)
	}

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode provider metadata: %w", err)
	}
	if err := repos.PaymentAttempt.SetCheckoutSession(attempt.ID, session.SessionID, session.URL, string(metadata)); err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	if session.PaymentIntentID != "" {
		if err := repos.PaymentAttempt.AttachChargeID(attempt.ID, session.PaymentIntentID); err != nil {
			return nil, fmt.Errorf("store payment intent: %w", err)
		}
	}

	s.recorder.PaymentAttempt(s.providerName)
	log.Infof("[Checkout] Order %d: attempt %d opened session %s for %d %s", order.ID, attempt.ID, session.SessionID, amount, order.Currency)

	return &Result{
		AttemptID:   attempt.ID,
		OrderID:     order.ID,
		SessionID:   session.SessionID,
		CheckoutURL: session.URL,
		AmountMinor: amount,
		Currency:    order.Currency,
	}, nil
}
