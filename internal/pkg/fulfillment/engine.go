// Package fulfillment applies the business effects of a confirmed payment:
// stock decrement, cart clear and order confirmation, exactly once per order.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// mysqlErrTxUnsupported is ER_WARNING_NOT_COMPLETE_ROLLBACK, reported when a
// non-transactional table took part in a transaction.
const mysqlErrTxUnsupported = 1178

var (
	// ErrTransactionsUnsupported signals that the store cannot run the effect
	// set atomically.
	ErrTransactionsUnsupported = errors.New("transactions not supported by store")
	// ErrPartialFulfillment marks a non-transactional run that stopped after
	// the order was claimed. The order is parked for manual review.
	ErrPartialFulfillment = errors.New("partial fulfillment")
)

// Result of a Fulfill call.
type Result string

const (
	ResultFulfilled        Result = "fulfilled"
	ResultAlreadyFulfilled Result = "already_fulfilled"
	ResultNeedsReview      Result = "needs_review"
)

// TxRunner runs fn inside one database transaction.
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// Options configures an Engine.
type Options struct {
	// AllowNonTxFallback enables sequential best-effort application when the
	// store reports transactions as unsupported.
	AllowNonTxFallback bool
	// TxRunner overrides db.Transaction.
	TxRunner TxRunner
	Now      func() time.Time
}

// Engine runs pipeline work in a transaction and applies fulfillment effects.
type Engine struct {
	db            *gorm.DB
	allowFallback bool
	runTx         TxRunner
	now           func() time.Time
}

// Session is the storage scope handed to pipeline work. Repos are bound to
// the transaction when Transactional is true and to the plain handle otherwise.
type Session struct {
	Repos         *repository.Repositories
	Transactional bool
}

// NewEngine creates a fulfillment engine over db.
func NewEngine(db *gorm.DB, opts Options) *Engine {
	e := &Engine{
		db:            db,
		allowFallback: opts.AllowNonTxFallback,
		runTx:         opts.TxRunner,
		now:           opts.Now,
	}
	if e.runTx == nil {
		e.runTx = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Run executes fn in one transaction. When the store cannot do transactions
// and the fallback is enabled, fn runs once more without a transaction.
// Otherwise an unsupported error is returned wrapped in
// ErrTransactionsUnsupported so the caller can queue a retry.
func (e *Engine) Run(ctx context.Context, fn func(s *Session) error) error {
	err := e.runTx(ctx, func(tx *gorm.DB) error {
		return fn(&Session{Repos: repository.NewRepositories(tx), Transactional: true})
	})
	if err == nil || !IsTransactionUnsupported(err) {
		return err
	}

	if !e.allowFallback {
		log.Errorf("[Fulfillment] Store does not support transactions and fallback is disabled: %v", err)
		if errors.Is(err, ErrTransactionsUnsupported) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransactionsUnsupported, err)
	}

	log.Warnf("[Fulfillment] Store does not support transactions, applying effects without a transaction: %v", err)
	return fn(&Session{Repos: repository.NewRepositories(e.db.WithContext(ctx)), Transactional: false})
}

// Fulfill applies the effect set for a verified successful payment. Callers
// must have checked the amount and that the order is not settled.
func (e *Engine) Fulfill(_ context.Context, s *Session, order *models.Order, attempt *models.PaymentAttempt) (Result, error) {
	repos := s.Repos

	claimed, err := repos.Order.ClaimFulfillment(order.ID, e.now())
	if err != nil {
		return "", fmt.Errorf("claim order %d: %w", order.ID, err)
	}
	if !claimed {
		log.Infof("[Fulfillment] Order %d already fulfilled, skipping", order.ID)
		return ResultAlreadyFulfilled, nil
	}

	var decremented []string
	for _, item := range order.Items {
		if err := repos.Product.DecrementStock(item.ProductID, item.Quantity); err != nil {
			return e.fail(s, order, "decrement stock", decremented,
				fmt.Errorf("product %d qty %d: %w", item.ProductID, item.Quantity, err))
		}
		decremented = append(decremented, fmt.Sprintf("product %d x%d", item.ProductID, item.Quantity))
	}

	if _, err := repos.Cart.ClearByUserID(order.UserID); err != nil {
		return e.fail(s, order, "clear cart", decremented, err)
	}

	if err := repos.Order.MarkPaid(order.ID); err != nil {
		return e.fail(s, order, "mark order paid", decremented, err)
	}

	others, err := repos.PaymentAttempt.CountSucceededForOrder(order.ID, attempt.ID)
	if err != nil {
		return e.fail(s, order, "check payment attempts", decremented, err)
	}
	if others > 0 {
		log.Errorf("[Fulfillment] Order %d already has a succeeded payment attempt, attempt %d is a double payment and needs a refund", order.ID, attempt.ID)
	} else if err := repos.PaymentAttempt.UpdateStatus(attempt.ID, models.PaymentAttemptSucceeded); err != nil {
		return e.fail(s, order, "mark attempt succeeded", decremented, err)
	}

	log.Infof("[Fulfillment] Order %d fulfilled (attempt %d, %d line items)", order.ID, attempt.ID, len(order.Items))
	return ResultFulfilled, nil
}

// fail handles an error after the order was claimed. Inside a transaction
// the error propagates and everything rolls back. Without one, the order is
// parked for manual review with a note of what already happened.
func (e *Engine) fail(s *Session, order *models.Order, step string, decremented []string, cause error) (Result, error) {
	if s.Transactional {
		return "", fmt.Errorf("fulfill order %d: %s: %w", order.ID, step, cause)
	}

	applied := "none"
	if len(decremented) > 0 {
		applied = strings.Join(decremented, ", ")
	}
	note := fmt.Sprintf("non-transactional fulfillment failed at %q: %v; stock already decremented: %s", step, cause, applied)
	log.Errorf("[Fulfillment] Order %d needs manual review: %s", order.ID, note)

	if err := s.Repos.Order.MarkForReview(order.ID, note); err != nil {
		log.Errorf("[Fulfillment] Could not mark order %d for review: %v", order.ID, err)
	}
	return ResultNeedsReview, fmt.Errorf("%w: order %d: %s", ErrPartialFulfillment, order.ID, note)
}

// Cancel applies a failed payment: order cancelled, attempt failed. Stock is
// never touched. Returns false when the order was already settled.
func (e *Engine) Cancel(_ context.Context, s *Session, order *models.Order, attempt *models.PaymentAttempt) (bool, error) {
	changed, err := s.Repos.Order.Cancel(order.ID)
	if err != nil {
		return false, fmt.Errorf("cancel order %d: %w", order.ID, err)
	}
	if !changed {
		log.Infof("[Fulfillment] Order %d is settled, ignoring payment failure", order.ID)
		return false, nil
	}
	if !attempt.IsTerminal() {
		if err := s.Repos.PaymentAttempt.UpdateStatus(attempt.ID, models.PaymentAttemptFailed); err != nil {
			return false, fmt.Errorf("fail attempt %d: %w", attempt.ID, err)
		}
	}
	return true, nil
}

// IsTransactionUnsupported classifies store errors meaning "no transactions here".
// The migrated schema is InnoDB throughout, so MySQL only reports this for a
// table moved to a non-transactional engine outside the migrations.
func IsTransactionUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransactionsUnsupported) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrTxUnsupported {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "doesn't support transactions") ||
		strings.Contains(msg, "transactions are not supported") ||
		strings.Contains(msg, "transaction numbers are only allowed")
}
