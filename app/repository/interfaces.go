package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// ErrInsufficientStock is returned when a conditional stock decrement would
// drive a product's quantity below zero (or the product does not exist).
var ErrInsufficientStock = errors.New("insufficient stock")

// OrderRepository defines the order operations used by the payment pipeline
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	ClaimFulfillment(id uint, at time.Time) (bool, error)
	MarkPaid(id uint) error
	UpdatePaymentStatus(id uint, paymentStatus string) (bool, error)
	Cancel(id uint) (bool, error)
	MarkForReview(id uint, note string) error
}

// PaymentAttemptRepository defines the interface for payment attempt operations
type PaymentAttemptRepository interface {
	Create(attempt *models.PaymentAttempt) error
	GetByID(id uint) (*models.PaymentAttempt, error)
	FindBySessionID(provider, sessionID string) (*models.PaymentAttempt, error)
	FindByChargeID(provider, chargeID string) (*models.PaymentAttempt, error)
	FindLatestByOrderID(orderID uint) (*models.PaymentAttempt, error)
	UpdateStatus(id uint, status string) error
	AttachChargeID(id uint, chargeID string) error
	SetCheckoutSession(id uint, sessionID, checkoutURL, metadataJSON string) error
	CountSucceededForOrder(orderID, excludeID uint) (int64, error)
}

// ProductRepository defines the stock operations on products
type ProductRepository interface {
	Create(product *models.Product) error
	GetByID(id uint) (*models.Product, error)
	DecrementStock(id uint, quantity int) error
}

// CartRepository defines the cart operations the pipeline depends on
type CartRepository interface {
	ClearByUserID(userID uint) (int64, error)
}

// ProcessedEventRepository is the storage side of the idempotency ledger
type ProcessedEventRepository interface {
	CreateIfNotExists(event *models.ProcessedEvent) (bool, *models.ProcessedEvent, error)
	GetByProviderEvent(provider, eventID string) (*models.ProcessedEvent, error)
	ListOlderThan(cutoff time.Time, limit int) ([]models.ProcessedEvent, error)
	DeleteByIDs(ids []uint) (int64, error)
}

// FailedEventRepository defines the interface for the retry queue
type FailedEventRepository interface {
	CreateIfNotExists(event *models.FailedEvent) (bool, error)
	GetByID(id uint) (*models.FailedEvent, error)
	FindDue(now time.Time, limit int) ([]models.FailedEvent, error)
	Claim(id uint, now time.Time, lease time.Duration) (bool, error)
	MarkSucceeded(id uint) error
	Reschedule(id uint, lastError string, nextRetryAt time.Time) error
	MarkFailed(id uint, lastError string) error
	FailAbandoned(now time.Time, lastError string) (int64, error)
	Rearm(id uint, now time.Time, extraAttempts int) (bool, error)
	List(status string, offset, limit int) ([]models.FailedEvent, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Order          OrderRepository
	PaymentAttempt PaymentAttemptRepository
	Product        ProductRepository
	Cart           CartRepository
	ProcessedEvent ProcessedEventRepository
	FailedEvent    FailedEventRepository
}

// NewRepositories creates a new instance of all repositories. Passing a
// transaction handle scopes every repository to that transaction.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:          NewOrderRepository(db),
		PaymentAttempt: NewPaymentAttemptRepository(db),
		Product:        NewProductRepository(db),
		Cart:           NewCartRepository(db),
		ProcessedEvent: NewProcessedEventRepository(db),
		FailedEvent:    NewFailedEventRepository(db),
	}
}
