package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending     = "pending"
	OrderStatusConfirmed   = "confirmed"
	OrderStatusCancelled   = "cancelled"
	OrderStatusNeedsReview = "needs_review"
)

// Payment status of an order as seen by the commerce side. Distinct from the
// per-attempt status tracked on PaymentAttempt.
const (
	OrderPaymentPending  = "pending"
	OrderPaymentPaid     = "paid"
	OrderPaymentFailed   = "failed"
	OrderPaymentRefunded = "refunded"
)

// Order is the commerce unit being paid for. Fulfilled flips false->true once
// and is the only guard for "stock was already reduced for this order".
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Status        string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentStatus string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'eur'" json:"currency"`
	Fulfilled     bool            `gorm:"not null;default:false" json:"fulfilled"`
	FulfilledAt   *time.Time      `gorm:"type:timestamp;default:null" json:"fulfilled_at,omitempty"`
	ReviewNote    string          `gorm:"type:text" json:"review_note,omitempty"`
	Items         []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem is a line item with a price snapshot taken at checkout.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"not null;index" json:"order_id"`
	ProductID uint            `gorm:"not null;index" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Name      string          `gorm:"type:varchar(255);default:''" json:"name"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TotalMinorUnits converts the stored total into the currency's minor units.
// A total carrying more precision than the currency allows is an error rather
// than being rounded.
func (o *Order) TotalMinorUnits() (int64, error) {
	minor := o.TotalAmount.Shift(MinorUnitExponent(o.Currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("order %d total %s has sub-minor-unit precision for %s", o.ID, o.TotalAmount.String(), o.Currency)
	}
	return minor.IntPart(), nil
}

// IsSettled reports whether the order has already advanced past payment.
// Settled orders never have their payment state downgraded.
func (o *Order) IsSettled() bool {
	return o.PaymentStatus == OrderPaymentPaid || o.Fulfilled
}
