package models

import "time"

// Payment provider constants.
const (
	PaymentProviderStripe = "stripe"
)

const (
	PaymentAttemptPending        = "pending"
	PaymentAttemptRequiresAction = "requires_action"
	PaymentAttemptSucceeded      = "succeeded"
	PaymentAttemptFailed         = "failed"
	PaymentAttemptRefunded       = "refunded"
	PaymentAttemptCanceled       = "canceled"
)

// PaymentAttempt is one attempt to collect money for an order. The provider
// reports a checkout session id first and the payment intent id later, so
// both are stored. LegacyPaymentID keeps the column name older checkout
// versions wrote the intent id into.
type PaymentAttempt struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	OrderID           uint      `gorm:"not null;index:idx_payment_attempts_order_created,priority:1" json:"order_id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	Amount            int64     `gorm:"not null" json:"amount"`
	Currency          string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Provider          string    `gorm:"type:varchar(20);not null;index:idx_payment_attempts_provider_session,priority:1;index:idx_payment_attempts_provider_charge,priority:1" json:"provider"`
	ProviderSessionID string    `gorm:"type:varchar(191);default:'';index:idx_payment_attempts_provider_session,priority:2" json:"provider_session_id"`
	ProviderChargeID  string    `gorm:"type:varchar(191);default:'';index:idx_payment_attempts_provider_charge,priority:2" json:"provider_charge_id"`
	LegacyPaymentID   string    `gorm:"column:provider_payment_id;type:varchar(191);default:'';index" json:"provider_payment_id,omitempty"`
	CheckoutURL       string    `gorm:"type:text" json:"checkout_url,omitempty"`
	ProviderMetadata  string    `gorm:"type:longtext" json:"provider_metadata,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_payment_attempts_order_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the attempt reached a state webhooks must not
// move it out of.
func (p *PaymentAttempt) IsTerminal() bool {
	switch p.Status {
	case PaymentAttemptSucceeded, PaymentAttemptRefunded, PaymentAttemptCanceled:
		return true
	default:
		return false
	}
}
