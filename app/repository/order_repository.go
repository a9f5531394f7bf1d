package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates an order together with its line items
func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID retrieves an order with its line items
func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.Preload("Items").First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ClaimFulfillment flips the fulfilled flag false->true. It returns false when
// another run already owns the fulfillment of this order.
func (r *orderRepository) ClaimFulfillment(id uint, at time.Time) (bool, error) {
	tx := r.db.Model(&models.Order{}).
		Where("id = ? AND fulfilled = ?", id, false).
		Updates(map[string]interface{}{
			"fulfilled":    true,
			"fulfilled_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// MarkPaid confirms a fulfilled order
func (r *orderRepository) MarkPaid(id uint) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.OrderStatusConfirmed,
			"payment_status": models.OrderPaymentPaid,
			"review_note":    "",
		}).Error
}

// UpdatePaymentStatus changes the payment status unless the order is already
// paid or fulfilled. The guard lives in the WHERE clause so a stale read can
// never downgrade a settled order.
func (r *orderRepository) UpdatePaymentStatus(id uint, paymentStatus string) (bool, error) {
	tx := r.db.Model(&models.Order{}).
		Where("id = ? AND payment_status <> ? AND fulfilled = ?", id, models.OrderPaymentPaid, false).
		Update("payment_status", paymentStatus)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// Cancel cancels an unsettled order after a failed payment
func (r *orderRepository) Cancel(id uint) (bool, error) {
	tx := r.db.Model(&models.Order{}).
		Where("id = ? AND payment_status <> ? AND fulfilled = ?", id, models.OrderPaymentPaid, false).
		Updates(map[string]interface{}{
			"status":         models.OrderStatusCancelled,
			"payment_status": models.OrderPaymentFailed,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// MarkForReview parks an order for an operator with a human readable note
func (r *orderRepository) MarkForReview(id uint, note string) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.OrderStatusNeedsReview,
			"review_note": note,
		}).Error
}
