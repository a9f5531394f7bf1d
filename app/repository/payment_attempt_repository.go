package repository

import (
	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// paymentAttemptRepository implements the PaymentAttemptRepository interface
type paymentAttemptRepository struct {
	db *gorm.DB
}

// NewPaymentAttemptRepository creates a new payment attempt repository instance
func NewPaymentAttemptRepository(db *gorm.DB) PaymentAttemptRepository {
	return &paymentAttemptRepository{db: db}
}

func (r *paymentAttemptRepository) Create(attempt *models.PaymentAttempt) error {
	return r.db.Create(attempt).Error
}

func (r *paymentAttemptRepository) GetByID(id uint) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindBySessionID matches the checkout session id reported before authorization
func (r *paymentAttemptRepository) FindBySessionID(provider, sessionID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.db.Where("provider = ? AND provider_session_id = ?", provider, sessionID).
		Order("created_at DESC, id DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindByChargeID matches the charge/intent id, including the historical column
func (r *paymentAttemptRepository) FindByChargeID(provider, chargeID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.db.Where("provider = ? AND (provider_charge_id = ? OR provider_payment_id = ?)", provider, chargeID, chargeID).
		Order("created_at DESC, id DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindLatestByOrderID returns the most recently created attempt of an order
func (r *paymentAttemptRepository) FindLatestByOrderID(orderID uint) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.db.Where("order_id = ?", orderID).
		Order("created_at DESC, id DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *paymentAttemptRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&models.PaymentAttempt{}).Where("id = ?", id).Update("status", status).Error
}

// AttachChargeID stores the charge id once it becomes known. An id that is
// already set is left untouched.
func (r *paymentAttemptRepository) AttachChargeID(id uint, chargeID string) error {
	return r.db.Model(&models.PaymentAttempt{}).
		Where("id = ? AND (provider_charge_id = '' OR provider_charge_id IS NULL)", id).
		Update("provider_charge_id", chargeID).Error
}

func (r *paymentAttemptRepository) SetCheckoutSession(id uint, sessionID, checkoutURL, metadataJSON string) error {
	return r.db.Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_session_id": sessionID,
			"checkout_url":        checkoutURL,
			"provider_metadata":   metadataJSON,
		}).Error
}

// CountSucceededForOrder counts succeeded attempts of an order other than excludeID
func (r *paymentAttemptRepository) CountSucceededForOrder(orderID, excludeID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.PaymentAttempt{}).
		Where("order_id = ? AND status = ? AND id <> ?", orderID, models.PaymentAttemptSucceeded, excludeID).
		Count(&count).Error
	return count, err
}
