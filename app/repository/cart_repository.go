package repository

import (
	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// cartRepository implements the CartRepository interface
type cartRepository struct {
	db *gorm.DB
}

// NewCartRepository creates a new cart repository instance
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

// ClearByUserID removes every cart line of a user. Clearing an empty cart is
// not an error.
func (r *cartRepository) ClearByUserID(userID uint) (int64, error) {
	tx := r.db.Where("user_id = ?", userID).Delete(&models.CartItem{})
	return tx.RowsAffected, tx.Error
}
