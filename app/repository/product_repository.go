package repository

import (
	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

// productRepository implements the ProductRepository interface
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository instance
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(product *models.Product) error {
	return r.db.Create(product).Error
}

func (r *productRepository) GetByID(id uint) (*models.Product, error) {
	var product models.Product
	if err := r.db.First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementStock reduces stock only if enough is left. Concurrent callers
// serialize on the row, the loser sees zero affected rows.
func (r *productRepository) DecrementStock(id uint, quantity int) error {
	tx := r.db.Model(&models.Product{}).
		Where("id = ? AND stock >= ?", id, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}
