package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// DB returns the handle the factory was built with
func (f *Factory) DB() *gorm.DB {
	return f.db
}

// GetPaymentAttemptRepository returns the payment attempt repository instance
func (f *Factory) GetPaymentAttemptRepository() PaymentAttemptRepository {
	return f.GetRepositories().PaymentAttempt
}

// GetOrderRepository returns the order repository instance
func (f *Factory) GetOrderRepository() OrderRepository {
	return f.GetRepositories().Order
}

// GetFailedEventRepository returns the failed event repository instance
func (f *Factory) GetFailedEventRepository() FailedEventRepository {
	return f.GetRepositories().FailedEvent
}

// GetProcessedEventRepository returns the processed event repository instance
func (f *Factory) GetProcessedEventRepository() ProcessedEventRepository {
	return f.GetRepositories().ProcessedEvent
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
