// Package testutil provides a throwaway SQLite database with the payment
// schema and a handful of fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a file backed SQLite database in t.TempDir() and migrates
// every model. A single connection is used so concurrent callers serialize
// instead of failing with SQLITE_BUSY. Goroutines therefore never hold two
// transactions open at once; use NewConcurrentTestDB for that. Code running
// inside a transaction must only use the transaction handle or it will block
// on that connection.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	return openTestDB(t, 1, "")
}

// NewConcurrentTestDB is NewTestDB with two connections. Transactions start
// with BEGIN IMMEDIATE, so a second writer's transaction is open on its own
// connection and waits for the first one's write lock instead of failing.
func NewConcurrentTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	return openTestDB(t, 2, "&_txlock=immediate")
}

func openTestDB(t testing.TB, conns int, extra string) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "payfox.db") + "?_busy_timeout=5000&_foreign_keys=on" + extra
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.CartItem{},
		&models.PaymentAttempt{},
		&models.ProcessedEvent{},
		&models.FailedEvent{},
	))
	return db
}

// Line describes one order line of a seeded order.
type Line struct {
	Stock    int
	Quantity int
	Price    string
}

// OrderSeed controls SeedOrder. Zero values fall back to a 200.00 EUR order
// for user 42 with two lines and a pending attempt bound to SessionID.
type OrderSeed struct {
	UserID    uint
	Total     string
	Currency  string
	Lines     []Line
	SessionID string
	ChargeID  string
	LegacyID  string
	CartLines int
}

// Seeded bundles the rows created by SeedOrder.
type Seeded struct {
	Order    *models.Order
	Products []*models.Product
	Attempt  *models.PaymentAttempt
}

// SeedOrder creates products, an order with items, cart lines and a pending
// payment attempt matching the order total.
func SeedOrder(t testing.TB, db *gorm.DB, seed OrderSeed) *Seeded {
	t.Helper()

	if seed.UserID == 0 {
		seed.UserID = 42
	}
	if seed.Total == "" {
		seed.Total = "200.00"
	}
	if seed.Currency == "" {
		seed.Currency = "eur"
	}
	if len(seed.Lines) == 0 {
		seed.Lines = []Line{
			{Stock: 10, Quantity: 2, Price: "50.00"},
			{Stock: 5, Quantity: 1, Price: "100.00"},
		}
	}
	if seed.SessionID == "" {
		seed.SessionID = "cs_test_a1"
	}
	if seed.CartLines == 0 {
		seed.CartLines = len(seed.Lines)
	}

	out := &Seeded{}
	order := &models.Order{
		UserID:        seed.UserID,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.OrderPaymentPending,
		TotalAmount:   decimal.RequireFromString(seed.Total),
		Currency:      seed.Currency,
	}

	for i, line := range seed.Lines {
		price := line.Price
		if price == "" {
			price = "1.00"
		}
		p := &models.Product{
			Name:  "product-" + string(rune('a'+i)),
			Price: decimal.RequireFromString(price),
			Stock: line.Stock,
		}
		require.NoError(t, db.Create(p).Error)
		out.Products = append(out.Products, p)
		order.Items = append(order.Items, models.OrderItem{
			ProductID: p.ID,
			Quantity:  line.Quantity,
			UnitPrice: p.Price,
			Name:      p.Name,
		})
	}
	require.NoError(t, db.Create(order).Error)
	out.Order = order

	for i := 0; i < seed.CartLines && i < len(out.Products); i++ {
		require.NoError(t, db.Create(&models.CartItem{
			UserID:    seed.UserID,
			ProductID: out.Products[i].ID,
			Quantity:  seed.Lines[i].Quantity,
		}).Error)
	}

	amount, err := order.TotalMinorUnits()
	require.NoError(t, err)
	attempt := &models.PaymentAttempt{
		OrderID:           order.ID,
		UserID:            seed.UserID,
		Amount:            amount,
		Currency:          seed.Currency,
		Status:            models.PaymentAttemptPending,
		Provider:          models.PaymentProviderStripe,
		ProviderSessionID: seed.SessionID,
		ProviderChargeID:  seed.ChargeID,
		LegacyPaymentID:   seed.LegacyID,
	}
	require.NoError(t, db.Create(attempt).Error)
	out.Attempt = attempt

	return out
}

// ReloadOrder fetches the current order row including items.
func ReloadOrder(t testing.TB, db *gorm.DB, id uint) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, db.Preload("Items").First(&order, id).Error)
	return &order
}

// ReloadAttempt fetches the current payment attempt row.
func ReloadAttempt(t testing.TB, db *gorm.DB, id uint) *models.PaymentAttempt {
	t.Helper()
	var attempt models.PaymentAttempt
	require.NoError(t, db.First(&attempt, id).Error)
	return &attempt
}

// StockOf returns the current stock of a product.
func StockOf(t testing.TB, db *gorm.DB, productID uint) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, productID).Error)
	return p.Stock
}

// Count returns the number of rows of model matching the optional condition.
func Count(t testing.TB, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
