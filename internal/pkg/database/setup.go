package database

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// Options describes the MySQL connection.
type Options struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	AutoMigrate bool
}

// DSN renders the go-sql-driver DSN. Times are stored and read as UTC.
func (o Options) DSN() string {
	port := o.Port
	if port == "" {
		port = "3306"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		o.User, o.Password, o.Host, port, o.Name)
}

// SetupDatabase connects with retries and panics once they are exhausted.
func SetupDatabase(opts Options) {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       opts.DSN(),
			DefaultStringSize:         256,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if opts.AutoMigrate {
				if merr := AutoMigrate(DB); merr != nil {
					log.Errorf("[Database] AutoMigrate failed: %v", merr)
				}
			}
			return
		}

		log.Warnf("[Database] Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// AutoMigrate creates the payment tables. Production schema comes from the
// SQL migrations; this is for development databases.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.CartItem{},
		&models.PaymentAttempt{},
		&models.ProcessedEvent{},
		&models.FailedEvent{},
	)
}

// GetDB returns the shared handle
func GetDB() *gorm.DB {
	return DB
}
