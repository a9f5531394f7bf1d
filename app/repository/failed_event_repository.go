package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// failedEventRepository implements the FailedEventRepository interface
type failedEventRepository struct {
	db *gorm.DB
}

// NewFailedEventRepository creates a new failed event repository instance
func NewFailedEventRepository(db *gorm.DB) FailedEventRepository {
	return &failedEventRepository{db: db}
}

// CreateIfNotExists queues an event once. A second failure of the same
// provider event leaves the existing row alone and returns false.
func (r *failedEventRepository) CreateIfNotExists(event *models.FailedEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *failedEventRepository) GetByID(id uint) (*models.FailedEvent, error) {
	var ev models.FailedEvent
	if err := r.db.First(&ev, id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// dueScope limits a query to rows the retry worker may pick up at now
func dueScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status IN ? AND next_retry_at <= ? AND attempt_count < max_attempts",
			[]string{models.FailedEventPending, models.FailedEventRetrying}, now)
	}
}

// FindDue lists candidates ordered by due time. Callers must still Claim each row.
func (r *failedEventRepository) FindDue(now time.Time, limit int) ([]models.FailedEvent, error) {
	var events []models.FailedEvent
	err := r.db.Scopes(dueScope(now)).
		Order("next_retry_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// Claim takes ownership of a due row for one attempt. The row stays invisible
// to other workers until the lease runs out. Returns false if someone else won.
func (r *failedEventRepository) Claim(id uint, now time.Time, lease time.Duration) (bool, error) {
	tx := r.db.Model(&models.FailedEvent{}).
		Scopes(dueScope(now)).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.FailedEventRetrying,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": now,
			"next_retry_at":   now.Add(lease),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *failedEventRepository) MarkSucceeded(id uint) error {
	return r.db.Model(&models.FailedEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.FailedEventSucceeded,
			"last_error": "",
		}).Error
}

func (r *failedEventRepository) Reschedule(id uint, lastError string, nextRetryAt time.Time) error {
	return r.db.Model(&models.FailedEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.FailedEventPending,
			"last_error":    lastError,
			"next_retry_at": nextRetryAt,
		}).Error
}

func (r *failedEventRepository) MarkFailed(id uint, lastError string) error {
	return r.db.Model(&models.FailedEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.FailedEventFailed,
			"last_error": lastError,
		}).Error
}

// FailAbandoned moves rows whose final attempt was claimed but never
// finished (lease expired, no attempts left) to failed. dueScope no longer
// matches them, so nothing else would ever settle them.
func (r *failedEventRepository) FailAbandoned(now time.Time, lastError string) (int64, error) {
	tx := r.db.Model(&models.FailedEvent{}).
		Where("status = ? AND next_retry_at <= ? AND attempt_count >= max_attempts", models.FailedEventRetrying, now).
		Updates(map[string]interface{}{
			"status":     models.FailedEventFailed,
			"last_error": lastError,
		})
	return tx.RowsAffected, tx.Error
}

// Rearm puts a failed event back into the queue with extraAttempts more tries.
func (r *failedEventRepository) Rearm(id uint, now time.Time, extraAttempts int) (bool, error) {
	if extraAttempts < 1 {
		extraAttempts = 1
	}
	tx := r.db.Model(&models.FailedEvent{}).
		Where("id = ? AND status = ?", id, models.FailedEventFailed).
		Updates(map[string]interface{}{
			"status":        models.FailedEventPending,
			"next_retry_at": now,
			"max_attempts":  gorm.Expr("attempt_count + ?", extraAttempts),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// List returns queue entries, newest first. An empty status lists all.
func (r *failedEventRepository) List(status string, offset, limit int) ([]models.FailedEvent, error) {
	var events []models.FailedEvent
	query := r.db.Model(&models.FailedEvent{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error
	return events, err
}
