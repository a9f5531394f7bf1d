package repository

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// processedEventRepository implements the ProcessedEventRepository interface
type processedEventRepository struct {
	db *gorm.DB
}

// NewProcessedEventRepository creates a new processed event repository instance
func NewProcessedEventRepository(db *gorm.DB) ProcessedEventRepository {
	return &processedEventRepository{db: db}
}

// CreateIfNotExists inserts the ledger row unless (provider, event_id) is
// already present. On conflict it returns false together with the stored row.
func (r *processedEventRepository) CreateIfNotExists(event *models.ProcessedEvent) (bool, *models.ProcessedEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected == 1 {
		return true, event, nil
	}
	existing, err := r.GetByProviderEvent(event.Provider, event.EventID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *processedEventRepository) GetByProviderEvent(provider, eventID string) (*models.ProcessedEvent, error) {
	var ev models.ProcessedEvent
	err := r.db.Where("provider = ? AND event_id = ?", provider, eventID).First(&ev).Error
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListOlderThan returns the oldest rows processed before cutoff
func (r *processedEventRepository) ListOlderThan(cutoff time.Time, limit int) ([]models.ProcessedEvent, error) {
	var events []models.ProcessedEvent
	err := r.db.Where("processed_at < ?", cutoff).
		Order("processed_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *processedEventRepository) DeleteByIDs(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.Where("id IN ?", ids).Delete(&models.ProcessedEvent{})
	return tx.RowsAffected, tx.Error
}
