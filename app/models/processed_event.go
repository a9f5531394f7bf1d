package models

import "time"

// ProcessedEvent records that a provider event was accepted. The
// (provider, event_id) pair is unique in the schema so concurrent duplicate
// deliveries collide in the database, not in application code.
type ProcessedEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Provider    string    `gorm:"type:varchar(20);not null;index:ux_processed_events_provider_event,unique,priority:1" json:"provider"`
	EventID     string    `gorm:"type:varchar(191);not null;index:ux_processed_events_provider_event,unique,priority:2" json:"event_id"`
	EventType   string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON string    `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt time.Time `gorm:"not null;index" json:"processed_at"`
}
