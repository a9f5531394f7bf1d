package webhook

import (
	"errors"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"gorm.io/gorm"
)

// Lookup is the read-only fast path of the idempotency ledger. It returns
// nil without error when the event has not been processed.
func Lookup(repo repository.ProcessedEventRepository, ev *payment.Event) (*models.ProcessedEvent, error) {
	existing, err := repo.GetByProviderEvent(ev.Provider, ev.EventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// TryAcquire records the event. accepted is false when another delivery got
// there first, in which case existing is the stored row. Run it with the
// same handle as the effects so both commit together.
func TryAcquire(repo repository.ProcessedEventRepository, ev *payment.Event, now time.Time) (bool, *models.ProcessedEvent, error) {
	return repo.CreateIfNotExists(&models.ProcessedEvent{
		Provider:    ev.Provider,
		EventID:     ev.EventID,
		EventType:   ev.EventType,
		PayloadJSON: string(ev.RawPayload),
		ProcessedAt: now,
	})
}
