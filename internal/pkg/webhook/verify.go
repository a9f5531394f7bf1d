package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

var errAttemptNotFound = errors.New("payment attempt not found")

// resolveAttempt matches an event to its PaymentAttempt. The provider
// reports a session id before authorization and a charge id after, so both
// are tried before falling back to the order reference in metadata.
func resolveAttempt(repo repository.PaymentAttemptRepository, ev *payment.Event) (*models.PaymentAttempt, error) {
	if ev.ProviderPaymentID != "" {
		attempt, err := repo.FindBySessionID(ev.Provider, ev.ProviderPaymentID)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	for _, id := range uniqueNonEmpty(ev.ProviderChargeID, ev.ProviderPaymentID) {
		attempt, err := repo.FindByChargeID(ev.Provider, id)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if ev.OrderID != 0 {
		attempt, err := repo.FindLatestByOrderID(ev.OrderID)
		if err == nil {
			log.Warnf("[Webhook] Event %s matched attempt %d only by order reference %d", ev.EventID, attempt.ID, ev.OrderID)
			return attempt, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, errAttemptNotFound
}

// verifyAmount compares the claimed amount with the order total in minor
// units. There is no tolerance.
func verifyAmount(order *models.Order, claimed int64, currency string) error {
	if currency != "" && !strings.EqualFold(currency, order.Currency) {
		return fmt.Errorf("%w: currency %s, order %d is in %s", ErrAmountMismatch, currency, order.ID, order.Currency)
	}
	expected, err := order.TotalMinorUnits()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAmountMismatch, err)
	}
	if expected != claimed {
		return fmt.Errorf("%w: claimed %d, expected %d for order %d", ErrAmountMismatch, claimed, expected, order.ID)
	}
	return nil
}

func uniqueNonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if o == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
