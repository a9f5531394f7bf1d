package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// StatsSource exposes aggregated payment counters.
type StatsSource interface {
	Snapshot(ctx context.Context) (map[string]map[string]int64, error)
}

// ============================================================================
// ADMIN PAYMENT CONTROLLER - Repository Pattern
// ============================================================================

// AdminPaymentController exposes the retry queue and provider lookups to operators
type AdminPaymentController struct {
	failedEventRepo repository.FailedEventRepository
	attemptRepo     repository.PaymentAttemptRepository
	provider        payment.Provider
	stats           StatsSource
	extraAttempts   int
	now             func() time.Time
}

// NewAdminPaymentController creates a new admin payment controller. stats may be nil.
func NewAdminPaymentController(repos *repository.Repositories, provider payment.Provider, stats StatsSource, extraAttempts int) *AdminPaymentController {
	if extraAttempts < 1 {
		extraAttempts = 1
	}
	return &AdminPaymentController{
		failedEventRepo: repos.FailedEvent,
		attemptRepo:     repos.PaymentAttempt,
		provider:        provider,
		stats:           stats,
		extraAttempts:   extraAttempts,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// handleError is a helper method for consistent error handling
func (apc *AdminPaymentController) handleError(c *fiber.Ctx, status int, code string, err error) error {
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[Admin] %s %s: %v", c.Method(), c.Path(), err)
	}
	body := fiber.Map{"error": code}
	if err != nil {
		body["message"] = err.Error()
	}
	return c.Status(status).JSON(body)
}

// HandleListFailedEvents lists the retry queue, optionally filtered by status
func (apc *AdminPaymentController) HandleListFailedEvents(c *fiber.Ctx) error {
	status := c.Query("status")
	switch status {
	case "", models.FailedEventPending, models.FailedEventRetrying, models.FailedEventFailed, models.FailedEventSucceeded:
	default:
		return apc.handleError(c, fiber.StatusBadRequest, "invalid_status", nil)
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	events, err := apc.failedEventRepo.List(status, offset, limit)
	if err != nil {
		return apc.handleError(c, fiber.StatusInternalServerError, "list_failed", err)
	}
	return c.JSON(fiber.Map{"items": events, "offset": offset, "limit": limit})
}

// HandleRetryFailedEvent puts an exhausted event back into the queue
func (apc *AdminPaymentController) HandleRetryFailedEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return apc.handleError(c, fiber.StatusBadRequest, "invalid_id", nil)
	}

	if _, err := apc.failedEventRepo.GetByID(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apc.handleError(c, fiber.StatusNotFound, "not_found", nil)
		}
		return apc.handleError(c, fiber.StatusInternalServerError, "lookup_failed", err)
	}

	rearmed, err := apc.failedEventRepo.Rearm(uint(id), apc.now(), apc.extraAttempts)
	if err != nil {
		return apc.handleError(c, fiber.StatusInternalServerError, "rearm_failed", err)
	}
	if !rearmed {
		return apc.handleError(c, fiber.StatusConflict, "not_failed", nil)
	}

	log.Infof("[Admin] Failed event %d re-armed with %d more attempts", id, apc.extraAttempts)
	event, err := apc.failedEventRepo.GetByID(uint(id))
	if err != nil {
		return apc.handleError(c, fiber.StatusInternalServerError, "lookup_failed", err)
	}
	return c.JSON(event)
}

// HandleProviderStatus asks the provider for the current state of an attempt
func (apc *AdminPaymentController) HandleProviderStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return apc.handleError(c, fiber.StatusBadRequest, "invalid_id", nil)
	}

	attempt, err := apc.attemptRepo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apc.handleError(c, fiber.StatusNotFound, "not_found", nil)
		}
		return apc.handleError(c, fiber.StatusInternalServerError, "lookup_failed", err)
	}

	ref := firstNonEmpty(attempt.ProviderChargeID, attempt.LegacyPaymentID, attempt.ProviderSessionID)
	if ref == "" {
		return apc.handleError(c, fiber.StatusConflict, "no_provider_reference", nil)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()
	status, err := apc.provider.QueryStatus(ctx, ref)
	if err != nil {
		log.Warnf("[Admin] Provider status for attempt %d (%s) failed: %v", id, ref, err)
		return apc.handleError(c, fiber.StatusBadGateway, "provider_error", err)
	}

	return c.JSON(fiber.Map{"attempt": attempt, "provider_status": status})
}

// HandlePaymentStats returns the aggregated payment counters
func (apc *AdminPaymentController) HandlePaymentStats(c *fiber.Ctx) error {
	if apc.stats == nil {
		return apc.handleError(c, fiber.StatusServiceUnavailable, "stats_unavailable", nil)
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	snapshot, err := apc.stats.Snapshot(ctx)
	if err != nil {
		return apc.handleError(c, fiber.StatusServiceUnavailable, "stats_unavailable", err)
	}
	return c.JSON(snapshot)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
