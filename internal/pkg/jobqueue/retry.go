package jobqueue

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// RetryStats summarizes one retry pass.
type RetryStats struct {
	Claimed     int
	Succeeded   int
	Rescheduled int
	Failed      int
	Abandoned   int
}

const abandonedError = "worker stopped during the final attempt"


// RunRetryOnce claims due failed events and re-runs each once. A row is
// only worked on after the conditional claim succeeded, so concurrent
// workers on other replicas never process the same row twice.
func (m *Manager) RunRetryOnce(ctx context.Context) (RetryStats, error) {
	var stats RetryStats
	now := m.opts.Now()
	repo := repository.NewFailedEventRepository(m.db.WithContext(ctx))

	abandoned, err := repo.FailAbandoned(now, abandonedError)
	if err != nil {
		return stats, fmt.Errorf("settle abandoned failed events: %w", err)
	}
	if abandoned > 0 {
		stats.Abandoned = int(abandoned)
		log.Errorf("[RetryWorker] %d failed events lost their worker on the final attempt, needs operator attention", abandoned)
	}

	due, err := repo.FindDue(now, m.opts.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("find due failed events: %w", err)
	}

	for i := range due {
		fe := due[i]
		claimed, err := repo.Claim(fe.ID, now, m.opts.ClaimLease)
		if err != nil {
			log.Errorf("[RetryWorker] Could not claim failed event %d: %v", fe.ID, err)
			continue
		}
		if !claimed {
			continue
		}
		stats.Claimed++
		fe.AttemptCount++

		switch m.retryOne(ctx, repo, &fe) {
		case models.FailedEventSucceeded:
			stats.Succeeded++
		case models.FailedEventFailed:
			stats.Failed++
		default:
			stats.Rescheduled++
		}
	}
	return stats, nil
}

// retryOne re-runs one claimed event and returns the status it was left in.
func (m *Manager) retryOne(ctx context.Context, repo repository.FailedEventRepository, fe *models.FailedEvent) string {
	ev, err := webhook.DecodeEvent(fe.PayloadJSON)
	if err != nil {
		log.Errorf("[RetryWorker] Failed event %d has an unreadable payload, giving up: %v", fe.ID, err)
		if merr := repo.MarkFailed(fe.ID, err.Error()); merr != nil {
			log.Errorf("[RetryWorker] Could not mark failed event %d as failed: %v", fe.ID, merr)
		}
		return models.FailedEventFailed
	}

	res, err := m.processor.Reprocess(ctx, ev)
	if err == nil {
		log.Infof("[RetryWorker] Event %s (%s) resolved on attempt %d: %s", fe.EventID, fe.EventType, fe.AttemptCount, res.Outcome)
		if merr := repo.MarkSucceeded(fe.ID); merr != nil {
			log.Errorf("[RetryWorker] Could not mark failed event %d as succeeded: %v", fe.ID, merr)
		}
		return models.FailedEventSucceeded
	}

	if fe.IsExhausted() {
		log.Errorf("[RetryWorker] Event %s (%s) failed %d times, needs operator attention: %v",
			fe.EventID, fe.EventType, fe.AttemptCount, err)
		if merr := repo.MarkFailed(fe.ID, err.Error()); merr != nil {
			log.Errorf("[RetryWorker] Could not mark failed event %d as failed: %v", fe.ID, merr)
		}
		return models.FailedEventFailed
	}

	next := m.opts.Now().Add(models.NextRetryDelay(m.opts.BackoffBase, m.opts.BackoffUnit, fe.AttemptCount))
	log.Warnf("[RetryWorker] Event %s attempt %d/%d failed, next try at %s: %v",
		fe.EventID, fe.AttemptCount, fe.MaxAttempts, next.Format("2006-01-02 15:04:05"), err)
	if merr := repo.Reschedule(fe.ID, err.Error(), next); merr != nil {
		log.Errorf("[RetryWorker] Could not reschedule failed event %d: %v", fe.ID, merr)
	}
	return models.FailedEventPending
}
