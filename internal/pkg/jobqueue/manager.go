package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/archive"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Reprocessor re-runs a queued event through the webhook pipeline.
type Reprocessor interface {
	Reprocess(ctx context.Context, ev *payment.Event) (*webhook.Result, error)
}

// Options configures the background workers.
type Options struct {
	RetryInterval  time.Duration
	BatchSize      int
	BackoffBase    float64
	BackoffUnit    time.Duration
	ClaimLease     time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BackoffBase < 1 {
		o.BackoffBase = 5
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = time.Second
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 720 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = 500
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Manager runs the retry worker and the processed event retention sweeper
type Manager struct {
	db        *gorm.DB
	processor Reprocessor
	archiver  archive.Archiver
	opts      Options

	retryTicker *time.Ticker
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager creates a manager. archiver may be nil to delete expired events
// without archiving them.
func NewManager(db *gorm.DB, processor Reprocessor, archiver archive.Archiver, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		db:        db,
		processor: processor,
		archiver:  archiver,
		opts:      opts,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the background workers
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting background workers")

	m.retryTicker = time.NewTicker(m.opts.RetryInterval)
	m.wg.Add(1)
	go m.retryWorker(m.stopCh)

	m.sweepTicker = time.NewTicker(m.opts.SweepInterval)
	m.wg.Add(1)
	go m.sweepWorker(m.stopCh)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the background workers and waits for a running tick to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background workers...")

	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// retryWorker polls for due failed events
func (m *Manager) retryWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[RetryWorker] Started (interval: %v, batch: %d)", m.opts.RetryInterval, m.opts.BatchSize)

	for {
		select {
		case <-stopCh:
			log.Info("[RetryWorker] Stopping")
			return
		case <-m.retryTicker.C:
			stats, err := m.RunRetryOnce(context.Background())
			if err != nil {
				log.Errorf("[RetryWorker] Retry pass failed: %v", err)
				continue
			}
			if stats.Claimed > 0 {
				log.Infof("[RetryWorker] Retried %d events: %d succeeded, %d rescheduled, %d failed",
					stats.Claimed, stats.Succeeded, stats.Rescheduled, stats.Failed)
			}
		}
	}
}

// sweepWorker periodically removes expired ledger rows
func (m *Manager) sweepWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[Retention] Started (interval: %v, retention: %v)", m.opts.SweepInterval, m.opts.Retention)

	for {
		select {
		case <-stopCh:
			log.Info("[Retention] Stopping")
			return
		case <-m.sweepTicker.C:
			n, err := m.RunSweepOnce(context.Background())
			if err != nil {
				log.Errorf("[Retention] Sweep failed after removing %d events: %v", n, err)
				continue
			}
			if n > 0 {
				log.Infof("[Retention] Removed %d expired processed events", n)
			}
		}
	}
}
