package jobqueue

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/PayFox/app/repository"
)

// RunSweepOnce deletes processed events older than the retention period in
// batches. With an archiver, a batch is only deleted after it was archived.
func (m *Manager) RunSweepOnce(ctx context.Context) (int64, error) {
	cutoff := m.opts.Now().Add(-m.opts.Retention)
	repo := repository.NewProcessedEventRepository(m.db.WithContext(ctx))

	var total int64
	for {
		batch, err := repo.ListOlderThan(cutoff, m.opts.SweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("list expired processed events: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		if m.archiver != nil {
			if err := m.archiver.Archive(ctx, batch); err != nil {
				return total, fmt.Errorf("archive processed events: %w", err)
			}
		}

		ids := make([]uint, 0, len(batch))
		for _, ev := range batch {
			ids = append(ids, ev.ID)
		}
		n, err := repo.DeleteByIDs(ids)
		if err != nil {
			return total, fmt.Errorf("delete processed events: %w", err)
		}
		total += n

		if len(batch) < m.opts.SweepBatchSize {
			return total, nil
		}
	}
}
