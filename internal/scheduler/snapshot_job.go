package scheduler

import (
	"context"
	"time"

	"github.com/lclpedro/hyperhook/internal/ports"
)

// SnapshotTaker captures account snapshots for every known owner.
type SnapshotTaker interface {
	SnapshotAll(ctx context.Context) (int, error)
}

// SnapshotJob snapshots all owners on each run.
type SnapshotJob struct {
	snapshots SnapshotTaker
	timeout   time.Duration
	logger    ports.Logger
}

// NewSnapshotJob creates a SnapshotJob. A non-positive timeout defaults to one minute.
func NewSnapshotJob(snapshots SnapshotTaker, timeout time.Duration, logger ports.Logger) *SnapshotJob {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &SnapshotJob{snapshots: snapshots, timeout: timeout, logger: logger}
}

// Name implements Job.
func (j *SnapshotJob) Name() string { return "account_snapshots" }

// Run implements Job.
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.snapshots.SnapshotAll(ctx)
	j.logger.Info(ctx, "Account snapshots taken", map[string]interface{}{"count": n})
	return err
}
