package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Drainer retries queued workbook updates on a fixed interval
type Drainer struct {
	queue    *Queue
	syncer   Syncer
	interval time.Duration
	logger   *zap.Logger
}

// NewDrainer creates a new drainer
func NewDrainer(queue *Queue, syncer Syncer, interval time.Duration, logger *zap.Logger) *Drainer {
	return &Drainer{
		queue:    queue,
		syncer:   syncer,
		interval: interval,
		logger:   logger,
	}
}

// Serve drains the queue every interval until ctx is done
func (d *Drainer) Serve(ctx context.Context) error {
	d.logger.Info("starting queue drainer", zap.Duration("interval", d.interval))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("stopping queue drainer")
			return ctx.Err()
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// String names the service for the supervisor
func (d *Drainer) String() string {
	return "queue-drainer"
}

func (d *Drainer) drain(ctx context.Context) {
	if len(d.queue.Pending()) == 0 {
		return
	}

	report, err := d.DrainNow(ctx)
	if err != nil {
		d.logger.Error("failed to persist queue after drain", zap.Error(err))
	}
	d.logger.Info("drained update queue",
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Int("dead_lettered", report.DeadLettered),
		zap.Int("remaining", report.Remaining),
	)
}

// DrainNow runs one drain pass outside the schedule
func (d *Drainer) DrainNow(ctx context.Context) (DrainReport, error) {
	return d.queue.DrainOnce(ctx, d.syncer)
}
