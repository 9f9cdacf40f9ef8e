package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller runs ingestion cycles on a fixed interval
type Poller struct {
	processor *Processor
	interval  time.Duration
	logger    *zap.Logger
}

// NewPoller creates a new ticket folder poller
func NewPoller(processor *Processor, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		processor: processor,
		interval:  interval,
		logger:    logger,
	}
}

// Serve runs an initial cycle and then one per interval until ctx is done.
// A cycle always finishes before the next one starts.
func (p *Poller) Serve(ctx context.Context) error {
	p.logger.Info("starting ticket poller", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping ticket poller")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// String names the service for the supervisor
func (p *Poller) String() string {
	return "ticket-poller"
}

// poll performs a single cycle
func (p *Poller) poll(ctx context.Context) {
	if _, err := p.processor.RunCycle(ctx); err != nil {
		p.logger.Error("ingestion cycle failed", zap.Error(err))
	}
}
