package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/pkg/types"
)

// Source lists, reads and archives ticket files
type Source interface {
	ListTicketFiles(ctx context.Context) ([]types.FileRef, error)
	ReadFileContent(ctx context.Context, file types.FileRef) ([]byte, error)
	Archive(ctx context.Context, file types.FileRef) error
}

// Creator creates a work item from a ticket request
type Creator interface {
	Create(ctx context.Context, req *types.TicketRequest) (*types.WorkItemRecord, error)
}

// Syncer records a work item in the history workbook
type Syncer interface {
	Sync(ctx context.Context, record types.WorkItemRecord) error
}

// Enqueuer keeps a record for a later workbook retry
type Enqueuer interface {
	Enqueue(record types.WorkItemRecord, cause error) error
}

// Notifier announces a work item in a chat
type Notifier interface {
	Notify(ctx context.Context, record types.WorkItemRecord, chatID string) (string, error)
}

// CycleReport summarizes one ingestion cycle
type CycleReport struct {
	ID       string
	Files    int
	Created  int
	Queued   int
	Archived int
	Failed   int
}

// Processor runs ingestion cycles over the ticket folder
type Processor struct {
	source   Source
	creator  Creator
	syncer   Syncer
	queue    Enqueuer
	notifier Notifier
	logger   *zap.Logger
}

// NewProcessor creates a new processor
func NewProcessor(
	source Source,
	creator Creator,
	syncer Syncer,
	queue Enqueuer,
	notifier Notifier,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		source:   source,
		creator:  creator,
		syncer:   syncer,
		queue:    queue,
		notifier: notifier,
		logger:   logger,
	}
}

// RunCycle processes every ticket file currently in the folder, one at a
// time. A failing file is logged and left in place; the cycle carries on.
// The returned error is only set when the folder could not be listed.
func (p *Processor) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	report := CycleReport{ID: uuid.NewString()}
	logger := p.logger.With(zap.String("cycle_id", report.ID))

	files, err := p.source.ListTicketFiles(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list ticket files: %w", err)
	}
	report.Files = len(files)

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}

		fileLogger := logger.With(zap.String("file", file.Name))
		if err := p.processFile(ctx, fileLogger, file, &report); err != nil {
			report.Failed++
			metrics.TicketsProcessed.WithLabelValues("failed").Inc()
			fileLogger.Error("failed to process ticket file", zap.Error(err))
		}
	}

	if report.Files > 0 {
		logger.Info("ingestion cycle complete",
			zap.Int("files", report.Files),
			zap.Int("created", report.Created),
			zap.Int("queued", report.Queued),
			zap.Int("archived", report.Archived),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// processFile takes one file through read, parse, create, sync, notify
// and archive
func (p *Processor) processFile(ctx context.Context, logger *zap.Logger, file types.FileRef, report *CycleReport) error {
	content, err := p.source.ReadFileContent(ctx, file)
	if err != nil {
		return err
	}

	req, err := ParseTicket(content)
	if err != nil {
		return err
	}

	record, err := p.creator.Create(ctx, req)
	if err != nil {
		return err
	}
	report.Created++
	logger = logger.With(zap.Int("work_item_id", record.ID))
	logger.Info("created work item", zap.String("subject", record.Subject))

	outcome := "created"
	if err := p.syncer.Sync(ctx, *record); err != nil {
		logger.Warn("workbook update failed, queueing for retry", zap.Error(err))
		if qerr := p.queue.Enqueue(*record, err); qerr != nil {
			logger.Error("failed to persist queued update", zap.Error(qerr))
		}
		report.Queued++
		outcome = "queued"
	}

	if req.ChatID != "" {
		if _, err := p.notifier.Notify(ctx, *record, req.ChatID); err != nil {
			logger.Error("failed to post notification", zap.Error(err))
		}
	}

	if err := p.source.Archive(ctx, file); err != nil {
		return fmt.Errorf("failed to archive ticket file: %w", err)
	}
	metrics.TicketsProcessed.WithLabelValues(outcome).Inc()
	report.Archived++
	logger.Info("archived ticket file")
	return nil
}
