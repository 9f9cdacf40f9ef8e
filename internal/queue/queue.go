package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/pkg/types"
)

// Syncer merges a record into the history workbook
type Syncer interface {
	Sync(ctx context.Context, record types.WorkItemRecord) error
}

// PersistenceError means a snapshot could not be read or written. The
// in-memory state stays authoritative until the next successful write.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist queue snapshot %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Options configures dead-lettering
type Options struct {
	DeadLetterPath string
	// MaxAttempts moves an entry to the dead-letter file once it has failed
	// this many drains. Zero keeps entries forever.
	MaxAttempts int
}

// DrainReport summarizes one drain pass
type DrainReport struct {
	Synced       int
	Failed       int
	DeadLettered int
	Remaining    int
}

// Queue is a set of pending workbook updates keyed by work item id,
// mirrored to a JSON snapshot file
type Queue struct {
	path   string
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	// mu guards entries, dead and every snapshot write.
	mu      sync.Mutex
	entries []types.PendingUpdate
	dead    []types.PendingUpdate

	// drainMu keeps drains from overlapping.
	drainMu sync.Mutex
}

// Open loads the queue snapshot at path. A missing snapshot is created
// empty; a malformed one is preserved beside the original and the queue
// starts empty. Storage failures are logged and the queue runs from memory;
// later writes report them again as PersistenceError.
func Open(path string, opts Options, logger *zap.Logger) *Queue {
	q := &Queue{
		path:   path,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}

	if err := q.load(); err != nil {
		metrics.QueuePersistErrors.Inc()
		logger.Error("failed to load update queue, starting empty",
			zap.String("path", path),
			zap.Error(err),
		)
	}

	q.updateGauges()
	logger.Info("opened update queue",
		zap.String("path", path),
		zap.Int("pending", len(q.entries)),
		zap.Int("dead_letters", len(q.dead)),
	)
	return q
}

// load reads both snapshots, creating an empty live snapshot when missing
func (q *Queue) load() error {
	var errs []error

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		errs = append(errs, &PersistenceError{Path: q.path, Err: err})
	}

	entries, err := q.read(q.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeAtomic(q.path, []types.PendingUpdate{}); err != nil {
			errs = append(errs, &PersistenceError{Path: q.path, Err: err})
		}
	case err != nil:
		errs = append(errs, err)
	default:
		q.entries = entries
	}

	if q.opts.DeadLetterPath != "" {
		dead, err := q.read(q.opts.DeadLetterPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		q.dead = dead
	}

	return errors.Join(errs...)
}

// read decodes a snapshot file. Malformed content is logged, copied to a
// .corrupt sibling and treated as empty.
func (q *Queue) read(path string) ([]types.PendingUpdate, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []types.PendingUpdate
	if err := json.Unmarshal(data, &entries); err != nil {
		q.logger.Error("queue snapshot is malformed, starting empty",
			zap.String("path", path),
			zap.Error(err),
		)
		if werr := os.WriteFile(path+".corrupt", data, 0o644); werr != nil {
			q.logger.Error("failed to preserve malformed snapshot", zap.Error(werr))
		}
		return nil, nil
	}
	return entries, nil
}

// Enqueue adds record unless its id is already pending, then persists
func (q *Queue) Enqueue(record types.WorkItemRecord, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.ID == record.ID {
			return nil
		}
	}

	entry := types.PendingUpdate{
		WorkItemRecord: record,
		EnqueuedAt:     q.now().UTC(),
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	q.entries = append(q.entries, entry)
	q.updateGauges()

	q.logger.Info("queued workbook update",
		zap.Int("work_item_id", record.ID),
		zap.Int("pending", len(q.entries)),
	)
	return q.persist()
}

// DrainOnce syncs every pending entry once. Synced entries are removed;
// failed ones stay with their attempt count raised. The snapshot is only
// rewritten when an entry left the live set.
func (q *Queue) DrainOnce(ctx context.Context, syncer Syncer) (DrainReport, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	pending := q.Pending()
	var report DrainReport

	synced := make(map[int]bool)
	failed := make(map[int]error)
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}

		if err := syncer.Sync(ctx, entry.WorkItemRecord); err != nil {
			failed[entry.ID] = err
			q.logger.Warn("queued workbook update failed",
				zap.Int("work_item_id", entry.ID),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err),
			)
			continue
		}
		synced[entry.ID] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	live := make([]types.PendingUpdate, 0, len(q.entries))
	var moved []types.PendingUpdate
	for _, e := range q.entries {
		if synced[e.ID] {
			report.Synced++
			continue
		}
		if err, ok := failed[e.ID]; ok {
			report.Failed++
			e.Attempts++
			e.LastError = err.Error()
			if q.opts.MaxAttempts > 0 && e.Attempts >= q.opts.MaxAttempts {
				moved = append(moved, e)
				continue
			}
		}
		live = append(live, e)
	}
	q.entries = live
	report.DeadLettered = len(moved)
	report.Remaining = len(live)

	if len(moved) > 0 {
		for _, e := range moved {
			q.logger.Error("giving up on workbook update",
				zap.Int("work_item_id", e.ID),
				zap.Int("attempts", e.Attempts),
				zap.String("last_error", e.LastError),
			)
		}
		q.dead = append(q.dead, moved...)
	}
	q.updateGauges()

	if report.Synced+report.DeadLettered == 0 {
		return report, nil
	}

	var errs []error
	if len(moved) > 0 && q.opts.DeadLetterPath != "" {
		if err := writeAtomic(q.opts.DeadLetterPath, q.dead); err != nil {
			metrics.QueuePersistErrors.Inc()
			errs = append(errs, &PersistenceError{Path: q.opts.DeadLetterPath, Err: err})
		}
	}
	if err := q.persist(); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// Pending returns a copy of the live entries
func (q *Queue) Pending() []types.PendingUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]types.PendingUpdate(nil), q.entries...)
}

// DeadLetters returns a copy of the abandoned entries
func (q *Queue) DeadLetters() []types.PendingUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]types.PendingUpdate(nil), q.dead...)
}

// Close flushes the live set to disk
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persist()
}

// persist writes the live set. Callers hold mu.
func (q *Queue) persist() error {
	if err := writeAtomic(q.path, q.entries); err != nil {
		metrics.QueuePersistErrors.Inc()
		q.logger.Error("failed to persist update queue",
			zap.String("path", q.path),
			zap.Error(err),
		)
		return &PersistenceError{Path: q.path, Err: err}
	}
	return nil
}

func (q *Queue) updateGauges() {
	metrics.QueueDepth.Set(float64(len(q.entries)))
	metrics.DeadLetters.Set(float64(len(q.dead)))
}

// writeAtomic replaces path with the JSON encoding of entries
func writeAtomic(path string, entries []types.PendingUpdate) error {
	if entries == nil {
		entries = []types.PendingUpdate{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
