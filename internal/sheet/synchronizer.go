package sheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/internal/openproject"
	"github.com/clintrovert/ticketsync/pkg/types"
)

const (
	defaultSheet = "Sheet1"
	linkColor    = "0563C1"
)

var (
	headers      = []any{"ID", "Subject", "Created on", "Link"}
	columnWidths = map[string]float64{"A": 10, "B": 50, "C": 20, "D": 50}
)

// Options configures how rows are written and uploaded
type Options struct {
	OpenProjectURL string
	Location       *time.Location
	LockRetries    int
	LockRetryDelay time.Duration
}

// Synchronizer merges work item records into the history workbook
type Synchronizer struct {
	store  Store
	opts   Options
	logger *zap.Logger

	// mu serializes read-modify-write cycles on the document.
	mu sync.Mutex
}

// NewSynchronizer creates a new synchronizer
func NewSynchronizer(store Store, opts Options, logger *zap.Logger) *Synchronizer {
	if opts.Location == nil {
		opts.Location = types.LoadLocation("")
	}
	if opts.LockRetries < 1 {
		opts.LockRetries = 1
	}

	return &Synchronizer{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Sync appends record to its worksheet unless a row with its id exists
func (s *Synchronizer) Sync(ctx context.Context, record types.WorkItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appended, err := s.sync(ctx, record)
	switch {
	case err != nil:
		metrics.SheetSyncs.WithLabelValues("failed").Inc()
	case appended:
		metrics.SheetSyncs.WithLabelValues("appended").Inc()
	default:
		metrics.SheetSyncs.WithLabelValues("duplicate").Inc()
	}
	return err
}

func (s *Synchronizer) sync(ctx context.Context, record types.WorkItemRecord) (bool, error) {
	fail := func(op string, err error) (bool, error) {
		return false, &SyncError{ID: record.ID, Op: op, Err: err}
	}

	var (
		f      *excelize.File
		itemID string
		create bool
	)

	doc, err := s.store.Fetch(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		create = true
		f = excelize.NewFile()
	case err != nil:
		return fail("fetch", err)
	default:
		itemID = doc.ItemID
		f, err = excelize.OpenReader(bytes.NewReader(doc.Content))
		if err != nil {
			return fail("open", err)
		}
	}
	defer f.Close()

	name := record.Worksheet()
	if err := ensureSheet(f, name); err != nil {
		return fail("worksheet", err)
	}

	exists, next, err := findRow(f, name, record.ID)
	if err != nil {
		return fail("scan", err)
	}
	if exists {
		s.logger.Debug("work item already in workbook",
			zap.Int("work_item_id", record.ID),
			zap.String("worksheet", name),
		)
		return false, nil
	}

	if err := s.appendRow(f, name, next, record); err != nil {
		return fail("append", err)
	}

	if create && name != defaultSheet {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return fail("worksheet", err)
		}
	}
	if idx, err := f.GetSheetIndex(name); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fail("serialize", err)
	}

	if err := s.upload(ctx, create, itemID, buf.Bytes()); err != nil {
		return fail("upload", err)
	}

	s.logger.Info("work item added to workbook",
		zap.Int("work_item_id", record.ID),
		zap.String("worksheet", name),
		zap.Int("row", next),
		zap.Bool("created", create),
	)
	return true, nil
}

// upload writes the workbook, retrying only while it is locked
func (s *Synchronizer) upload(ctx context.Context, create bool, itemID string, content []byte) error {
	var err error
	for attempt := 1; ; attempt++ {
		if create {
			err = s.store.Create(ctx, content)
		} else {
			err = s.store.Replace(ctx, itemID, content)
		}
		if err == nil || !errors.Is(err, ErrLocked) {
			return err
		}
		if attempt >= s.opts.LockRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		metrics.SheetLockRetries.Inc()
		s.logger.Warn("workbook locked, retrying upload",
			zap.Int("attempt", attempt),
			zap.Duration("delay", s.opts.LockRetryDelay),
		)

		timer := time.NewTimer(s.opts.LockRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Synchronizer) appendRow(f *excelize.File, name string, row int, record types.WorkItemRecord) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}

	display := fmt.Sprintf("WP#%d", record.ID)
	values := []any{
		record.ID,
		record.Subject,
		record.CreatedAt.In(s.opts.Location).Format(types.DisplayLayout),
		display,
	}
	if err := f.SetSheetRow(name, cell, &values); err != nil {
		return err
	}

	linkCell, err := excelize.CoordinatesToCellName(4, row)
	if err != nil {
		return err
	}

	link := openproject.WorkPackageURL(s.opts.OpenProjectURL, record.Project, record.ID)
	if err := f.SetCellHyperLink(name, linkCell, link, "External", excelize.HyperlinkOpts{
		Display: &display,
		Tooltip: &link,
	}); err != nil {
		return err
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: linkColor, Underline: "single"},
	})
	if err != nil {
		return err
	}
	return f.SetCellStyle(name, linkCell, linkCell, style)
}

// ensureSheet creates the worksheet with its header row when missing
func ensureSheet(f *excelize.File, name string) error {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx >= 0 {
		return nil
	}

	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	if err := f.SetSheetRow(name, "A1", &headers); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", "D1", bold); err != nil {
		return err
	}

	for col, width := range columnWidths {
		if err := f.SetColWidth(name, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

// findRow reports whether a data row carries id, and the first free row
func findRow(f *excelize.File, name string, id int) (bool, int, error) {
	rows, err := f.GetRows(name)
	if err != nil {
		return false, 0, err
	}

	want := strconv.Itoa(id)
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if strings.TrimSpace(row[0]) == want {
			return true, i + 1, nil
		}
	}

	next := len(rows) + 1
	if next < 2 {
		next = 2
	}
	return false, next, nil
}
