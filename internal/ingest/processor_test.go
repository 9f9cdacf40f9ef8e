package ingest

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/internal/queue"
	"github.com/clintrovert/ticketsync/internal/sheet"
	"github.com/clintrovert/ticketsync/pkg/types"
)

type fakeSource struct {
	mu         sync.Mutex
	files      []types.FileRef
	content    map[string]string
	listErr    error
	archiveErr map[string]error
	archived   []string
}

func (f *fakeSource) ListTicketFiles(ctx context.Context) ([]types.FileRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var remaining []types.FileRef
	for _, file := range f.files {
		if !contains(f.archived, file.ID) {
			remaining = append(remaining, file)
		}
	}
	return remaining, nil
}

func (f *fakeSource) ReadFileContent(ctx context.Context, file types.FileRef) ([]byte, error) {
	content, ok := f.content[file.ID]
	if !ok {
		return nil, errors.New("file vanished")
	}
	return []byte(content), nil
}

func (f *fakeSource) Archive(ctx context.Context, file types.FileRef) error {
	if err := f.archiveErr[file.ID]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, file.ID)
	return nil
}

func (f *fakeSource) archivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.archived)
}

type fakeCreator struct {
	ids  map[string]int
	fail map[string]bool
}

func (f *fakeCreator) Create(ctx context.Context, req *types.TicketRequest) (*types.WorkItemRecord, error) {
	if f.fail[req.Subject] {
		return nil, errors.New("project not found")
	}
	return &types.WorkItemRecord{
		ID:        f.ids[req.Subject],
		Subject:   req.Subject,
		CreatedAt: time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC),
		Project:   "facilities",
		Type:      req.Type,
	}, nil
}

type fakeSyncer struct {
	fail   bool
	synced []int
}

func (f *fakeSyncer) Sync(ctx context.Context, record types.WorkItemRecord) error {
	if f.fail {
		return errors.New("workbook locked")
	}
	f.synced = append(f.synced, record.ID)
	return nil
}

type fakeQueue struct {
	queued []int
}

func (f *fakeQueue) Enqueue(record types.WorkItemRecord, cause error) error {
	f.queued = append(f.queued, record.ID)
	return nil
}

type fakeNotifier struct {
	err   error
	chats []string
}

func (f *fakeNotifier) Notify(ctx context.Context, record types.WorkItemRecord, chatID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.chats = append(f.chats, chatID)
	return "msg", nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func ticketJSON(subject string) string {
	return `{"subject":"` + subject + `","projectName":"Facilities","priorityName":"High","assigneeName":"A. Tan"}`
}

func threeFiles() *fakeSource {
	return &fakeSource{
		files: []types.FileRef{
			{ID: "f1", Name: "one.json"},
			{ID: "f2", Name: "two.json"},
			{ID: "f3", Name: "three.json"},
		},
		content: map[string]string{
			"f1": ticketJSON("first"),
			"f2": ticketJSON("second"),
			"f3": ticketJSON("third"),
		},
	}
}

func threeCreator() *fakeCreator {
	return &fakeCreator{ids: map[string]int{"first": 1, "second": 2, "third": 3}}
}

func TestProcessor_RunCycle(t *testing.T) {
	source := threeFiles()
	source.content["f2"] = `{"subject":"second","projectName":"Facilities","assigneeName":"A. Tan","chatID":"chat-1"}`
	syncer := &fakeSyncer{}
	notifier := &fakeNotifier{}
	p := NewProcessor(source, threeCreator(), syncer, &fakeQueue{}, notifier, zap.NewNop())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 3, report.Archived)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []int{1, 2, 3}, syncer.synced)
	assert.Equal(t, []string{"chat-1"}, notifier.chats)
	assert.Equal(t, []string{"f1", "f2", "f3"}, source.archived)
}

func TestProcessor_FailureIsolation(t *testing.T) {
	source := threeFiles()
	creator := threeCreator()
	creator.fail = map[string]bool{"second": true}
	syncer := &fakeSyncer{}
	p := NewProcessor(source, creator, syncer, &fakeQueue{}, &fakeNotifier{}, zap.NewNop())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int{1, 3}, syncer.synced)
	assert.Equal(t, []string{"f1", "f3"}, source.archived, "failed file stays in the folder")
}

func TestProcessor_InvalidDocumentIsLeftInPlace(t *testing.T) {
	source := threeFiles()
	source.content["f1"] = `{"subject":"first"}`
	source.content["f3"] = `not json`
	p := NewProcessor(source, threeCreator(), &fakeSyncer{}, &fakeQueue{}, &fakeNotifier{}, zap.NewNop())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, []string{"f2"}, source.archived)
}

func TestProcessor_SyncFailureQueues(t *testing.T) {
	source := threeFiles()
	q := &fakeQueue{}
	p := NewProcessor(source, threeCreator(), &fakeSyncer{fail: true}, q, &fakeNotifier{}, zap.NewNop())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Queued)
	assert.Equal(t, 3, report.Archived)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []int{1, 2, 3}, q.queued)
}

func TestProcessor_NotifyFailureIsNotFatal(t *testing.T) {
	source := threeFiles()
	source.content["f1"] = `{"subject":"first","projectName":"Facilities","assigneeName":"A. Tan","chatID":"chat-1"}`
	notifier := &fakeNotifier{err: errors.New("forbidden")}
	p := NewProcessor(source, threeCreator(), &fakeSyncer{}, &fakeQueue{}, notifier, zap.NewNop())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Failed)
	assert.Equal(t, 3, report.Archived)
}

func TestProcessor_ArchiveFailure(t *testing.T) {
	source := threeFiles()
	source.archiveErr = map[string]error{"f1": errors.New("conflict")}
	p := NewProcessor(source, threeCreator(), &fakeSyncer{}, &fakeQueue{}, &fakeNotifier{}, zap.NewNop())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Archived)
}

func TestProcessor_ArchiveFailureCountedOnce(t *testing.T) {
	created := testutil.ToFloat64(metrics.TicketsProcessed.WithLabelValues("created"))
	failed := testutil.ToFloat64(metrics.TicketsProcessed.WithLabelValues("failed"))

	source := threeFiles()
	source.archiveErr = map[string]error{"f2": errors.New("conflict")}
	p := NewProcessor(source, threeCreator(), &fakeSyncer{}, &fakeQueue{}, &fakeNotifier{}, zap.NewNop())

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, created+2, testutil.ToFloat64(metrics.TicketsProcessed.WithLabelValues("created")))
	assert.Equal(t, failed+1, testutil.ToFloat64(metrics.TicketsProcessed.WithLabelValues("failed")))
}

func TestProcessor_ListFailure(t *testing.T) {
	source := &fakeSource{listErr: errors.New("unauthorized")}
	p := NewProcessor(source, threeCreator(), &fakeSyncer{}, &fakeQueue{}, &fakeNotifier{}, zap.NewNop())

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestParseTicket(t *testing.T) {
	req, err := ParseTicket([]byte(`{
		"subject": "Printer broken",
		"projectName": "Facilities",
		"priorityName": "High",
		"assigneeName": "A. Tan",
		"attachments": [{"id": "a1", "name": "photo.png"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTicketType, req.Type)
	assert.Equal(t, []types.AttachmentRef{{ID: "a1", Name: "photo.png"}}, req.Attachments)

	_, err = ParseTicket([]byte(`{"subject":"x","projectName":"p","assigneeName":"a","attachments":[{"id":""}]}`))
	assert.Error(t, err)
}

// workbookStore keeps the workbook in memory and can be made to report a lock
type workbookStore struct {
	content []byte
	locked  bool
}

func (s *workbookStore) Fetch(ctx context.Context) (*sheet.Document, error) {
	if s.content == nil {
		return nil, sheet.ErrNotFound
	}
	return &sheet.Document{ItemID: "wb", Content: s.content}, nil
}

func (s *workbookStore) Create(ctx context.Context, content []byte) error {
	return s.Replace(ctx, "wb", content)
}

func (s *workbookStore) Replace(ctx context.Context, itemID string, content []byte) error {
	if s.locked {
		return sheet.ErrLocked
	}
	s.content = append([]byte(nil), content...)
	return nil
}

func (s *workbookStore) rows(t *testing.T) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(s.content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(types.DefaultTicketType)
	require.NoError(t, err)
	return rows
}

func TestProcessor_PrinterBrokenScenario(t *testing.T) {
	store := &workbookStore{}
	synchronizer := sheet.NewSynchronizer(store, sheet.Options{
		OpenProjectURL: "https://op.example.com",
		LockRetries:    5,
	}, zap.NewNop())

	q := queue.Open(filepath.Join(t.TempDir(), "queue.json"), queue.Options{}, zap.NewNop())

	source := &fakeSource{
		files:   []types.FileRef{{ID: "f1", Name: "printer.json"}},
		content: map[string]string{"f1": ticketJSON("Printer broken")},
	}
	creator := &fakeCreator{ids: map[string]int{"Printer broken": 42}}
	p := NewProcessor(source, creator, synchronizer, q, &fakeNotifier{}, zap.NewNop())

	// First run while the workbook is locked: the record is queued.
	store.locked = true
	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	require.Len(t, q.Pending(), 1)

	// Lock clears and the drain converges.
	store.locked = false
	drained, err := q.DrainOnce(context.Background(), synchronizer)
	require.NoError(t, err)
	assert.Equal(t, 1, drained.Synced)
	assert.Empty(t, q.Pending())

	rows := store.rows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"42", "Printer broken", "01/03/2025, 10:00:00", "WP#42"}, rows[1])

	// Re-running the same unarchived file must not duplicate the row.
	source.archived = nil
	_, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.rows(t), 2)
}

func TestPoller_Serve(t *testing.T) {
	source := threeFiles()
	p := NewProcessor(source, threeCreator(), &fakeSyncer{}, &fakeQueue{}, &fakeNotifier{}, zap.NewNop())
	poller := NewPoller(p, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return source.archivedCount() == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
