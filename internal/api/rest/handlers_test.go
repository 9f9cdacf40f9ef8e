package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/queue"
	"github.com/clintrovert/ticketsync/pkg/types"
)

type fakeQueue struct {
	pending []types.PendingUpdate
	dead    []types.PendingUpdate
}

func (f *fakeQueue) Pending() []types.PendingUpdate     { return f.pending }
func (f *fakeQueue) DeadLetters() []types.PendingUpdate { return f.dead }

type fakeDrainer struct {
	report queue.DrainReport
	err    error
}

func (f *fakeDrainer) DrainNow(ctx context.Context) (queue.DrainReport, error) {
	return f.report, f.err
}

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls++
	return f.err
}

func newTestRouter(q *fakeQueue, d *fakeDrainer, r *fakeRefresher) http.Handler {
	return NewRouter(NewHandler(q, d, r, zap.NewNop()))
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandler_ListQueue(t *testing.T) {
	q := &fakeQueue{pending: []types.PendingUpdate{
		{WorkItemRecord: types.WorkItemRecord{ID: 42, Subject: "Printer broken"}, Attempts: 3},
	}}
	rec := serve(t, newTestRouter(q, &fakeDrainer{}, &fakeRefresher{}), http.MethodGet, "/api/v1/queue")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 42, resp.Entries[0].ID)
	assert.Equal(t, 3, resp.Entries[0].Attempts)
}

func TestHandler_ListDeadLettersEmpty(t *testing.T) {
	rec := serve(t, newTestRouter(&fakeQueue{}, &fakeDrainer{}, &fakeRefresher{}), http.MethodGet, "/api/v1/queue/dead-letters")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"entries":[]}`, rec.Body.String())
}

func TestHandler_DrainQueue(t *testing.T) {
	d := &fakeDrainer{report: queue.DrainReport{Synced: 2, Remaining: 1, Failed: 1}}
	rec := serve(t, newTestRouter(&fakeQueue{}, d, &fakeRefresher{}), http.MethodPost, "/api/v1/queue/drain")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"synced":2,"failed":1,"dead_lettered":0,"remaining":1}`, rec.Body.String())
}

func TestHandler_DrainQueueError(t *testing.T) {
	d := &fakeDrainer{err: errors.New("disk full")}
	rec := serve(t, newTestRouter(&fakeQueue{}, d, &fakeRefresher{}), http.MethodPost, "/api/v1/queue/drain")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}

func TestHandler_RefreshLookup(t *testing.T) {
	r := &fakeRefresher{}
	rec := serve(t, newTestRouter(&fakeQueue{}, &fakeDrainer{}, r), http.MethodPost, "/api/v1/lookup/refresh")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("openproject down")
	rec = serve(t, newTestRouter(&fakeQueue{}, &fakeDrainer{}, r), http.MethodPost, "/api/v1/lookup/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router := newTestRouter(&fakeQueue{}, &fakeDrainer{}, &fakeRefresher{})

	assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/health").Code)

	rec := serve(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
