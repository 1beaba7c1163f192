package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"neptuneload/internal/loader"
	"neptuneload/internal/signer"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	c := New()

	c.ObserveRequest(signer.CategoryBulkLoader, http.MethodGet, 200, 10*time.Millisecond)
	c.ObserveRequest(signer.CategoryBulkLoader, http.MethodGet, 200, 20*time.Millisecond)
	c.ObserveRequest(signer.CategorySystemAdmin, http.MethodPost, 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("loader", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("system", "POST", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.requestDuration))
}

func TestObserveStatus(t *testing.T) {
	c := New()

	c.ObserveStatus("load-1", &loader.BulkLoadStatus{
		Status:        loader.StatusInProgress,
		TotalRecords:  500,
		ParsingErrors: 3,
	})
	c.ObserveStatus("load-1", &loader.BulkLoadStatus{
		Status:       loader.StatusInProgress,
		TotalRecords: 700,
		InsertErrors: 1,
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollsTotal.WithLabelValues("LOAD_IN_PROGRESS")))
	assert.Equal(t, 700.0, testutil.ToFloat64(c.records.WithLabelValues("load-1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.loadErrors.WithLabelValues("load-1", "parsing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadErrors.WithLabelValues("load-1", "insert")))
}

func TestFinishedLoadDropsPerLoadSeries(t *testing.T) {
	c := New()
	running := &loader.BulkLoadStatus{Status: loader.StatusInProgress, TotalRecords: 500, ParsingErrors: 3}
	done := &loader.BulkLoadStatus{Status: loader.StatusCompleted, TotalRecords: 900}

	c.ObserveStatus("load-1", running)
	c.ObserveStatus("load-2", running)
	assert.Equal(t, 2, testutil.CollectAndCount(c.records))
	assert.Equal(t, 6, testutil.CollectAndCount(c.loadErrors))

	c.ObserveStatus("load-1", done)
	c.ObserveStatus("load-1", done)

	assert.Equal(t, 1, testutil.CollectAndCount(c.records))
	assert.Equal(t, 3, testutil.CollectAndCount(c.loadErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollsTotal.WithLabelValues("LOAD_COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loadsFinished.WithLabelValues("LOAD_COMPLETED")))
	assert.Equal(t, 900.0, testutil.ToFloat64(c.recordsLoaded))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), `load_id="load-1"`)
	assert.Contains(t, rec.Body.String(), `load_id="load-2"`)
}

func TestOutcomesAndInflight(t *testing.T) {
	c := New()

	c.IncOutcome("cancel", nil)
	c.IncOutcome("cancel", errors.New("boom"))
	c.IncOutcome("cancel", nil)
	c.SetInflightTasks(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.outcomesTotal.WithLabelValues("cancel", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outcomesTotal.WithLabelValues("cancel", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.tasksInflight))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncOutcome("refresh", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.outcomesTotal.WithLabelValues("refresh", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.outcomesTotal.WithLabelValues("refresh", "success")))
}

func TestHandler(t *testing.T) {
	c := New()
	c.ObserveRequest(signer.CategoryStatus, http.MethodGet, 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `neptuneload_requests_total{category="status",code="200",method="GET"} 1`)
}
