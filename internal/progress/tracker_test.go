package progress

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"neptuneload/internal/loader"
	"neptuneload/internal/signer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTrackerRates(t *testing.T) {
	clock := &fakeClock{t: time.Date(2021, 7, 1, 3, 53, 10, 0, time.UTC)}
	tr := newTracker(clock.now)

	clock.t = clock.t.Add(10 * time.Second)
	tr.ObserveStatus("load-1", &loader.BulkLoadStatus{Status: loader.StatusInProgress, TotalRecords: 1000})

	s := tr.GetStatus()
	assert.Equal(t, 1, s.Polls)
	assert.Equal(t, 0.0, s.CurrentRate)
	assert.InDelta(t, 100.0, s.AverageRate, 0.001)

	clock.t = clock.t.Add(5 * time.Second)
	tr.ObserveStatus("load-1", &loader.BulkLoadStatus{
		Status:        loader.StatusCompleted,
		TotalRecords:  3000,
		ParsingErrors: 2,
		InsertErrors:  1,
	})

	s = tr.GetStatus()
	assert.Equal(t, "load-1", s.LoadID)
	assert.Equal(t, loader.StatusCompleted, s.LoadStatus)
	assert.Equal(t, 2, s.Polls)
	assert.Equal(t, int64(3), s.Errors)
	assert.InDelta(t, 400.0, s.CurrentRate, 0.001)
	assert.InDelta(t, 200.0, s.AverageRate, 0.001)
	assert.Equal(t, 15*time.Second, tr.Elapsed())
}

func TestTrackerCountsRequests(t *testing.T) {
	tr := NewTracker()
	tr.ObserveRequest(signer.CategoryBulkLoader, http.MethodGet, 200, time.Millisecond)
	tr.ObserveRequest(signer.CategoryBulkLoader, http.MethodPost, 500, time.Millisecond)
	assert.Equal(t, 2, tr.GetStatus().Requests)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "12.5 rec/s", FormatRate(12.5))
	assert.Equal(t, "2.5k rec/s", FormatRate(2500))
	assert.Equal(t, "3.0M rec/s", FormatRate(3e6))

	assert.Equal(t, "999", FormatCount(999))
	assert.Equal(t, "1.5k", FormatCount(1500))
	assert.Equal(t, "2.0M", FormatCount(2_000_000))

	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "1m5s", FormatDuration(65*time.Second))
	assert.Equal(t, "2h0m1s", FormatDuration(2*time.Hour+time.Second))
}

func TestLineAndSummary(t *testing.T) {
	assert.Equal(t, "waiting for first status (3s)", Line(Status{}, 3*time.Second))

	s := Status{
		LoadID:       "load-1",
		LoadStatus:   loader.StatusInProgress,
		TotalRecords: 1500,
		Errors:       2,
		Polls:        1,
		CurrentRate:  10,
		AverageRate:  5,
	}
	assert.Equal(t, "load-1 LOAD_IN_PROGRESS: 1.5k records, 2 errors, 10.0 rec/s (avg 5.0 rec/s), 1m0s elapsed",
		Line(s, time.Minute))

	s.LoadStatus = loader.StatusCompleted
	s.TotalDuplicates = 4
	assert.Equal(t, "load-1 finished as LOAD_COMPLETED: 1500 records, 4 duplicates, 2 errors in 1m0s (1 polls, 5.0 rec/s)",
		Summary(s, time.Minute))
}

func TestDisplayStopPrintsSummary(t *testing.T) {
	tr := NewTracker()
	tr.ObserveStatus("load-1", &loader.BulkLoadStatus{Status: loader.StatusCompleted, TotalRecords: 7})

	var buf bytes.Buffer
	d := NewDisplay(tr, &buf, time.Hour)
	d.Start()
	d.Stop()
	d.Stop()

	require.Contains(t, buf.String(), "load-1 finished as LOAD_COMPLETED: 7 records")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
}
