package progress

import (
	"fmt"
	"sync"
	"time"

	"neptuneload/internal/loader"
	"neptuneload/internal/signer"
)

// Status represents the current progress of one load
type Status struct {
	LoadID          string
	LoadStatus      loader.LoadStatus
	TotalRecords    int64
	TotalDuplicates int64
	Errors          int64
	Polls           int
	Requests        int
	StartTime       time.Time
	LastUpdateTime  time.Time
	CurrentRate     float64 // records/second between the last two polls
	AverageRate     float64 // records/second since tracking started
}

// Tracker follows the status documents of a load. It implements
// loader.Observer so it can be registered on a client.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		now: now,
	}
}

// ObserveRequest counts requests.
func (t *Tracker) ObserveRequest(signer.Category, string, int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Requests++
}

// ObserveStatus records a polled status and updates the rates.
func (t *Tracker) ObserveStatus(loadID string, s *loader.BulkLoadStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	prev := t.status

	t.status.LoadID = loadID
	t.status.LoadStatus = s.Status
	t.status.TotalRecords = s.TotalRecords
	t.status.TotalDuplicates = s.TotalDuplicates
	t.status.Errors = s.ParsingErrors + s.DatatypeMismatchErrors + s.InsertErrors
	t.status.Polls++
	t.status.LastUpdateTime = now

	if dt := now.Sub(prev.LastUpdateTime); prev.Polls > 0 && dt > 0 {
		t.status.CurrentRate = float64(s.TotalRecords-prev.TotalRecords) / dt.Seconds()
	}
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageRate = float64(s.TotalRecords) / elapsed.Seconds()
	}
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// Elapsed returns the time since tracking started.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.now().Sub(t.status.StartTime)
}

// FormatRate formats a record rate in human readable format
func FormatRate(recordsPerSecond float64) string {
	switch {
	case recordsPerSecond < 1000:
		return fmt.Sprintf("%.1f rec/s", recordsPerSecond)
	case recordsPerSecond < 1000*1000:
		return fmt.Sprintf("%.1fk rec/s", recordsPerSecond/1000)
	default:
		return fmt.Sprintf("%.1fM rec/s", recordsPerSecond/(1000*1000))
	}
}

// FormatCount formats a record count in human readable format
func FormatCount(n int64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 1000*1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/(1000*1000))
	}
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
