package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Display renders a single progress line for a tracked load.
type Display struct {
	tracker  *Tracker
	out      io.Writer
	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to out.
func NewDisplay(tracker *Tracker, out io.Writer, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		out:      out,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and prints the final summary. It waits for the
// display loop to exit.
func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.done
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(d.out, "\r\033[K%s", Line(d.tracker.GetStatus(), d.tracker.Elapsed()))
		case <-d.stopCh:
			fmt.Fprintf(d.out, "\r\033[K%s\n", Summary(d.tracker.GetStatus(), d.tracker.Elapsed()))
			return
		}
	}
}

// Line renders the in-progress line.
func Line(s Status, elapsed time.Duration) string {
	if s.Polls == 0 {
		return fmt.Sprintf("waiting for first status (%s)", FormatDuration(elapsed))
	}
	return fmt.Sprintf("%s %s: %s records, %d errors, %s (avg %s), %s elapsed",
		s.LoadID, s.LoadStatus, FormatCount(s.TotalRecords), s.Errors,
		FormatRate(s.CurrentRate), FormatRate(s.AverageRate), FormatDuration(elapsed))
}

// Summary renders the final line.
func Summary(s Status, elapsed time.Duration) string {
	if s.Polls == 0 {
		return fmt.Sprintf("no status received after %s", FormatDuration(elapsed))
	}
	return fmt.Sprintf("%s finished as %s: %d records, %d duplicates, %d errors in %s (%d polls, %s)",
		s.LoadID, s.LoadStatus, s.TotalRecords, s.TotalDuplicates, s.Errors,
		FormatDuration(elapsed), s.Polls, FormatRate(s.AverageRate))
}

// IsTerminalSupported reports whether stdout is a terminal.
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
