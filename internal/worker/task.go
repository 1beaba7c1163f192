package worker

import (
	"time"

	"neptuneload/internal/loader"
)

// Action is what a task does to its load.
type Action string

const (
	ActionCancel  Action = "cancel"
	ActionRefresh Action = "refresh"
)

// Task targets one existing load
type Task struct {
	LoadID string `json:"load_id"`
	Source string `json:"source,omitempty"`
	Action Action `json:"action"`
}

// Result is the outcome of a task. Status is the last status seen, if any.
type Result struct {
	Task   Task
	Status *loader.BulkLoadStatus
	Err    error
}

// Config contains worker configuration
type Config struct {
	Endpoint       string
	Retries        int
	RetryBackoffMs int
}

// ClientFactory returns a fresh, unbound loader client.
type ClientFactory func() (*loader.Client, error)

func (c Config) backoff(attempt int) time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond * time.Duration(1<<uint(attempt-1))
}
