package checkpoint

import (
	"time"

	"neptuneload/internal/loader"
)

// LoadRecord is the journal entry for one bulk load.
type LoadRecord struct {
	LoadID          string    `json:"load_id"`
	Endpoint        string    `json:"endpoint"`
	Source          string    `json:"source"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"start_time"`
	TimeTotal       int64     `json:"time_total"`
	TotalRecords    int64     `json:"total_records"`
	TotalDuplicates int64     `json:"total_duplicates"`
	ErrorsParsing   int64     `json:"errors_parsing"`
	ErrorsMismatch  int64     `json:"errors_mismatch"`
	ErrorsInsert    int64     `json:"errors_insert"`
	Raw             string    `json:"raw,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewLoadRecord builds a record from a decoded status. The source reported by
// the server wins over the submitted one.
func NewLoadRecord(loadID, endpoint, source string, status *loader.BulkLoadStatus) *LoadRecord {
	stats := status.Stats()
	if status.Source != "" {
		source = status.Source
	}
	return &LoadRecord{
		LoadID:          loadID,
		Endpoint:        endpoint,
		Source:          source,
		Status:          stats.Status,
		StartTime:       stats.StartTime,
		TimeTotal:       stats.TimeTotalSeconds,
		TotalRecords:    stats.TotalRecords,
		TotalDuplicates: stats.TotalDuplicates,
		ErrorsParsing:   stats.ErrorsParsing,
		ErrorsMismatch:  stats.ErrorsMismatch,
		ErrorsInsert:    stats.ErrorsInsert,
		Raw:             string(status.Raw),
	}
}

// Pending reports whether the recorded status may still advance.
func (r *LoadRecord) Pending() bool {
	s, err := loader.ParseLoadStatus(r.Status)
	return err == nil && s.Pending()
}

// Store defines the interface for load journal persistence
type Store interface {
	GetLoad(loadID string) (*LoadRecord, error)
	SaveLoad(record *LoadRecord) error
	ListPending() ([]*LoadRecord, error)
	ListLoads() ([]*LoadRecord, error)

	Close() error
}
