package loader

import (
	"encoding/json"
	"time"
)

// LoadStatus is the overall status the server reports for a load.
type LoadStatus int

const (
	StatusNotStarted LoadStatus = iota + 1
	StatusInQueue
	StatusInProgress
	StatusCompleted
	StatusCancelledByUser
	StatusCancelledDueToErrors
	StatusFailed
	StatusFailedInvalidRequest
	StatusFailedDependencyNotSatisfied
	StatusS3ReadError
	StatusS3AccessDeniedError
	StatusCommittedWithWriteConflicts
	StatusDataDeadlock
	StatusDataFailedFeedModifiedOrDeleted
	StatusUnexpectedError
)

var statusLiterals = map[LoadStatus]string{
	StatusNotStarted:                      "LOAD_NOT_STARTED",
	StatusInQueue:                         "LOAD_IN_QUEUE",
	StatusInProgress:                      "LOAD_IN_PROGRESS",
	StatusCompleted:                       "LOAD_COMPLETED",
	StatusCancelledByUser:                 "LOAD_CANCELLED_BY_USER",
	StatusCancelledDueToErrors:            "LOAD_CANCELLED_DUE_TO_ERRORS",
	StatusFailed:                          "LOAD_FAILED",
	StatusFailedInvalidRequest:            "LOAD_FAILED_INVALID_REQUEST",
	StatusFailedDependencyNotSatisfied:    "LOAD_FAILED_BECAUSE_DEPENDENCY_NOT_SATISFIED",
	StatusS3ReadError:                     "LOAD_S3_READ_ERROR",
	StatusS3AccessDeniedError:             "LOAD_S3_ACCESS_DENIED_ERROR",
	StatusCommittedWithWriteConflicts:     "LOAD_COMMITTED_W_WRITE_CONFLICTS",
	StatusDataDeadlock:                    "LOAD_DATA_DEADLOCK",
	StatusDataFailedFeedModifiedOrDeleted: "LOAD_DATA_FAILED_DUE_TO_FEED_MODIFIED_OR_DELETED",
	StatusUnexpectedError:                 "LOAD_UNEXPECTED_ERROR",
}

var statusByLiteral = func() map[string]LoadStatus {
	m := make(map[string]LoadStatus, len(statusLiterals))
	for s, lit := range statusLiterals {
		m[lit] = s
	}
	return m
}()

// ParseLoadStatus maps a server literal such as "LOAD_COMPLETED" to a
// LoadStatus.
func ParseLoadStatus(literal string) (LoadStatus, error) {
	s, ok := statusByLiteral[literal]
	if !ok {
		return 0, &ParseError{Reason: "unknown load status " + literal}
	}
	return s, nil
}

// String returns the server literal.
func (s LoadStatus) String() string {
	if lit, ok := statusLiterals[s]; ok {
		return lit
	}
	return "LOAD_STATUS_UNKNOWN"
}

// Pending reports whether the server may still advance the load.
func (s LoadStatus) Pending() bool {
	switch s {
	case StatusNotStarted, StatusInQueue, StatusInProgress:
		return true
	}
	return false
}

// Succeeded reports whether the load completed.
func (s LoadStatus) Succeeded() bool {
	return s == StatusCompleted
}

// Terminal reports whether the server will not advance the load further.
func (s LoadStatus) Terminal() bool {
	_, known := statusLiterals[s]
	return known && !s.Pending()
}

// FeedStatus is the per-feed section of a status document.
type FeedStatus struct {
	FullURI                string `json:"fullUri"`
	RunNumber              int64  `json:"runNumber"`
	RetryNumber            int64  `json:"retryNumber"`
	Status                 string `json:"status"`
	TotalTimeSpent         int64  `json:"totalTimeSpent"`
	StartTime              int64  `json:"startTime"`
	TotalRecords           int64  `json:"totalRecords"`
	TotalDuplicates        int64  `json:"totalDuplicates"`
	ParsingErrors          int64  `json:"parsingErrors"`
	DatatypeMismatchErrors int64  `json:"datatypeMismatchErrors"`
	InsertErrors           int64  `json:"insertErrors"`
}

// ErrorPage is the error log section of a status document.
type ErrorPage struct {
	StartIndex int64             `json:"startIndex"`
	EndIndex   int64             `json:"endIndex"`
	LoadID     string            `json:"loadId"`
	ErrorLogs  []json.RawMessage `json:"errorLogs"`
}

type statusDocument struct {
	Status  string `json:"status"`
	Payload *struct {
		FeedCount     []map[string]int64 `json:"feedCount"`
		OverallStatus *FeedStatus        `json:"overallStatus"`
		FailedFeeds   []FeedStatus       `json:"failedFeeds"`
		Errors        *ErrorPage         `json:"errors"`
	} `json:"payload"`
}

// BulkLoadStatus is one decoded status document. A new value is produced for
// every poll.
type BulkLoadStatus struct {
	Status                 LoadStatus
	Source                 string
	StartTime              time.Time
	TotalTimeSpent         time.Duration
	TotalRecords           int64
	TotalDuplicates        int64
	ParsingErrors          int64
	DatatypeMismatchErrors int64
	InsertErrors           int64
	RunNumber              int64
	RetryNumber            int64

	FeedCount   []map[string]int64
	FailedFeeds []FeedStatus
	Errors      *ErrorPage

	// Raw is the complete response document.
	Raw []byte
}

// DecodeStatus parses a status response body.
func DecodeStatus(body []byte) (*BulkLoadStatus, error) {
	var doc statusDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Reason: "status document is not valid JSON", Err: err}
	}
	if doc.Payload == nil || doc.Payload.OverallStatus == nil {
		return nil, &ParseError{Reason: "status document has no payload.overallStatus"}
	}

	overall := doc.Payload.OverallStatus
	status, err := ParseLoadStatus(overall.Status)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, len(body))
	copy(raw, body)

	return &BulkLoadStatus{
		Status:                 status,
		Source:                 overall.FullURI,
		StartTime:              time.Unix(overall.StartTime, 0).UTC(),
		TotalTimeSpent:         time.Duration(overall.TotalTimeSpent) * time.Second,
		TotalRecords:           overall.TotalRecords,
		TotalDuplicates:        overall.TotalDuplicates,
		ParsingErrors:          overall.ParsingErrors,
		DatatypeMismatchErrors: overall.DatatypeMismatchErrors,
		InsertErrors:           overall.InsertErrors,
		RunNumber:              overall.RunNumber,
		RetryNumber:            overall.RetryNumber,
		FeedCount:              doc.Payload.FeedCount,
		FailedFeeds:            doc.Payload.FailedFeeds,
		Errors:                 doc.Payload.Errors,
		Raw:                    raw,
	}, nil
}

// Stats is a flat summary of a status, suitable for persistence and
// notifications.
type Stats struct {
	Status           string    `json:"status"`
	StartTime        time.Time `json:"start_time"`
	TimeTotalSeconds int64     `json:"time_total"`
	TotalRecords     int64     `json:"total_records"`
	TotalDuplicates  int64     `json:"total_duplicates"`
	ErrorsParsing    int64     `json:"errors_parsing"`
	ErrorsMismatch   int64     `json:"errors_mismatch"`
	ErrorsInsert     int64     `json:"errors_insert"`
	ErrorsTotal      int64     `json:"errors_total"`
}

// Stats summarises the status.
func (s *BulkLoadStatus) Stats() Stats {
	return Stats{
		Status:           s.Status.String(),
		StartTime:        s.StartTime,
		TimeTotalSeconds: int64(s.TotalTimeSpent / time.Second),
		TotalRecords:     s.TotalRecords,
		TotalDuplicates:  s.TotalDuplicates,
		ErrorsParsing:    s.ParsingErrors,
		ErrorsMismatch:   s.DatatypeMismatchErrors,
		ErrorsInsert:     s.InsertErrors,
		ErrorsTotal:      s.ParsingErrors + s.DatatypeMismatchErrors + s.InsertErrors,
	}
}
