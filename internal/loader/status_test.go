package loader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCompleted = `{"status":"200 OK","payload":{"feedCount":[{"LOAD_COMPLETED":1}],"overallStatus":{"fullUri":"s3://x/y","runNumber":1,"retryNumber":0,"status":"LOAD_COMPLETED","totalTimeSpent":208,"startTime":1625111590,"totalRecords":10895596,"totalDuplicates":10895596,"parsingErrors":0,"datatypeMismatchErrors":0,"insertErrors":0},"errors":{"startIndex":0,"endIndex":0,"loadId":"e865...","errorLogs":[]}}}`

func TestDecodeStatusSample(t *testing.T) {
	status, err := DecodeStatus([]byte(sampleCompleted))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, int64(10895596), status.TotalRecords)
	assert.Equal(t, int64(10895596), status.TotalDuplicates)
	assert.Equal(t, "s3://x/y", status.Source)
	assert.Equal(t, 208*time.Second, status.TotalTimeSpent)
	assert.Equal(t, time.Unix(1625111590, 0).UTC(), status.StartTime)
	assert.Equal(t, int64(1), status.RunNumber)
	assert.Equal(t, []map[string]int64{{"LOAD_COMPLETED": 1}}, status.FeedCount)
	require.NotNil(t, status.Errors)
	assert.Equal(t, "e865...", status.Errors.LoadID)
	assert.JSONEq(t, sampleCompleted, string(status.Raw))
}

func TestDecodeStatusFailedFeeds(t *testing.T) {
	body := `{"status":"200 OK","payload":{"overallStatus":{"fullUri":"s3://b/k","status":"LOAD_FAILED","parsingErrors":2,"datatypeMismatchErrors":3,"insertErrors":4},
		"failedFeeds":[{"fullUri":"s3://b/k/rdfox.log","status":"LOAD_FAILED","parsingErrors":2}]}}`

	status, err := DecodeStatus([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, status.Status)
	require.Len(t, status.FailedFeeds, 1)
	assert.Equal(t, "s3://b/k/rdfox.log", status.FailedFeeds[0].FullURI)

	stats := status.Stats()
	assert.Equal(t, "LOAD_FAILED", stats.Status)
	assert.Equal(t, int64(9), stats.ErrorsTotal)
	assert.Equal(t, int64(3), stats.ErrorsMismatch)
}

func TestDecodeStatusErrors(t *testing.T) {
	tests := map[string]string{
		"not json":           `{`,
		"no payload":         `{"status":"200 OK"}`,
		"no overall status":  `{"payload":{"feedCount":[]}}`,
		"unknown status":     `{"payload":{"overallStatus":{"status":"LOAD_SOMETHING_NEW"}}}`,
		"empty status":       `{"payload":{"overallStatus":{}}}`,
		"wrong counter type": `{"payload":{"overallStatus":{"status":"LOAD_COMPLETED","totalRecords":"many"}}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeStatus([]byte(body))
			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr), "got %v", err)
		})
	}
}

func TestLoadStatusLiterals(t *testing.T) {
	assert.Len(t, statusLiterals, 15)

	for status, literal := range statusLiterals {
		parsed, err := ParseLoadStatus(literal)
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
		assert.Equal(t, literal, status.String())
	}
}

func TestLoadStatusClassification(t *testing.T) {
	for _, s := range []LoadStatus{StatusNotStarted, StatusInQueue, StatusInProgress} {
		assert.True(t, s.Pending(), s.String())
		assert.False(t, s.Terminal(), s.String())
	}

	assert.True(t, StatusCompleted.Succeeded())
	assert.True(t, StatusCompleted.Terminal())

	for _, s := range []LoadStatus{StatusFailed, StatusCancelledByUser, StatusS3AccessDeniedError, StatusUnexpectedError} {
		assert.True(t, s.Terminal(), s.String())
		assert.False(t, s.Succeeded(), s.String())
	}

	assert.False(t, LoadStatus(0).Terminal())
	assert.Equal(t, "LOAD_STATUS_UNKNOWN", LoadStatus(0).String())
}
