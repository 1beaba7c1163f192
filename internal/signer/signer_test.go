package signer

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHost   = "neptune.cluster-example.ap-southeast-1.neptune.amazonaws.com:8182"
	testRegion = "ap-southeast-1"
	testLoadID = "2a0c81f7-66b5-4da3-9f7a-bb356d2ddd8b"
)

var testTime = time.Date(2021, 7, 1, 3, 53, 10, 0, time.UTC)

func testSigner(token string) *Signer {
	return New(StaticCredentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		SessionToken:    token,
		Region:          testRegion,
	}, WithClock(func() time.Time { return testTime }))
}

func signatureOf(t *testing.T, req *SignedRequest) string {
	t.Helper()
	auth := req.Header(HeaderAuthorization)
	idx := strings.Index(auth, "Signature=")
	require.NotEqual(t, -1, idx, "authorization header has no signature: %s", auth)
	return auth[idx+len("Signature="):]
}

func TestSignStatusQuery(t *testing.T) {
	s := testSigner("")

	params := Params{}.
		Add("loadId", testLoadID).
		Add("details", "true").
		Add("errors", "true").
		Add("page", "1")

	req, err := s.SignParams(testHost, http.MethodGet, CategoryBulkLoader, params)
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, req.Method())
	assert.Equal(t, "https://"+testHost+"/loader/", req.URL())
	assert.Equal(t, "loadId="+testLoadID+"&details=true&errors=true&page=1", req.Query())
	assert.Empty(t, req.Body())
	assert.Equal(t, "20210701T035310Z", req.Header(HeaderDate))
	assert.Equal(t,
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20210701/ap-southeast-1/neptune-db/aws4_request, "+
			"SignedHeaders=host;x-amz-date, "+
			"Signature=4f08f0b2076545f0601099ed1558527d1ed498fe96200106c08299c319a8b1a2",
		req.Header(HeaderAuthorization))
}

func TestSignLoadRequest(t *testing.T) {
	s := testSigner("")

	params := Params{}.
		Add("source", "s3://bucket/triples.nt").
		Add("format", "ntriples").
		Add("iamRoleArn", "arn:aws:iam::123456789012:role/NeptuneLoader").
		Add("region", testRegion).
		Add("failOnError", "FALSE").
		Add("parallelism", "MEDIUM").
		Add("updateSingleCardinalityProperties", "TRUE").
		Add("queueRequest", "FALSE")

	req, err := s.SignParams(testHost, http.MethodPost, CategoryBulkLoader, params)
	require.NoError(t, err)

	assert.Empty(t, req.Query())
	assert.Equal(t,
		"source=s3%3A%2F%2Fbucket%2Ftriples.nt&format=ntriples&iamRoleArn=arn%3Aaws%3Aiam%3A%3A123456789012%3Arole%2FNeptuneLoader"+
			"&region=ap-southeast-1&failOnError=FALSE&parallelism=MEDIUM&updateSingleCardinalityProperties=TRUE&queueRequest=FALSE",
		req.Body())
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header(HeaderContentType))
	assert.Equal(t, "e64491835b843a5aa8a44b71346b0811c7d738c05269e382366ba74a5a8d7a53", signatureOf(t, req))
}

func TestSignGraphQueryRewritesQuotes(t *testing.T) {
	s := testSigner("")

	req, err := s.Sign(testHost, http.MethodGet, CategoryGraphQuery, "SELECT * WHERE { ?s ?p 'o' }")
	require.NoError(t, err)

	assert.Equal(t, "https://"+testHost+"/sparql/", req.URL())
	assert.Equal(t, "query=SELECT%20%2A%20WHERE%20%7B%20%3Fs%20%3Fp%20%22o%22%20%7D", req.Query())
	assert.Equal(t, "4f3182551f9abefb75618dff6646db19a825e47791a9cc60ebbcb5daef2fbbb6", signatureOf(t, req))
}

func TestSignDeleteFromJSON(t *testing.T) {
	s := testSigner("")

	req, err := s.Sign(testHost, http.MethodDelete, CategoryBulkLoader, `{"loadId": "`+testLoadID+`"}`)
	require.NoError(t, err)

	assert.Equal(t, "loadId="+testLoadID, req.Query())
	assert.Equal(t, "a4f7af1e4c86aa1156acb51a38b72e98ee77b02bce3ff5e2448371544293e2ee", signatureOf(t, req))
}

func TestSignIsDeterministicUnderPinnedClock(t *testing.T) {
	s := testSigner("token")
	query := `{"loadId": "abc", "details": "true"}`

	first, err := s.Sign(testHost, http.MethodGet, CategoryBulkLoader, query)
	require.NoError(t, err)
	second, err := s.Sign(testHost, http.MethodGet, CategoryBulkLoader, query)
	require.NoError(t, err)

	assert.Equal(t, first.Header(HeaderAuthorization), second.Header(HeaderAuthorization))
	assert.Equal(t, first.Headers(), second.Headers())
}

func TestSignHeaders(t *testing.T) {
	combos := []struct {
		method   string
		category Category
	}{
		{http.MethodGet, CategoryGraphQuery},
		{http.MethodPost, CategoryGraphQuery},
		{http.MethodDelete, CategoryGraphQuery},
		{http.MethodPost, CategoryGraphUpdate},
		{http.MethodDelete, CategoryGraphUpdate},
		{http.MethodGet, CategoryPropertyGraphQuery},
		{http.MethodDelete, CategoryPropertyGraphQuery},
		{http.MethodGet, CategoryBulkLoader},
		{http.MethodPost, CategoryBulkLoader},
		{http.MethodDelete, CategoryBulkLoader},
		{http.MethodGet, CategoryStatus},
		{http.MethodPost, CategoryStatus},
		{http.MethodGet, CategorySystemAdmin},
		{http.MethodPost, CategorySystemAdmin},
	}

	for _, token := range []string{"", "session-token"} {
		s := testSigner(token)
		for _, c := range combos {
			query := "g.V().limit(1)"
			if c.category == CategoryBulkLoader || c.category == CategorySystemAdmin {
				query = `{"action": "x"}`
			}

			req, err := s.Sign(testHost, c.method, c.category, query)
			require.NoError(t, err, "%s %s", c.method, c.category)

			want := []string{HeaderHost, HeaderDate, HeaderAuthorization}
			if c.method == http.MethodPost {
				want = append(want, HeaderContentType)
			}
			if token != "" {
				want = append(want, HeaderSecurityToken)
			}

			got := make([]string, 0, len(req.Headers()))
			for k := range req.Headers() {
				got = append(got, k)
			}
			assert.ElementsMatch(t, want, got, "%s %s token=%q", c.method, c.category, token)
			assert.Equal(t, testHost, req.Header(HeaderHost))
		}
	}
}

func TestSignRejectsIllegalCombinations(t *testing.T) {
	s := testSigner("")

	tests := []struct {
		name     string
		method   string
		category Category
	}{
		{"update via GET", http.MethodGet, CategoryGraphUpdate},
		{"gremlin via POST", http.MethodPost, CategoryPropertyGraphQuery},
		{"PUT", http.MethodPut, CategoryBulkLoader},
		{"PATCH", http.MethodPatch, CategoryGraphQuery},
		{"unknown category", http.MethodGet, Category(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Sign(testHost, tt.method, tt.category, "q")
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)

			_, err = s.SignParams(testHost, tt.method, tt.category, nil)
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestSignRejectsMalformedJSONPayload(t *testing.T) {
	s := testSigner("")

	for _, query := range []string{
		`not json`,
		`["a"]`,
		`{"nested": {"a": 1}}`,
		`{"a": null}`,
		`{"a": "b"} {}`,
	} {
		_, err := s.Sign(testHost, http.MethodPost, CategorySystemAdmin, query)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "query %s: got %v", query, err)
	}
}

func TestSignJSONScalars(t *testing.T) {
	s := testSigner("")

	req, err := s.Sign(testHost, http.MethodPost, CategoryBulkLoader, `{"loadId": 666, "details": true, "name": "x y"}`)
	require.NoError(t, err)
	assert.Equal(t, "loadId=666&details=true&name=x%20y", req.Body())
}

func TestSignStatusCategoryHasNoPayload(t *testing.T) {
	s := testSigner("")

	req, err := s.Sign(testHost, http.MethodGet, CategoryStatus, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "https://"+testHost+"/status/", req.FullURL())
}

func TestSignCredentialFailures(t *testing.T) {
	tests := []struct {
		name   string
		source CredentialSource
	}{
		{"missing region", StaticCredentials{AccessKeyID: "a", SecretAccessKey: "b"}},
		{"missing secret", StaticCredentials{AccessKeyID: "a", Region: testRegion}},
		{"provider error", failingSource{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.source, WithClock(func() time.Time { return testTime }))
			_, err := s.Sign(testHost, http.MethodGet, CategoryStatus, "")
			var signErr *SigningError
			assert.True(t, errors.As(err, &signErr), "got %v", err)
		})
	}
}

func TestSignZeroClock(t *testing.T) {
	s := New(StaticCredentials{AccessKeyID: "a", SecretAccessKey: "b", Region: testRegion},
		WithClock(func() time.Time { return time.Time{} }))

	_, err := s.Sign(testHost, http.MethodGet, CategoryStatus, "")
	var signErr *SigningError
	assert.True(t, errors.As(err, &signErr))
}

type failingSource struct{}

func (failingSource) Credentials() (Credentials, error) {
	return Credentials{}, errors.New("no credentials in chain")
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("loader")
	require.NoError(t, err)
	assert.Equal(t, CategoryBulkLoader, c)
	assert.Equal(t, "/loader/", c.Path())

	_, err = ParseCategory("cypher")
	assert.Error(t, err)
}
