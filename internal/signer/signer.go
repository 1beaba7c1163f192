package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	algorithm     = "AWS4-HMAC-SHA256"
	service       = "neptune-db"
	terminator    = "aws4_request"
	signedHeaders = "host;x-amz-date"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"

	HeaderHost          = "host"
	HeaderDate          = "x-amz-date"
	HeaderAuthorization = "Authorization"
	HeaderSecurityToken = "x-amz-security-token"
	HeaderContentType   = "content-type"

	formContentType = "application/x-www-form-urlencoded"
)

// Signer produces Signature Version 4 signed requests for the graph
// database endpoint.
type Signer struct {
	source CredentialSource
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock replaces the wall clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Signer) { s.logger = logger }
}

// New creates a Signer that resolves credentials from source on every call.
func New(source CredentialSource, opts ...Option) *Signer {
	s := &Signer{
		source: source,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign builds a signed request for query. For the bulk-loader and
// system-admin categories query must be a flat JSON object; for the
// status category it is ignored.
func (s *Signer) Sign(host, method string, category Category, query string) (*SignedRequest, error) {
	if err := validateMethod(method, category); err != nil {
		return nil, err
	}
	params, err := category.params(query)
	if err != nil {
		return nil, err
	}
	return s.SignParams(host, method, category, params)
}

// SignParams builds a signed request carrying params as the form payload.
func (s *Signer) SignParams(host, method string, category Category, params Params) (*SignedRequest, error) {
	if err := validateMethod(method, category); err != nil {
		return nil, err
	}

	creds, err := s.source.Credentials()
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	if err := creds.validate(); err != nil {
		return nil, &SigningError{Err: err}
	}

	t := s.now()
	if t.IsZero() {
		return nil, &SigningError{Err: errZeroClock}
	}
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)
	dateStamp := t.Format(dateStampFormat)

	canonicalURI := category.Path()
	encoded := encodeParams(params)

	s.logger.Debug("Signing request",
		zap.String("host", host),
		zap.String("method", method),
		zap.Stringer("category", category),
		zap.String("params", encoded),
	)

	var canonicalQuery, body string
	if method == http.MethodPost {
		body = encoded
	} else {
		canonicalQuery = canonicalQueryString(encoded)
	}

	canonicalHeaders := "host:" + host + "\n" + "x-amz-date:" + amzDate + "\n"

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		hashHex(body),
	}, "\n")

	scope := strings.Join([]string{dateStamp, creds.Region, service, terminator}, "/")
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hashHex(canonicalRequest),
	}, "\n")

	key := signingKey(creds.SecretAccessKey, dateStamp, creds.Region)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	authorization := algorithm + " " +
		"Credential=" + creds.AccessKeyID + "/" + scope + ", " +
		"SignedHeaders=" + signedHeaders + ", " +
		"Signature=" + signature

	headers := map[string]string{
		HeaderHost:          host,
		HeaderDate:          amzDate,
		HeaderAuthorization: authorization,
	}
	if creds.SessionToken != "" {
		headers[HeaderSecurityToken] = creds.SessionToken
	}
	if method == http.MethodPost {
		headers[HeaderContentType] = formContentType
	}

	req := &SignedRequest{
		method:   method,
		url:      "https://" + host + canonicalURI,
		headers:  headers,
		category: category,
	}
	if method == http.MethodPost {
		req.body = body
	} else {
		req.query = encoded
	}
	return req, nil
}

// signingKey derives the request signing key from the secret.
func signingKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator)
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
