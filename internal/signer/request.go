package signer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SignedRequest is a ready-to-send request. It is never modified after
// signing.
type SignedRequest struct {
	method   string
	url      string
	headers  map[string]string
	query    string
	body     string
	category Category
}

// Method returns the HTTP method.
func (r *SignedRequest) Method() string { return r.method }

// URL returns the absolute URL without the query string.
func (r *SignedRequest) URL() string { return r.url }

// Query returns the encoded query string for GET and DELETE requests.
func (r *SignedRequest) Query() string { return r.query }

// Body returns the encoded form body for POST requests.
func (r *SignedRequest) Body() string { return r.body }

// Category returns the category the request was signed for.
func (r *SignedRequest) Category() Category { return r.category }

// Header returns a single header value.
func (r *SignedRequest) Header(name string) string { return r.headers[name] }

// Headers returns a copy of the signed headers.
func (r *SignedRequest) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// FullURL returns the URL including the query string, if any.
func (r *SignedRequest) FullURL() string {
	if r.query == "" {
		return r.url
	}
	return r.url + "?" + r.query
}

// Execute sends the request through t.
func (r *SignedRequest) Execute(ctx context.Context, t Transport) (*Response, error) {
	return t.Do(ctx, r)
}

// Response is the status code and body text of an executed request.
type Response struct {
	StatusCode int
	Body       string
}

// Transport executes signed requests.
type Transport interface {
	Do(ctx context.Context, req *SignedRequest) (*Response, error)
}

// TransportOptions configures HTTPTransport.
type TransportOptions struct {
	// Timeout for a single round trip. Default: 30s
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// HTTPTransport executes signed requests over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with the given options.
func NewHTTPTransport(opts TransportOptions) *HTTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
	}
}

// NewHTTPTransportWithClient wraps an existing client.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, r *SignedRequest) (*Response, error) {
	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.FullURL(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range r.headers {
		if k == HeaderHost {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(data)}, nil
}
