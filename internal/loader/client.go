package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"neptuneload/internal/signer"

	"go.uber.org/zap"
)

// RequestSigner signs outbound calls.
type RequestSigner interface {
	SignParams(host, method string, category signer.Category, params signer.Params) (*signer.SignedRequest, error)
}

// Observer is notified of every request and every decoded status.
type Observer interface {
	ObserveRequest(category signer.Category, method string, statusCode int, duration time.Duration)
	ObserveStatus(loadID string, status *BulkLoadStatus)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(signer.Category, string, int, time.Duration) {}
func (nopObserver) ObserveStatus(string, *BulkLoadStatus)                      {}

// Observers fans every notification out to each of its members in order.
type Observers []Observer

func (o Observers) ObserveRequest(category signer.Category, method string, statusCode int, duration time.Duration) {
	for _, obs := range o {
		obs.ObserveRequest(category, method, statusCode, duration)
	}
}

func (o Observers) ObserveStatus(loadID string, status *BulkLoadStatus) {
	for _, obs := range o {
		obs.ObserveStatus(loadID, status)
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithObserver registers an observer for requests and statuses.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithFailFast controls whether WaitUntilComplete stops on a terminal
// failure status. When disabled, only LOAD_COMPLETED ends the wait and
// every other outcome runs into the timeout.
func WithFailFast(enabled bool) Option {
	return func(c *Client) { c.failFast = enabled }
}

// WithCancelTimeout bounds the cancel issued after an interrupted wait.
func WithCancelTimeout(d time.Duration) Option {
	return func(c *Client) { c.cancelTimeout = d }
}

// Client drives exactly one bulk load: submit, poll, cancel. It also
// exposes the endpoint-wide operations that do not need a bound load.
type Client struct {
	cfg           Config
	signer        RequestSigner
	transport     signer.Transport
	logger        *zap.Logger
	observer      Observer
	failFast      bool
	cancelTimeout time.Duration

	mu  sync.Mutex
	job job
}

// job is the mutable session state. loadID moves from empty to set once.
type job struct {
	loadID string
	source string
	status *BulkLoadStatus
}

// New creates an unbound client.
func New(cfg Config, s RequestSigner, t signer.Transport, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		signer:        s,
		transport:     t,
		logger:        zap.NewNop(),
		observer:      nopObserver{},
		failFast:      true,
		cancelTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LoadID returns the bound load id.
func (c *Client) LoadID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job.loadID == "" {
		return "", &NotLoadingError{What: "load id"}
	}
	return c.job.loadID, nil
}

// Status returns the most recent status.
func (c *Client) Status() (*BulkLoadStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job.status == nil {
		return nil, &NotLoadingError{What: "status"}
	}
	return c.job.status, nil
}

// Attach binds the client to an existing load for monitoring or
// cancellation.
func (c *Client) Attach(loadID string) error {
	if loadID == "" {
		return &ConfigurationError{Reason: "load id is required"}
	}
	return c.bind(loadID, "")
}

func (c *Client) bind(loadID, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job.loadID != "" {
		return &AlreadyBoundError{LoadID: c.job.loadID}
	}
	c.job.loadID = loadID
	c.job.source = source
	return nil
}

func (c *Client) setStatus(status *BulkLoadStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.job.status = status
}

// Submit starts a load of source and binds the client to it.
func (c *Client) Submit(ctx context.Context, source string) error {
	if id, err := c.LoadID(); err == nil {
		return &AlreadyBoundError{LoadID: id}
	}
	if _, _, err := ParseSource(source); err != nil {
		return err
	}

	c.logger.Info("Bulk load requested", zap.String("source", source))

	params := signer.Params{}.
		Add("source", source).
		Add("format", c.cfg.Format).
		Add("iamRoleArn", c.cfg.IAMRoleARN).
		Add("region", c.cfg.Region).
		Add("failOnError", flag(c.cfg.FailOnError)).
		Add("parallelism", string(c.cfg.Parallelism)).
		Add("updateSingleCardinalityProperties", flag(c.cfg.UpdateSingleCardinalityProperties)).
		Add("queueRequest", flag(c.cfg.QueueRequest))

	body, err := c.do(ctx, http.MethodPost, signer.CategoryBulkLoader, params)
	if err != nil {
		return fmt.Errorf("submit load: %w", err)
	}

	var resp struct {
		Payload struct {
			LoadID string `json:"loadId"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return &ParseError{Reason: "load response is not valid JSON", Err: err}
	}
	if resp.Payload.LoadID == "" {
		return &ParseError{Reason: "load response has no payload.loadId"}
	}

	if err := c.bind(resp.Payload.LoadID, source); err != nil {
		return err
	}

	status, err := c.Refresh(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("Bulk load request succeeded",
		zap.String("load_id", resp.Payload.LoadID),
		zap.Stringer("status", status.Status),
	)
	return nil
}

// Refresh fetches the current status of the bound load, including details
// and the first page of errors.
func (c *Client) Refresh(ctx context.Context) (*BulkLoadStatus, error) {
	loadID, err := c.LoadID()
	if err != nil {
		return nil, err
	}

	params := signer.Params{}.
		Add("loadId", loadID).
		Add("details", "true").
		Add("errors", "true").
		Add("page", "1")

	body, err := c.do(ctx, http.MethodGet, signer.CategoryBulkLoader, params)
	if err != nil {
		return nil, fmt.Errorf("refresh status of %s: %w", loadID, err)
	}

	status, err := DecodeStatus([]byte(body))
	if err != nil {
		return nil, err
	}

	c.setStatus(status)
	c.observer.ObserveStatus(loadID, status)
	c.logger.Debug("Load status refreshed",
		zap.String("load_id", loadID),
		zap.Stringer("status", status.Status),
		zap.Int64("total_records", status.TotalRecords),
	)
	return status, nil
}

// WaitUntilComplete submits source and polls every pollInterval until the
// load completes. Cancelling ctx while waiting cancels the remote load
// before returning.
func (c *Client) WaitUntilComplete(ctx context.Context, source string, pollInterval, maxWait time.Duration) (*BulkLoadStatus, error) {
	if err := c.Submit(ctx, source); err != nil {
		// The load may already be running if only the first refresh failed.
		if loadID, idErr := c.LoadID(); idErr == nil {
			return nil, c.interrupted(ctx, loadID, err)
		}
		return nil, err
	}
	return c.Wait(ctx, pollInterval, maxWait)
}

// Wait polls the bound load until it completes, fails (with fail-fast
// enabled) or maxWait elapses. The timeout is measured from the call.
func (c *Client) Wait(ctx context.Context, pollInterval, maxWait time.Duration) (*BulkLoadStatus, error) {
	loadID, err := c.LoadID()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	status, err := c.Refresh(ctx)
	if err != nil {
		return nil, c.interrupted(ctx, loadID, err)
	}

	for {
		if status.Status.Succeeded() {
			c.logger.Info("Load complete", zap.String("load_id", loadID), zap.Duration("waited", time.Since(start)))
			return status, nil
		}
		if c.failFast && status.Status.Terminal() {
			return status, &LoadFailedError{LoadID: loadID, Status: status.Status}
		}
		if time.Since(start) >= maxWait {
			return status, &TimeoutError{LoadID: loadID, MaxWait: maxWait, LastStatus: status.Status}
		}

		if err := sleep(ctx, pollInterval); err != nil {
			return status, c.interrupted(ctx, loadID, err)
		}

		next, err := c.Refresh(ctx)
		if err != nil {
			return status, c.interrupted(ctx, loadID, err)
		}
		status = next
	}
}

// interrupted cancels the remote load when err was caused by ctx being
// cancelled, so the load is not left running unattended.
func (c *Client) interrupted(ctx context.Context, loadID string, err error) error {
	if ctx.Err() == nil {
		return err
	}

	c.logger.Warn("Wait interrupted, cancelling load", zap.String("load_id", loadID), zap.Error(err))

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cancelTimeout)
	defer cancel()

	if cerr := c.Cancel(cancelCtx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// Cancel cancels the bound load and refreshes its status.
func (c *Client) Cancel(ctx context.Context) error {
	loadID, err := c.LoadID()
	if err != nil {
		return err
	}

	c.logger.Info("Cancellation requested", zap.String("load_id", loadID))

	params := signer.Params{}.Add("loadId", loadID)
	if _, err := c.do(ctx, http.MethodDelete, signer.CategoryBulkLoader, params); err != nil {
		return fmt.Errorf("cancel load %s: %w", loadID, err)
	}

	status, err := c.Refresh(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("Cancellation successful", zap.String("load_id", loadID), zap.Stringer("status", status.Status))
	return nil
}

// ListActiveLoads returns the ids of the loads the endpoint knows about.
func (c *Client) ListActiveLoads(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, signer.CategoryBulkLoader, signer.Params{}.Add("details", "TRUE"))
	if err != nil {
		return nil, fmt.Errorf("list loads: %w", err)
	}

	var resp struct {
		Payload *struct {
			LoadIDs []string `json:"loadIds"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &ParseError{Reason: "load list is not valid JSON", Err: err}
	}
	if resp.Payload == nil {
		return nil, &ParseError{Reason: "load list has no payload"}
	}
	return resp.Payload.LoadIDs, nil
}

// ResetDatabase deletes all data in the database. It first obtains a reset
// token and then performs the reset with it; the second call is never made
// if the first fails. It returns the body of the reset response.
func (c *Client) ResetDatabase(ctx context.Context) (string, error) {
	c.logger.Info("Reset token requested")

	body, err := c.do(ctx, http.MethodPost, signer.CategorySystemAdmin,
		signer.Params{}.Add("action", "initiateDatabaseReset"))
	if err != nil {
		return "", fmt.Errorf("initiate database reset: %w", err)
	}

	var resp struct {
		Payload struct {
			Token string `json:"token"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return "", &ParseError{Reason: "reset token response is not valid JSON", Err: err}
	}
	if resp.Payload.Token == "" {
		return "", &ParseError{Reason: "reset token response has no payload.token"}
	}

	c.logger.Warn("Performing database reset", zap.String("endpoint", c.cfg.Endpoint))

	body, err = c.do(ctx, http.MethodPost, signer.CategorySystemAdmin,
		signer.Params{}.Add("action", "performDatabaseReset").Add("token", resp.Payload.Token))
	if err != nil {
		return "", fmt.Errorf("perform database reset: %w", err)
	}
	return body, nil
}

// do signs and executes one call. Anything but 200 is an HTTPError.
func (c *Client) do(ctx context.Context, method string, category signer.Category, params signer.Params) (string, error) {
	req, err := c.signer.SignParams(c.cfg.Endpoint, method, category, params)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := req.Execute(ctx, c.transport)
	if err != nil {
		c.observer.ObserveRequest(category, method, 0, time.Since(start))
		return "", err
	}
	c.observer.ObserveRequest(category, method, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return resp.Body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
