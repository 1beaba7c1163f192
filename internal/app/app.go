package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"neptuneload/internal/checkpoint"
	"neptuneload/internal/config"
	"neptuneload/internal/loader"
	"neptuneload/internal/metrics"
	"neptuneload/internal/progress"
	"neptuneload/internal/signer"
	"neptuneload/internal/storage"
	"neptuneload/internal/worker"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Runner wires configuration, signing, transport and the journal into the
// operations the command line exposes.
type Runner struct {
	cfg         *config.Config
	logger      *zap.Logger
	signer      *signer.Signer
	transport   signer.Transport
	creds       signer.CredentialSource
	checkpoint  checkpoint.Store
	metrics     *metrics.Collector
	workers     *worker.Pool
	checker     storage.SourceChecker
	out         io.Writer
	interactive bool
}

// Option overrides a dependency the Runner would otherwise build from
// configuration.
type Option func(*Runner)

// WithTransport sets the transport requests are executed with.
func WithTransport(t signer.Transport) Option {
	return func(r *Runner) { r.transport = t }
}

// WithCredentials sets the credential source requests are signed with.
func WithCredentials(c signer.CredentialSource) Option {
	return func(r *Runner) { r.creds = c }
}

// WithSourceChecker sets the checker used when load.verify_source is on.
func WithSourceChecker(c storage.SourceChecker) Option {
	return func(r *Runner) { r.checker = c }
}

// WithOutput sends progress output to w and disables the live display.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
		r.interactive = false
	}
}

// New creates a runner. The journal is opened at cfg.Journal.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics.New(),
		out:         os.Stdout,
		interactive: progress.IsTerminalSupported(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.creds == nil {
		r.creds = credentialSource(cfg)
	}
	if r.transport == nil {
		r.transport = signer.NewHTTPTransport(signer.TransportOptions{
			Timeout:            cfg.HTTP.Timeout,
			InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		})
	}
	r.signer = signer.New(r.creds, signer.WithLogger(logger))

	if r.checker == nil && cfg.Load.VerifySource {
		checker, err := storage.NewMinIOChecker(storage.Config{
			Endpoint: cfg.Load.S3Endpoint,
			Region:   cfg.Neptune.Region,
			Secure:   true,
			Creds:    minioCredentials(r.creds),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create source checker: %w", err)
		}
		r.checker = checker
	}

	store, err := checkpoint.NewSQLiteStore(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("failed to open load journal: %w", err)
	}
	r.checkpoint = store

	r.workers = worker.NewPool(cfg.Workers, worker.Config{
		Endpoint:       cfg.Host(),
		Retries:        3,
		RetryBackoffMs: 500,
	}, func() (*loader.Client, error) { return r.newClient() }, store, r.metrics, logger)

	return r, nil
}

func credentialSource(cfg *config.Config) signer.CredentialSource {
	if cfg.Credentials.AccessKeyID != "" {
		return signer.StaticCredentials{
			AccessKeyID:     cfg.Credentials.AccessKeyID,
			SecretAccessKey: cfg.Credentials.SecretAccessKey,
			SessionToken:    cfg.Credentials.SessionToken,
			Region:          cfg.Neptune.Region,
		}
	}
	return signer.NewAmbientCredentials(cfg.Neptune.Region)
}

// minioCredentials reuses the signing credentials for S3 listing.
func minioCredentials(src signer.CredentialSource) *credentials.Credentials {
	switch c := src.(type) {
	case *signer.ProviderCredentials:
		return c.Provider()
	case signer.StaticCredentials:
		return credentials.NewStaticV4(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	}
	return nil
}

// Metrics returns the runner's metrics collector.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// StartMetricsServer serves /metrics on cfg.MetricsAddr in the background,
// if an address is configured.
func (r *Runner) StartMetricsServer() {
	if r.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := r.metrics.StartServer(r.cfg.MetricsAddr); err != nil {
			r.logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()
	r.logger.Info("Metrics server started", zap.String("addr", r.cfg.MetricsAddr))
}

func (r *Runner) newClient(opts ...loader.Option) (*loader.Client, error) {
	base := []loader.Option{
		loader.WithLogger(r.logger),
		loader.WithObserver(r.metrics),
		loader.WithFailFast(r.cfg.Load.FailFast),
	}
	return loader.New(r.cfg.LoaderConfig(), r.signer, r.transport, append(base, opts...)...)
}

// attached returns a client bound to an existing load.
func (r *Runner) attached(loadID string) (*loader.Client, error) {
	if _, err := uuid.Parse(loadID); err != nil {
		return nil, &loader.ConfigurationError{Reason: fmt.Sprintf("load id %q is not a UUID", loadID)}
	}
	c, err := r.newClient(loader.WithObserver(loader.Observers{r.metrics, r.journal("")}))
	if err != nil {
		return nil, err
	}
	if err := c.Attach(loadID); err != nil {
		return nil, err
	}
	return c, nil
}

// Load submits cfg.Load.Source and waits for it to finish. With
// load.cancel_active every active load is cancelled first; with
// load.verify_source the source must contain at least one object.
func (r *Runner) Load(ctx context.Context) (*loader.BulkLoadStatus, error) {
	if err := r.cfg.ValidateLoad(); err != nil {
		return nil, err
	}

	r.logger.Info("Starting load",
		zap.String("endpoint", r.cfg.Host()),
		zap.String("source", r.cfg.Load.Source),
		zap.String("format", r.cfg.Load.Format),
		zap.String("parallelism", r.cfg.Load.Parallelism),
		zap.Bool("fail_fast", r.cfg.Load.FailFast),
	)

	if r.cfg.Load.CancelActive {
		if _, err := r.CancelActive(ctx); err != nil {
			return nil, err
		}
	}

	if r.checker != nil {
		info, err := r.checker.Verify(ctx, r.cfg.Load.Source)
		if err != nil {
			return nil, fmt.Errorf("source verification failed: %w", err)
		}
		r.logger.Info("Source verified", zap.String("bucket", info.Bucket), zap.String("first_key", info.Key))
	}

	tracker := progress.NewTracker()
	client, err := r.newClient(loader.WithObserver(loader.Observers{
		r.metrics,
		r.journal(r.cfg.Load.Source),
		tracker,
	}))
	if err != nil {
		return nil, err
	}

	var display *progress.Display
	if r.interactive {
		display = progress.NewDisplay(tracker, r.out, time.Second)
		display.Start()
	}

	status, err := client.WaitUntilComplete(ctx, r.cfg.Load.Source, r.cfg.Load.PollInterval, r.cfg.Load.MaxWait)

	if display != nil {
		display.Stop()
	} else {
		fmt.Fprintln(r.out, progress.Summary(tracker.GetStatus(), tracker.Elapsed()))
	}

	if err != nil {
		return status, err
	}

	stats := status.Stats()
	r.logger.Info("Load finished",
		zap.String("status", stats.Status),
		zap.Int64("records", stats.TotalRecords),
		zap.Int64("errors", stats.ErrorsTotal),
		zap.Int64("seconds", stats.TimeTotalSeconds),
	)
	return status, nil
}

// Status refreshes and journals one load.
func (r *Runner) Status(ctx context.Context, loadID string) (*loader.BulkLoadStatus, error) {
	if err := r.cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}
	c, err := r.attached(loadID)
	if err != nil {
		return nil, err
	}
	return c.Refresh(ctx)
}

// Cancel cancels one load and returns its status afterwards.
func (r *Runner) Cancel(ctx context.Context, loadID string) (*loader.BulkLoadStatus, error) {
	if err := r.cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}
	c, err := r.attached(loadID)
	if err != nil {
		return nil, err
	}
	if err := c.Cancel(ctx); err != nil {
		return nil, err
	}
	return c.Status()
}

// List returns the ids of the loads the endpoint reports.
func (r *Runner) List(ctx context.Context) ([]string, error) {
	if err := r.cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}
	return r.lister().ListActive(ctx)
}

// CancelActive cancels every load the endpoint reports. Individual
// failures are logged and reported in the results, not returned.
func (r *Runner) CancelActive(ctx context.Context) ([]worker.Result, error) {
	if err := r.cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}

	tasks, err := r.lister().Tasks(ctx, worker.ActionCancel)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		r.logger.Info("No active loads")
		return nil, nil
	}

	results := r.workers.Run(ctx, tasks)
	r.logResults("Cancel", results)
	return results, ctx.Err()
}

// Refresh re-polls every load the journal still considers pending.
func (r *Runner) Refresh(ctx context.Context) ([]worker.Result, error) {
	if err := r.cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}

	tasks, err := r.lister().PendingTasks()
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		r.logger.Info("No pending loads in journal")
		return nil, nil
	}

	results := r.workers.Run(ctx, tasks)
	r.logResults("Refresh", results)
	return results, ctx.Err()
}

// Reset deletes all data in the database.
func (r *Runner) Reset(ctx context.Context) (string, error) {
	if err := r.cfg.ValidateEndpoint(); err != nil {
		return "", err
	}
	c, err := r.newClient()
	if err != nil {
		return "", err
	}
	return c.ResetDatabase(ctx)
}

// History returns the journalled loads, newest first.
func (r *Runner) History() ([]*checkpoint.LoadRecord, error) {
	return r.checkpoint.ListLoads()
}

func (r *Runner) logResults(what string, results []worker.Result) {
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	r.logger.Info(what+" finished",
		zap.Int("loads", len(results)),
		zap.Int("failed", failed),
	)
}

func (r *Runner) lister() *LoadLister {
	return &LoadLister{
		newClient: func() (*loader.Client, error) { return r.newClient() },
		store:     r.checkpoint,
		logger:    r.logger,
	}
}

// Close cleans up resources
func (r *Runner) Close() error {
	if r.checkpoint != nil {
		return r.checkpoint.Close()
	}
	return nil
}

var _ loader.Observer = (*journalObserver)(nil)

// journalObserver records every decoded status in the journal.
type journalObserver struct {
	store    checkpoint.Store
	endpoint string
	source   string
	logger   *zap.Logger
}

func (r *Runner) journal(source string) *journalObserver {
	return &journalObserver{store: r.checkpoint, endpoint: r.cfg.Host(), source: source, logger: r.logger}
}

func (j *journalObserver) ObserveRequest(signer.Category, string, int, time.Duration) {}

func (j *journalObserver) ObserveStatus(loadID string, status *loader.BulkLoadStatus) {
	if err := j.store.SaveLoad(checkpoint.NewLoadRecord(loadID, j.endpoint, j.source, status)); err != nil {
		j.logger.Error("Failed to journal load", zap.String("load_id", loadID), zap.Error(err))
	}
}
