package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neptuneload/internal/app"
	"neptuneload/internal/config"
	"neptuneload/internal/loader"
	"neptuneload/internal/logger"
	"neptuneload/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "neptuneload",
	Short:         "Bulk load data into a Neptune cluster and manage running loads",
	Long:          `Submits S3 bulk loads to a Neptune cluster with SigV4 signed requests, waits for them, and tracks every load in a local journal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file")

	pf.String("endpoint", "", "Neptune endpoint host (env NEPTUNE_ENDPOINT)")
	pf.Int("port", 8182, "Neptune port, used when the endpoint has none")
	pf.String("region", "", "AWS region (env SERVICE_REGION)")
	pf.String("iam-role-arn", "", "IAM role the loader assumes to read S3 (env NEPTUNE_LOADER_IAM_ROLE)")
	pf.String("access-key-id", "", "AWS access key id, the ambient provider chain is used when empty")
	pf.String("secret-access-key", "", "AWS secret access key")
	pf.String("session-token", "", "AWS session token")
	pf.Duration("http-timeout", 30*time.Second, "Timeout of a single request")
	pf.Bool("insecure-skip-verify", false, "Skip TLS certificate verification")
	pf.String("journal", "./loads.db", "Load journal database file")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.Int("workers", 4, "Concurrent per-load tasks for cancel-all and refresh")
	pf.String("log-level", "info", "Log level (debug/info/warn/error)")

	loadCmd.Flags().String("source", "", "s3://bucket/key of the data to load (env S3_BUCKET and TRIPLE_NAME)")
	loadCmd.Flags().String("format", "ntriples", "Data format")
	loadCmd.Flags().String("parallelism", "MEDIUM", "LOW, MEDIUM, HIGH or OVERSUBSCRIBE")
	loadCmd.Flags().Bool("update-single-cardinality", true, "Replace values of single cardinality properties")
	loadCmd.Flags().Bool("queue-request", false, "Queue the load if another one is running")
	loadCmd.Flags().Bool("fail-on-error", false, "Stop the load on the first error")
	loadCmd.Flags().Duration("poll-interval", 5*time.Second, "Time between status polls")
	loadCmd.Flags().Duration("max-wait", 10*time.Minute, "Give up waiting after this long")
	loadCmd.Flags().Bool("fail-fast", true, "Stop waiting as soon as the load fails")
	loadCmd.Flags().Bool("cancel-active", false, "Cancel every active load before submitting")
	loadCmd.Flags().Bool("verify-source", false, "Check that the source has objects before submitting")
	loadCmd.Flags().String("s3-endpoint", "s3.amazonaws.com", "S3 endpoint used by --verify-source")

	resetCmd.Flags().Bool("yes", false, "Confirm that all data in the database is deleted")

	rootCmd.AddCommand(loadCmd, statusCmd, cancelCmd, listCmd, cancelAllCmd, refreshCmd, resetCmd, historyCmd)
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Submit a bulk load and wait for it to finish",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			status, err := r.Load(ctx)
			if status != nil {
				printJSON(cmd.OutOrStdout(), status.Stats())
			}
			return err
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <load-id>",
	Short: "Show the status of a load",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			status, err := r.Status(ctx, args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), status.Stats())
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <load-id>",
	Short: "Cancel a load",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			status, err := r.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), status.Stats())
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the loads the cluster knows about",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			ids, err := r.List(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

var cancelAllCmd = &cobra.Command{
	Use:   "cancel-all",
	Short: "Cancel every active load",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			results, err := r.CancelActive(ctx)
			printResults(cmd.OutOrStdout(), results)
			return err
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-poll every load the journal still considers pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			results, err := r.Refresh(ctx)
			printResults(cmd.OutOrStdout(), results)
			return err
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all data in the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("reset deletes all data, pass --yes to confirm")
		}
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			body, err := r.Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the loads recorded in the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, r *app.Runner) error {
			records, err := r.History()
			if err != nil {
				return err
			}
			for _, rec := range records {
				rec.Raw = ""
			}
			printJSON(cmd.OutOrStdout(), records)
			return nil
		})
	},
}

// withRunner loads configuration, builds the runner and runs fn with a
// context cancelled by SIGINT or SIGTERM.
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *app.Runner) error) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	runner, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	defer func() {
		if closeErr := runner.Close(); closeErr != nil {
			log.Error("Error closing runner", zap.Error(closeErr))
		}
	}()

	runner.StartMetricsServer()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, gracefully stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return fn(ctx, runner)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

type resultView struct {
	LoadID string        `json:"load_id"`
	Action string        `json:"action"`
	Stats  *loader.Stats `json:"stats,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func printResults(w io.Writer, results []worker.Result) {
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		v := resultView{LoadID: res.Task.LoadID, Action: string(res.Task.Action)}
		if res.Status != nil {
			stats := res.Status.Stats()
			v.Stats = &stats
		}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		views = append(views, v)
	}
	printJSON(w, views)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
