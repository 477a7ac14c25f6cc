package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	iobs "github.com/bunsen-project/bunsen/internal/observability"
	"github.com/bunsen-project/bunsen/internal/repair"
	"github.com/bunsen-project/bunsen/pkg/observability"
)

// NewRepairCommand creates the `bunsen repair` command.
func NewRepairCommand() *cobra.Command {
	var (
		repoFlag    string
		debug       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild writes an interrupted ingest left incomplete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providers, err := initObservability(debug)
			if err != nil {
				return err
			}

			defer func() {
				if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
					providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
			}()

			r, err := openRepo(repoFlag)
			if err != nil {
				return err
			}
			defer r.Close()

			var result repair.Result

			err = r.WithWriteLock(cmd.Context(), func() error {
				res, repairErr := r.Repairer().Repair()
				result = res

				return repairErr
			})
			if err != nil {
				return err
			}

			providers.Logger.Info("repair complete",
				"branches_scanned", result.BranchesScanned,
				"commits_walked", result.CommitsWalked,
				"testrun_files_rebuilt", result.FullTestrunFilesRebuilt,
				"index_entries_appended", result.IndexEntriesAppended,
				"markers_cleared", result.MarkersCleared)

			fmt.Fprintf(cmd.OutOrStdout(),
				"scanned %d branches, walked %d commits: rebuilt %d testrun files, appended %d index entries, cleared %d incomplete-ingest markers\n",
				result.BranchesScanned, result.CommitsWalked,
				result.FullTestrunFilesRebuilt, result.IndexEntriesAppended, result.MarkersCleared)

			if metricsAddr != "" {
				return serveRepairMetrics(cmd, debug, metricsAddr, result)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository directory (default: $BUNSEN_ROOT or .)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"if set, serve this run's counters as Prometheus metrics on this address (e.g. :9090) until interrupted")

	return cmd
}

// serveRepairMetrics publishes result's counters as a set of gauges on a
// pull-based /metrics endpoint and blocks until cmd's context is canceled
// (e.g. by ctrl-c), for an operator who wants to scrape a one-off repair
// run's outcome without standing up an OTLP collector.
func serveRepairMetrics(cmd *cobra.Command, debug bool, addr string, result repair.Result) error {
	cfg := iobs.DefaultConfig()
	cfg.Mode = iobs.ModeCLI

	if debug {
		cfg.LogLevel = slog.LevelDebug
	}

	srv, err := observability.ServePrometheus(cfg, addr)
	if err != nil {
		return err
	}
	defer srv.Shutdown(context.Background()) //nolint:errcheck

	gauge, err := srv.Meter.Int64Gauge("bunsen.repair.last_run",
		metric.WithDescription("Counters from the most recent bunsen repair run"),
		metric.WithUnit("{count}"))
	if err != nil {
		return err
	}

	record := func(counter string, n int) {
		gauge.Record(cmd.Context(), int64(n),
			metric.WithAttributes(attribute.String("counter", counter)))
	}

	record("branches_scanned", result.BranchesScanned)
	record("commits_walked", result.CommitsWalked)
	record("testrun_files_rebuilt", result.FullTestrunFilesRebuilt)
	record("index_entries_appended", result.IndexEntriesAppended)

	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s/metrics; press ctrl-c to exit\n", addr)

	<-cmd.Context().Done()

	return nil
}
