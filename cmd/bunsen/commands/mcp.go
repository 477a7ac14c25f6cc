package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	iobs "github.com/bunsen-project/bunsen/internal/observability"
	"github.com/bunsen-project/bunsen/pkg/mcp"
	"github.com/bunsen-project/bunsen/pkg/observability"
)

// NewMCPCommand creates the `bunsen mcp` command.
func NewMCPCommand() *cobra.Command {
	var (
		repoFlag string
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP query server on stdio transport",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server exposes bunsen's read-only query surface as MCP tools AI agents
can discover and invoke:
  - bunsen_list_projects, bunsen_list_months, bunsen_list_testruns
  - bunsen_get_testrun, bunsen_resolve_cursor, bunsen_open_log

No ingest tool is registered; this server never takes the write lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := openRepo(repoFlag)
			if err != nil {
				return err
			}
			defer r.Close()

			providers, err := initMCPObservability(debug)
			if err != nil {
				return err
			}

			defer func() {
				if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
					providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
			}()

			red, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return err
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				Query:   r.Query(),
				Logger:  providers.Logger,
				Metrics: red,
				Tracer:  providers.Tracer,
			})

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository directory (default: $BUNSEN_ROOT or .)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	return cmd
}

func initMCPObservability(debug bool) (observability.Providers, error) {
	cfg := iobs.DefaultConfig()
	cfg.Mode = iobs.ModeMCP
	cfg.LogJSON = true

	if debug {
		cfg.LogLevel = slog.LevelDebug
		cfg.DebugTrace = true
	}

	return observability.Init(cfg)
}
