// Package commands implements CLI command handlers for bunsen.
package commands

import (
	"log/slog"
	"os"

	iobs "github.com/bunsen-project/bunsen/internal/observability"
	"github.com/bunsen-project/bunsen/internal/repo"
	"github.com/bunsen-project/bunsen/pkg/observability"
	"github.com/bunsen-project/bunsen/pkg/version"
)

// envRoot is the environment variable overriding the repository location,
// per spec §6.
const envRoot = "BUNSEN_ROOT"

// defaultRoot is used when neither --repo nor BUNSEN_ROOT is set.
const defaultRoot = "."

// repoDir resolves the repository directory from an explicit --repo flag
// value, falling back to BUNSEN_ROOT and then the current directory.
func repoDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if env := os.Getenv(envRoot); env != "" {
		return env
	}

	return defaultRoot
}

// openRepo opens the repository at the resolved --repo/BUNSEN_ROOT location.
func openRepo(flagValue string) (*repo.Repo, error) {
	return repo.Open(repoDir(flagValue))
}

// initObservability builds the CLI's observability providers: a text
// handler to stderr rather than JSON, since `bunsen` commands are run
// interactively far more often than `bunsen mcp` is.
func initObservability(debug bool) (observability.Providers, error) {
	cfg := iobs.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = iobs.ModeCLI
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	cfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"

	if debug {
		cfg.LogLevel = slog.LevelDebug
		cfg.DebugTrace = true
	}

	return observability.Init(cfg)
}
