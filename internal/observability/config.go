// Package observability holds the configuration and span-filtering pieces
// of bunsen's OpenTelemetry wiring that pkg/observability builds providers
// from — split out the way codefang keeps its own Config/AppMode here and
// its provider construction in pkg/observability.
package observability

import "log/slog"

// AppMode identifies which bunsen entry point is running.
type AppMode string

const (
	// ModeCLI is a cmd/bunsen command invocation.
	ModeCLI AppMode = "cli"
	// ModeMCP is the `bunsen mcp` stdio server.
	ModeMCP AppMode = "mcp"
)

const (
	// defaultServiceName is the default OTel service name.
	defaultServiceName = "bunsen"

	// DefaultShutdownTimeoutSec is the default shutdown timeout in seconds.
	DefaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "staging", "dev").
	Environment string

	// Mode identifies which entry point is running.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export; providers become no-op.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// DebugTrace forces 100% trace sampling when true.
	DebugTrace bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0) when DebugTrace is false.
	// Zero uses the OTel SDK default (parent-based with always-on root).
	SampleRatio float64

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// TraceVerbose enables hot-path spans (per-blob object-store calls).
	// When false (default), only structural ingest/query/repair spans are
	// recorded.
	TraceVerbose bool

	// LogJSON selects the JSON slog handler over the text one; text is the
	// default for interactive CLI use, JSON for production/service use.
	LogJSON bool

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: DefaultShutdownTimeoutSec,
	}
}
