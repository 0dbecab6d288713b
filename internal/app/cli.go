package app

import (
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags on the given FlagSet. Zero defaults
// leave the value to env vars and the built-in defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	RegisterStorageFlags(flags)

	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.Bool("reconcile-enabled", true, "Run the periodic reconciliation sweeper")
	flags.Duration("reconcile-interval", 0, "Interval between reconciliation sweeps")
}

// RegisterStorageFlags registers the flags shared by the server and the
// maintenance commands.
func RegisterStorageFlags(flags *pflag.FlagSet) {
	flags.StringP("data-dir", "d", "", "Base directory for the order store, indexes and lock file")
	flags.String("store-path", "", "SQLite database path (default <data-dir>/orders.db)")
	flags.String("index-path", "", "Search index directory (default <data-dir>/indexes)")
	flags.String("index-name", "", "Search index name")
	flags.Duration("index-timeout", 0, "Timeout for a single search index call")
	flags.Bool("index-in-memory", false, "Keep the search index in memory")
	flags.String("reconcile-lock-path", "", "Lock file serializing sweeps across processes (default <data-dir>/reconcile.lock)")
	flags.Int("dispatch-buffer-size", 0, "Initial per-order event queue capacity")
	flags.String("log-level", "", "Log level: debug, info, warn, or error")
	flags.String("log-format", "", "Log format: text or json")
}
