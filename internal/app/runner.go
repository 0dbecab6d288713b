package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/order-index/internal/config"
	mcputil "github.com/sha1n/order-index/internal/mcp"
	"github.com/spf13/pflag"
)

// ServerName is the MCP implementation name reported to clients.
const ServerName = "order-index"

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings) error
	CreateServer      func(*config.Settings, string) (*mcp.Server, func(), error)
	OpenServices      func(*config.Settings, *slog.Logger) (*Services, error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
	LogOutput         io.Writer     // Optional: defaults to stderr
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
		OpenServices:   NewServices,
	}
}

// setup loads and validates settings and installs the process logger.
func setup(params RunParams, flags *pflag.FlagSet) (*config.Settings, *slog.Logger, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Always log to stderr by default; stdout carries the stdio transport.
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := config.NewLogger(settings.Log, out)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	slog.SetDefault(logger)
	return settings, logger, nil
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, logger, err := setup(params, flags)
	if err != nil {
		return err
	}

	logger.Info("Starting order index server", "version", version)
	config.LogWithLogger(settings, logger)

	mcpServer, cleanup, err := params.CreateServer(settings, version)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}

	logger.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(ctx, mcpServer, settings)
}

// CreateMCPServer opens the services, starts the sweeper and registers every
// tool. The returned cleanup closes the services.
func CreateMCPServer(settings *config.Settings, version string) (*mcp.Server, func(), error) {
	svc, err := NewServices(settings, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	svc.StartSweeper()

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    ServerName,
		Version: version,
		Writer:  svc.Store,
		Reader:  svc.Projector,
		Ledger:  svc.Store,
		Sweeper: svc.Reconciler,
	})

	cleanup := func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close services", "error", err)
		}
	}
	return server, cleanup, nil
}
