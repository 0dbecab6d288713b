package testkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/order-index/internal/app"
	"github.com/spf13/pflag"
)

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port              int           // Uses free port if 0
	Host              string        // Defaults to "localhost"
	DataDir           string        // Uses t.TempDir() if empty
	APIKey            string        // Enables apikey auth when set
	ReconcileInterval time.Duration // Defaults to one hour so tests sweep explicitly
}

// NewTestFlags creates an SSE server flag set backed by a private data dir.
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	o := FlagOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.DataDir == "" {
		o.DataDir = t.TempDir()
	}
	if o.ReconcileInterval == 0 {
		o.ReconcileInterval = time.Hour
	}

	_ = flags.Set("transport", "sse")
	_ = flags.Set("host", o.Host)
	_ = flags.Set("port", fmt.Sprintf("%d", o.Port))
	_ = flags.Set("data-dir", o.DataDir)
	_ = flags.Set("reconcile-interval", o.ReconcileInterval.String())
	_ = flags.Set("log-level", "warn")
	if o.APIKey != "" {
		_ = flags.Set("auth-type", "apikey")
		_ = flags.Set("auth-api-keys", o.APIKey)
	} else {
		_ = flags.Set("auth-type", "none")
	}

	return flags
}

// Server is an order index server running in-process over SSE.
type Server struct {
	BaseURL string
	APIKey  string
	done    chan error
	cancel  context.CancelFunc
}

// StartServer runs the server with the given flags and waits until its
// health endpoint answers. The server is stopped when the test ends.
func StartServer(t testing.TB, opts *FlagOptions) *Server {
	t.Helper()
	if opts == nil {
		opts = &FlagOptions{}
	}
	flags := NewTestFlags(t, opts)
	host, _ := flags.GetString("host")
	port, _ := flags.GetInt("port")

	ctx, cancel := context.WithCancel(context.Background())
	params := app.DefaultRunParams()
	params.LogOutput = io.Discard

	s := &Server{
		BaseURL: fmt.Sprintf("http://%s:%d", host, port),
		APIKey:  opts.APIKey,
		done:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() {
		s.done <- app.RunWithDeps(ctx, params, flags, "test")
	}()
	t.Cleanup(s.Stop)

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("Server did not become healthy: %v", err)
	}
	return s
}

func (s *Server) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-s.done:
			return fmt.Errorf("server exited: %v", err)
		default:
		}
		resp, err := http.Get(s.BaseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("timed out after %s", timeout)
}

// Stop cancels the server and waits for it to exit.
func (s *Server) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
	}
}

// Connect opens an MCP client session against the server.
func (s *Server) Connect(t testing.TB) *mcp.ClientSession {
	t.Helper()
	transport := &mcp.SSEClientTransport{
		Endpoint:   s.BaseURL + "/sse",
		HTTPClient: &http.Client{Transport: apiKeyTransport{key: s.APIKey}},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)
	cs, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		t.Fatalf("Failed to connect MCP client: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

type apiKeyTransport struct {
	key string
}

func (a apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if a.key != "" {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+a.key)
	}
	return http.DefaultTransport.RoundTrip(r)
}
