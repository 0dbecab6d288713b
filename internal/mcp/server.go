package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/projection"
	"github.com/sha1n/order-index/internal/reconcile"
)

// OrderWriter mutates orders in the primary store.
type OrderWriter interface {
	CreateOrder(ctx context.Context, customerID string, items []domain.ItemInput) (domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.Order, error)
	CancelOrder(ctx context.Context, id string) (domain.Order, error)
	DeleteOrder(ctx context.Context, id string) (domain.Order, error)
}

// OrderReader serves order reads from the search index.
type OrderReader interface {
	FindOneByUUID(ctx context.Context, id string) (domain.Order, bool, error)
	FindAll(ctx context.Context, pg projection.Pagination) (projection.Page[domain.Order], error)
	FindByCustomer(ctx context.Context, customerID string, pg projection.Pagination) (projection.Page[domain.Order], error)
	Search(ctx context.Context, filter projection.Filter, pg projection.Pagination) (projection.Page[domain.Order], error)
}

// LedgerReader lists outstanding reconciliation records.
type LedgerReader interface {
	ListFailedOperations(ctx context.Context) ([]domain.ReconciliationRecord, error)
}

// Sweeper triggers a reconciliation sweep.
type Sweeper interface {
	ProcessFailedOperations(ctx context.Context) (reconcile.SweepResult, error)
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	Writer  OrderWriter
	Reader  OrderReader
	Ledger  LedgerReader
	Sweeper Sweeper
}

// CreateServer creates and configures the MCP server. Tool groups are
// registered only for the collaborators that are set.
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Reader != nil {
		RegisterQueryTools(s, cfg.Reader)
	}
	if cfg.Writer != nil {
		RegisterOrderTools(s, cfg.Writer)
	}
	if cfg.Ledger != nil && cfg.Sweeper != nil {
		RegisterReconcileTools(s, cfg.Ledger, cfg.Sweeper)
	}

	return s
}
