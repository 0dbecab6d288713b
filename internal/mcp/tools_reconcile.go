package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EmptyArgument is the input of tools that take no parameters.
type EmptyArgument struct{}

// ReconcileHandler serves the ledger maintenance tools.
type ReconcileHandler struct {
	ledger  LedgerReader
	sweeper Sweeper
}

// NewReconcileHandler creates a reconcile handler.
func NewReconcileHandler(ledger LedgerReader, sweeper Sweeper) *ReconcileHandler {
	return &ReconcileHandler{ledger: ledger, sweeper: sweeper}
}

// HandleList lists outstanding failed projections.
func (h *ReconcileHandler) HandleList(ctx context.Context, req *mcp.CallToolRequest, args EmptyArgument) (*mcp.CallToolResult, any, error) {
	records, err := h.ledger.ListFailedOperations(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"count":   len(records),
		"records": records,
	}), nil, nil
}

// HandleProcess runs a reconciliation sweep now.
func (h *ReconcileHandler) HandleProcess(ctx context.Context, req *mcp.CallToolRequest, args EmptyArgument) (*mcp.CallToolResult, any, error) {
	res, err := h.sweeper.ProcessFailedOperations(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(res), nil, nil
}

// RegisterReconcileTools registers the ledger tools with an MCP server.
func RegisterReconcileTools(server *mcp.Server, ledger LedgerReader, sweeper Sweeper) {
	h := NewReconcileHandler(ledger, sweeper)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_failed_operations",
		Description: "List projections that failed to reach the search index and await reconciliation",
	}, h.HandleList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "process_failed_operations",
		Description: "Replay failed projections now; returns resolved, remaining and dropped counts",
	}, h.HandleProcess)
}
