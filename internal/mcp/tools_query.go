package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/order-index/internal/domain"
	"github.com/sha1n/order-index/internal/projection"
)

// PageArgument selects a page of results.
type PageArgument struct {
	Page  int `json:"page,omitempty" jsonschema:"1-based page number, defaults to 1"`
	Limit int `json:"limit,omitempty" jsonschema:"Page size, defaults to 10, at most 100"`
}

func (a PageArgument) pagination() projection.Pagination {
	return projection.Pagination{Page: a.Page, Limit: a.Limit}
}

// GetOrderArgument identifies one order.
type GetOrderArgument struct {
	UUID string `json:"uuid" jsonschema:"Order UUID"`
}

// CustomerOrdersArgument selects one customer's orders.
type CustomerOrdersArgument struct {
	CustomerID string `json:"customer_id" jsonschema:"Customer identifier"`
	Page       int    `json:"page,omitempty" jsonschema:"1-based page number, defaults to 1"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Page size, defaults to 10, at most 100"`
}

// SearchOrdersArgument filters orders. Unset fields are ignored.
type SearchOrdersArgument struct {
	CustomerID  string   `json:"customer_id,omitempty" jsonschema:"Exact customer identifier"`
	Status      string   `json:"status,omitempty" jsonschema:"Exact status: PENDING, PROCESSING, SHIPPED, DELIVERED or CANCELED"`
	Text        string   `json:"text,omitempty" jsonschema:"Free text matched against product names, product ids and customer id"`
	MinTotal    *float64 `json:"min_total,omitempty" jsonschema:"Inclusive lower bound on the order total"`
	MaxTotal    *float64 `json:"max_total,omitempty" jsonschema:"Inclusive upper bound on the order total"`
	CreatedFrom string   `json:"created_from,omitempty" jsonschema:"Inclusive RFC3339 lower bound on creation time"`
	CreatedTo   string   `json:"created_to,omitempty" jsonschema:"Inclusive RFC3339 upper bound on creation time"`
	Page        int      `json:"page,omitempty" jsonschema:"1-based page number, defaults to 1"`
	Limit       int      `json:"limit,omitempty" jsonschema:"Page size, defaults to 10, at most 100"`
}

// QueryHandler serves the read-side order tools.
type QueryHandler struct {
	reader OrderReader
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(reader OrderReader) *QueryHandler {
	return &QueryHandler{reader: reader}
}

// HandleList lists all orders, newest first.
func (h *QueryHandler) HandleList(ctx context.Context, req *mcp.CallToolRequest, args PageArgument) (*mcp.CallToolResult, any, error) {
	page, err := h.reader.FindAll(ctx, args.pagination())
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(page), nil, nil
}

// HandleGet reads one order.
func (h *QueryHandler) HandleGet(ctx context.Context, req *mcp.CallToolRequest, args GetOrderArgument) (*mcp.CallToolResult, any, error) {
	id, bad := orderID(args.UUID)
	if bad != nil {
		return bad, nil, nil
	}

	order, found, err := h.reader.FindOneByUUID(ctx, id)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if !found {
		return errorResult(domain.NewOrderNotFoundError(id)), nil, nil
	}
	return jsonResult(order), nil, nil
}

// HandleCustomer lists one customer's orders.
func (h *QueryHandler) HandleCustomer(ctx context.Context, req *mcp.CallToolRequest, args CustomerOrdersArgument) (*mcp.CallToolResult, any, error) {
	customerID := strings.TrimSpace(args.CustomerID)
	if customerID == "" {
		return errorText("customer_id cannot be empty"), nil, nil
	}

	page, err := h.reader.FindByCustomer(ctx, customerID, projection.Pagination{Page: args.Page, Limit: args.Limit})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(page), nil, nil
}

// HandleSearch runs a filtered search.
func (h *QueryHandler) HandleSearch(ctx context.Context, req *mcp.CallToolRequest, args SearchOrdersArgument) (*mcp.CallToolResult, any, error) {
	filter, err := args.filter()
	if err != nil {
		return errorResult(err), nil, nil
	}

	page, err := h.reader.Search(ctx, filter, projection.Pagination{Page: args.Page, Limit: args.Limit})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(page), nil, nil
}

func (a SearchOrdersArgument) filter() (projection.Filter, error) {
	f := projection.Filter{
		CustomerID: strings.TrimSpace(a.CustomerID),
		Text:       strings.TrimSpace(a.Text),
		MinTotal:   a.MinTotal,
		MaxTotal:   a.MaxTotal,
	}

	if a.Status != "" {
		status, ok := domain.ParseStatus(a.Status)
		if !ok {
			return f, domain.NewValidationError(
				fmt.Sprintf("unknown status %q", a.Status),
				map[string]any{"allowed": domain.AllStatuses()},
			)
		}
		f.Status = status
	}

	if f.MinTotal != nil && f.MaxTotal != nil && *f.MinTotal > *f.MaxTotal {
		return f, domain.NewValidationError("min_total cannot exceed max_total", nil)
	}

	var err error
	if f.CreatedFrom, err = parseTime("created_from", a.CreatedFrom); err != nil {
		return f, err
	}
	if f.CreatedTo, err = parseTime("created_to", a.CreatedTo); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, domain.NewValidationError(
			fmt.Sprintf("%s must be an RFC3339 timestamp", field),
			map[string]any{"value": value},
		)
	}
	return &t, nil
}

// RegisterQueryTools registers the order read tools with an MCP server.
func RegisterQueryTools(server *mcp.Server, reader OrderReader) {
	h := NewQueryHandler(reader)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_orders",
		Description: "List orders from the search index, newest first, one page at a time",
	}, h.HandleList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_order",
		Description: "Get one order by UUID from the search index",
	}, h.HandleGet)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "customer_orders",
		Description: "List one customer's orders, newest first",
	}, h.HandleCustomer)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_orders",
		Description: "Search orders by customer, status, product text, total range and creation time range",
	}, h.HandleSearch)
}
