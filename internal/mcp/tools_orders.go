package mcp

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/order-index/internal/domain"
)

var validate = validator.New()

// ItemArgument is one line of a new order.
type ItemArgument struct {
	ProductID   string  `json:"product_id" validate:"required" jsonschema:"Product identifier"`
	ProductName string  `json:"product_name" validate:"required" jsonschema:"Product display name"`
	Price       float64 `json:"price" validate:"gt=0" jsonschema:"Unit price, greater than zero"`
	Quantity    int     `json:"quantity" validate:"gte=1" jsonschema:"Quantity, at least 1"`
}

// CreateOrderArgument describes a new order.
type CreateOrderArgument struct {
	CustomerID string         `json:"customer_id" validate:"required" jsonschema:"Customer identifier"`
	Items      []ItemArgument `json:"items" validate:"required,min=1,dive" jsonschema:"Order lines, at least one"`
}

// UpdateStatusArgument moves an order to a new status.
type UpdateStatusArgument struct {
	UUID   string `json:"uuid" validate:"required" jsonschema:"Order UUID"`
	Status string `json:"status" validate:"required" jsonschema:"New status: PROCESSING, SHIPPED, DELIVERED or CANCELED"`
}

// OrderIDArgument identifies an order to cancel or delete.
type OrderIDArgument struct {
	UUID string `json:"uuid" validate:"required" jsonschema:"Order UUID"`
}

// OrderHandler serves the write-side order tools. Writes go to the primary
// store; the index catches up asynchronously.
type OrderHandler struct {
	writer OrderWriter
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(writer OrderWriter) *OrderHandler {
	return &OrderHandler{writer: writer}
}

// HandleCreate creates an order.
func (h *OrderHandler) HandleCreate(ctx context.Context, req *mcp.CallToolRequest, args CreateOrderArgument) (*mcp.CallToolResult, any, error) {
	if err := validate.Struct(args); err != nil {
		return errorResult(domain.NewValidationError("invalid order", map[string]any{"error": err.Error()})), nil, nil
	}

	items := make([]domain.ItemInput, 0, len(args.Items))
	for _, it := range args.Items {
		items = append(items, domain.ItemInput{
			ProductID:   strings.TrimSpace(it.ProductID),
			ProductName: strings.TrimSpace(it.ProductName),
			Price:       it.Price,
			Quantity:    it.Quantity,
		})
	}

	order, err := h.writer.CreateOrder(ctx, strings.TrimSpace(args.CustomerID), items)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(order), nil, nil
}

// HandleUpdateStatus changes an order's status.
func (h *OrderHandler) HandleUpdateStatus(ctx context.Context, req *mcp.CallToolRequest, args UpdateStatusArgument) (*mcp.CallToolResult, any, error) {
	if err := validate.Struct(args); err != nil {
		return errorResult(domain.NewValidationError("invalid status update", map[string]any{"error": err.Error()})), nil, nil
	}
	status, ok := domain.ParseStatus(args.Status)
	if !ok {
		return errorResult(domain.NewValidationError(
			"unknown status "+args.Status,
			map[string]any{"allowed": domain.AllStatuses()},
		)), nil, nil
	}

	id, bad := orderID(args.UUID)
	if bad != nil {
		return bad, nil, nil
	}
	order, err := h.writer.UpdateStatus(ctx, id, status)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(order), nil, nil
}

// HandleCancel cancels an order.
func (h *OrderHandler) HandleCancel(ctx context.Context, req *mcp.CallToolRequest, args OrderIDArgument) (*mcp.CallToolResult, any, error) {
	id, bad := orderID(args.UUID)
	if bad != nil {
		return bad, nil, nil
	}
	order, err := h.writer.CancelOrder(ctx, id)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(order), nil, nil
}

// HandleDelete hard-deletes an order.
func (h *OrderHandler) HandleDelete(ctx context.Context, req *mcp.CallToolRequest, args OrderIDArgument) (*mcp.CallToolResult, any, error) {
	id, bad := orderID(args.UUID)
	if bad != nil {
		return bad, nil, nil
	}
	order, err := h.writer.DeleteOrder(ctx, id)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{"deleted": order.UUID}), nil, nil
}

// orderID trims raw and rejects anything that is not an order UUID, so a
// typo reports a validation failure rather than a missing order.
func orderID(raw string) (string, *mcp.CallToolResult) {
	id := strings.TrimSpace(raw)
	if !domain.IsValidOrderID(id) {
		return "", errorResult(domain.NewValidationError("uuid is not a valid order id", map[string]any{"uuid": raw}))
	}
	return id, nil
}

// RegisterOrderTools registers the order write tools with an MCP server.
func RegisterOrderTools(server *mcp.Server, writer OrderWriter) {
	h := NewOrderHandler(writer)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_order",
		Description: "Create a PENDING order; subtotals and total are computed from the items",
	}, h.HandleCreate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_order_status",
		Description: "Move an order along PENDING, PROCESSING, SHIPPED, DELIVERED; PENDING and PROCESSING orders may be CANCELED",
	}, h.HandleUpdateStatus)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_order",
		Description: "Cancel a PENDING or PROCESSING order",
	}, h.HandleCancel)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_order",
		Description: "Permanently delete an order and remove it from the search index",
	}, h.HandleDelete)
}
