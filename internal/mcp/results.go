package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/order-index/internal/domain"
)

// jsonResult renders v as indented JSON text content.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorText(fmt.Sprintf("Failed to encode result: %s", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// errorResult reports err as a tool error. Tagged domain errors keep their
// code and details so clients can branch on them.
func errorResult(err error) *mcp.CallToolResult {
	var de *domain.Error
	if errors.As(err, &de) {
		payload := map[string]any{
			"code":    de.Code,
			"kind":    de.Kind,
			"message": de.Message,
		}
		if len(de.Details) > 0 {
			payload["details"] = de.Details
		}
		res := jsonResult(map[string]any{"error": payload})
		res.IsError = true
		return res
	}
	return errorText(err.Error())
}

func errorText(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
