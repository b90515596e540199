package middleware

import (
	"context"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPToolOrderMiddleware creates MCP protocol-level middleware that rewrites
// tools/list responses into the gateway's canonical order: built-in tools
// first, then proxied tools in registration order.
//
// The SDK lists tools alphabetically, which buries the built-ins that a
// client needs first (search_servers, enable_server) below whatever the
// enabled servers expose. The order callback supplies the canonical name
// sequence on every list; names missing from it keep their relative position
// after the known ones.
func MCPToolOrderMiddleware(order func() []string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			result, err := next(ctx, method, req)
			if err != nil {
				return result, err
			}
			return reorderToolList(order, method, result)
		}
	}
}

// reorderToolList sorts a tools/list response by the canonical name sequence.
// Non-tools/list methods pass through unchanged.
func reorderToolList(order func() []string, method string, result mcp.Result) (mcp.Result, error) {
	if method != methodToolsList {
		return result, nil
	}

	listResult, ok := result.(*mcp.ListToolsResult)
	if !ok || listResult == nil {
		return result, nil
	}

	canonical := order()
	rank := make(map[string]int, len(canonical))
	for i, name := range canonical {
		rank[name] = i
	}

	known := make([]*mcp.Tool, 0, len(listResult.Tools))
	var unknown []*mcp.Tool
	for _, tool := range listResult.Tools {
		if _, ok := rank[tool.Name]; ok {
			known = append(known, tool)
		} else {
			unknown = append(unknown, tool)
		}
	}
	sort.SliceStable(known, func(i, j int) bool {
		return rank[known[i].Name] < rank[known[j].Name]
	})
	listResult.Tools = append(known, unknown...)

	return listResult, nil
}
