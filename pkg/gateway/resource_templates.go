package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// Resource template URI patterns.
const serverTemplateURI = "gateway://servers/{name}"

// registerResourceTemplates registers the gateway's MCP resource templates.
func (g *Gateway) registerResourceTemplates() {
	g.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: serverTemplateURI,
		Name:        "Catalog Server",
		Description: "Catalog entry for a downstream MCP server: description, token audience, and required access role",
		MIMEType:    "application/json",
	}, g.handleServerResource)
}

// serverResourceResult is the serializable catalog entry. The downstream
// URL is deliberately omitted; clients reach downstream servers only
// through the gateway.
type serverResourceResult struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Audience     string `json:"audience"`
	RequiredRole string `json:"required_role"`
}

// handleServerResource handles gateway://servers/{name} requests.
func (g *Gateway) handleServerResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(serverTemplateURI, uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	name := vars["name"]
	if name == "" {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	srv, ok := g.catalog.Get(name)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	return marshalResourceResult(uri, serverResourceResult{
		Name:         srv.Name,
		Description:  srv.Description,
		Audience:     srv.Audience,
		RequiredRole: srv.RequiredRole,
	})
}

// parseTemplateVars extracts named variables from a URI using a URI template.
// Returns a map of variable names to their values, or an error if the URI
// doesn't match the template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("uri %q does not match template %q", uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		result[name] = match.Get(name).String()
	}
	return result, nil
}

// marshalResourceResult marshals a value to JSON and wraps it in a ReadResourceResult.
func marshalResourceResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
