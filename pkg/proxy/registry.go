// Package proxy implements the gateway's dynamic tool plane: the global
// registry of proxied tools, the activation engine that populates it, and
// the dispatcher that routes calls to downstream servers.
package proxy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// defaultInputSchema is used for discovered tools that publish no schema.
const defaultInputSchema = `{"type":"object"}`

// Tool is a proxied downstream tool registered with the gateway. Tools live
// for the process lifetime; per-session availability is gated at dispatch.
type Tool struct {
	// Name is the globally unique tool name.
	Name string

	// Server is the catalog name of the owning downstream server.
	Server string

	// Description is the description published by the downstream server.
	Description string

	// InputSchema is the JSON schema document carried verbatim from
	// discovery. The MCP server validates call arguments against it.
	InputSchema json.RawMessage
}

// Registry is the global registry of proxied tools. Each tool name has
// exactly one owning server; registration order is preserved for tool
// listing.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds the tools discovered on a server to the registry. The batch
// is all-or-nothing: if any tool name is already owned by a different
// server, nothing is registered and ErrToolCollision is returned. Tools
// already registered by the same server are skipped, which makes
// re-activation from another session idempotent.
//
// Register returns the newly added tools so the caller can bind handlers
// for them; previously known tools are already bound.
func (r *Registry) Register(server string, discovered []*mcp.Tool) ([]*Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole batch before mutating anything.
	batch := make([]*Tool, 0, len(discovered))
	for _, t := range discovered {
		if t.Name == "" {
			return nil, fmt.Errorf("server %q published a tool with no name", server)
		}
		if existing, ok := r.tools[t.Name]; ok {
			if existing.Server == server {
				continue
			}
			return nil, fmt.Errorf("%w: tool %q already registered by server %q",
				ErrToolCollision, t.Name, existing.Server)
		}

		schema, err := normalizeSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("server %q tool %q: %w", server, t.Name, err)
		}
		if err := validateSchema(schema); err != nil {
			return nil, fmt.Errorf("server %q tool %q: %w", server, t.Name, err)
		}

		batch = append(batch, &Tool{
			Name:        t.Name,
			Server:      server,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	for _, t := range batch {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return batch, nil
}

// Lookup returns the registered tool with the given name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// normalizeSchema converts a discovered input schema to canonical JSON
// bytes. The SDK carries Tool.InputSchema as whatever shape the wire had,
// typically a map for tools listed from a remote server; proxied tools
// store and re-publish the raw document.
func normalizeSchema(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(defaultInputSchema), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding input schema: %w", err)
	}
	if string(raw) == "null" {
		return json.RawMessage(defaultInputSchema), nil
	}
	return raw, nil
}

// validateSchema checks that a discovered input schema is a resolvable JSON
// schema document, so a bad downstream schema fails activation instead of
// poisoning the shared MCP server.
func validateSchema(raw json.RawMessage) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("parsing input schema: %w", err)
	}
	if _, err := schema.Resolve(nil); err != nil {
		return fmt.Errorf("resolving input schema: %w", err)
	}
	return nil
}
