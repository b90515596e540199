// Package catalog loads the static allowlist of downstream MCP servers
// the gateway may proxy.
package catalog

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Server describes one downstream MCP server the gateway can activate.
type Server struct {
	// Name is the catalog key clients pass to enable_server.
	Name string `yaml:"-" json:"name"`
	// Description is shown to clients in search_servers results.
	Description string `yaml:"description" json:"description"`
	// URL is the absolute base URL of the downstream streamable HTTP endpoint.
	URL string `yaml:"url" json:"url"`
	// Audience identifies the downstream server during token exchange.
	Audience string `yaml:"audience" json:"audience"`
	// RequiredRole is the access role a caller must hold to enable this server.
	RequiredRole string `yaml:"required_role" json:"required_role"`
}

// Catalog is an immutable, ordered set of downstream servers keyed by name.
// The order of entries follows the source document.
type Catalog struct {
	byName map[string]*Server
	order  []*Server
}

// LoadFile reads a catalog YAML file, expands ${VAR} references, and parses it.
func LoadFile(path string) (*Catalog, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse([]byte(expandEnvVars(string(data))))
}

// Parse decodes catalog YAML. Server order in the document is preserved, so
// search results are stable across calls.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Servers yaml.Node `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]*Server)}
	if doc.Servers.Kind == 0 {
		return c, nil
	}
	if doc.Servers.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing catalog: servers must be a mapping")
	}

	for i := 0; i+1 < len(doc.Servers.Content); i += 2 {
		keyNode := doc.Servers.Content[i]
		valNode := doc.Servers.Content[i+1]

		name := keyNode.Value
		if name == "" {
			return nil, fmt.Errorf("parsing catalog: server name must not be empty")
		}
		if _, exists := c.byName[name]; exists {
			return nil, fmt.Errorf("parsing catalog: duplicate server %q", name)
		}

		srv := &Server{Name: name}
		if err := valNode.Decode(srv); err != nil {
			return nil, fmt.Errorf("parsing catalog: server %q: %w", name, err)
		}
		if err := srv.validate(); err != nil {
			return nil, fmt.Errorf("catalog server %q: %w", name, err)
		}

		c.byName[name] = srv
		c.order = append(c.order, srv)
	}

	return c, nil
}

// validate checks the required fields of a catalog entry.
func (s *Server) validate() error {
	var errs []string

	if s.URL == "" {
		errs = append(errs, "url is required")
	} else if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("url %q must be an absolute URL", s.URL))
	}
	if s.Audience == "" {
		errs = append(errs, "audience is required")
	}
	if s.RequiredRole == "" {
		errs = append(errs, "required_role is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the server with the given name.
func (c *Catalog) Get(name string) (*Server, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Ordered returns all servers in document order.
func (c *Catalog) Ordered() []*Server {
	out := make([]*Server, len(c.order))
	copy(out, c.order)
	return out
}

// Search returns servers whose name or description contains the query,
// case-insensitively, in document order. An empty query matches every server.
func (c *Catalog) Search(query string) []*Server {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]*Server, 0, len(c.order))
	for _, s := range c.order {
		if q == "" ||
			strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.Description), q) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.byName)
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}
