package issues

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Parameter describes one node parameter as far as preflight checks care
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`

	// Show limits the parameter to nodes whose other parameters hold one of
	// the listed values. Every key must match.
	Show map[string][]string `yaml:"show,omitempty" json:"show,omitempty"`
}

// Credential describes a credential slot of a node type
type Credential struct {
	Name        string              `yaml:"name" json:"name"`
	DisplayName string              `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Required    bool                `yaml:"required,omitempty" json:"required,omitempty"`
	Show        map[string][]string `yaml:"show,omitempty" json:"show,omitempty"`
}

// NodeType is the registry entry for one node type
type NodeType struct {
	Name        string       `yaml:"name" json:"name"`
	DisplayName string       `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Webhook     bool         `yaml:"webhook,omitempty" json:"webhook,omitempty"`
	Parameters  []Parameter  `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Credentials []Credential `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// Registry maps node type names to their descriptions
type Registry struct {
	mu    sync.RWMutex
	types map[string]NodeType
}

// NewRegistry creates a registry holding the given types
func NewRegistry(types ...NodeType) *Registry {
	r := &Registry{types: make(map[string]NodeType, len(types))}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a node type
func (r *Registry) Register(t NodeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
}

// Lookup returns the description of a node type
func (r *Registry) Lookup(name string) (NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// WebhookTypes returns the set of types that start a run from an inbound call
func (r *Registry) WebhookTypes() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool)
	for name, t := range r.types {
		if t.Webhook {
			out[name] = true
		}
	}
	return out
}

// Names returns the registered type names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadRegistryFile reads a YAML list of node types and registers them on top
// of base. A nil base starts from an empty registry.
func LoadRegistryFile(path string, base *Registry) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read node type file: %w", err)
	}

	var doc struct {
		NodeTypes []NodeType `yaml:"nodeTypes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse node type file %s: %w", path, err)
	}

	if base == nil {
		base = NewRegistry()
	}
	for _, t := range doc.NodeTypes {
		if t.Name == "" {
			return nil, fmt.Errorf("node type without a name in %s", path)
		}
		base.Register(t)
	}
	return base, nil
}

// DefaultRegistry returns the built-in node types
func DefaultRegistry() *Registry {
	tableOps := []string{"select", "insert", "update", "upsert", "deleteTable"}

	return NewRegistry(
		NodeType{Name: "manualTrigger", DisplayName: "Manual Trigger"},
		NodeType{Name: "noOp", DisplayName: "No Operation"},
		NodeType{
			Name:       "webhook",
			Webhook:    true,
			Parameters: []Parameter{{Name: "path", Required: true}, {Name: "httpMethod"}},
		},
		NodeType{
			Name:       "formTrigger",
			Webhook:    true,
			Parameters: []Parameter{{Name: "formTitle", Required: true}},
		},
		NodeType{
			Name:        "httpRequest",
			DisplayName: "HTTP Request",
			Parameters:  []Parameter{{Name: "url", DisplayName: "URL", Required: true}, {Name: "method"}},
		},
		NodeType{
			Name: "postgres",
			Parameters: []Parameter{
				{Name: "operation", Required: true},
				{Name: "table", Required: true, Show: map[string][]string{"operation": tableOps}},
				{Name: "query", Required: true, Show: map[string][]string{"operation": {"executeQuery"}}},
				{Name: "columnToMatchOn", Required: true, Show: map[string][]string{"operation": {"update", "upsert"}}},
			},
			Credentials: []Credential{{Name: "postgres", DisplayName: "Postgres account", Required: true}},
		},
	)
}

// displayName falls back to a title-cased rendering of a camelCase name
func displayName(name, explicit string) string {
	if explicit != "" {
		return explicit
	}
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return cases.Title(language.English, cases.NoLower).String(b.String())
}
