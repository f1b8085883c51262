// Package workflow models the node graph a run is planned over.
package workflow

import (
	"github.com/wehubfusion/Daedalus/pkg/rundata"
)

// ConnectionMain is the only connection channel run planning follows
const ConnectionMain = "main"

// Node represents a node within a workflow
type Node struct {
	Name        string                 `json:"name" yaml:"name"`
	Type        string                 `json:"type" yaml:"type"`
	TypeVersion int                    `json:"typeVersion,omitempty" yaml:"typeVersion,omitempty"`
	Disabled    bool                   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Credentials map[string]string      `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	WebhookID   string                 `json:"webhookId,omitempty" yaml:"webhookId,omitempty"`
}

// Connection is a directed edge from the output of Source to the input of Target
type Connection struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`   // defaults to "main"
	Index  int    `json:"index,omitempty" yaml:"index,omitempty"` // output index on Source
}

// Workflow is a node graph plus the metadata needed to submit it
type Workflow struct {
	ID          string             `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string             `json:"name" yaml:"name"`
	Active      bool               `json:"active" yaml:"active"`
	Nodes       []Node             `json:"nodes" yaml:"nodes"`
	Connections []Connection       `json:"connections" yaml:"connections"`
	PinData     rundata.PinnedData `json:"pinData,omitempty" yaml:"pinData,omitempty"`
}

// IsNew reports whether the workflow was never persisted
func (w *Workflow) IsNew() bool {
	return w.ID == ""
}

// Node looks up a node by name
func (w *Workflow) Node(name string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// NodeNames returns node names in declaration order
func (w *Workflow) NodeNames() []string {
	names := make([]string, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		names = append(names, n.Name)
	}
	return names
}

// HasNodeOfType reports whether an enabled node matches one of the given types
func (w *Workflow) HasNodeOfType(types map[string]bool) bool {
	for _, n := range w.Nodes {
		if !n.Disabled && types[n.Type] {
			return true
		}
	}
	return false
}

// HasWebhookNode reports whether an enabled node can be triggered from outside,
// either because it carries a webhook id or its type is a known webhook trigger
func (w *Workflow) HasWebhookNode(webhookTypes map[string]bool) bool {
	for _, n := range w.Nodes {
		if n.Disabled {
			continue
		}
		if n.WebhookID != "" || webhookTypes[n.Type] {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy that can be handed to the runner while the
// session keeps editing its own copy
func (w *Workflow) Snapshot() *Workflow {
	out := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Active:      w.Active,
		Nodes:       make([]Node, len(w.Nodes)),
		Connections: append([]Connection(nil), w.Connections...),
		PinData:     w.PinData.Clone(),
	}
	for i, n := range w.Nodes {
		cp := n
		if n.Parameters != nil {
			cp.Parameters = make(map[string]interface{}, len(n.Parameters))
			for k, v := range n.Parameters {
				cp.Parameters[k] = v
			}
		}
		if n.Credentials != nil {
			cp.Credentials = make(map[string]string, len(n.Credentials))
			for k, v := range n.Credentials {
				cp.Credentials[k] = v
			}
		}
		out.Nodes[i] = cp
	}
	return out
}

func connectionType(c Connection) string {
	if c.Type == "" {
		return ConnectionMain
	}
	return c.Type
}
