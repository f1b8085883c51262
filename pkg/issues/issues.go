// Package issues finds the problems that would make a run fail before it
// reaches the runner: unknown node types, missing required parameters and
// unset credentials.
package issues

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// UnknownNodeType is reported for issues on nodes the workflow no longer has
const UnknownNodeType = "UNKNOWN"

// NodeIssues lists what is wrong with one node. Parameter and credential
// issues are keyed by parameter or credential name.
type NodeIssues struct {
	TypeUnknown bool                `json:"typeUnknown,omitempty"`
	Parameters  map[string][]string `json:"parameters,omitempty"`
	Credentials map[string][]string `json:"credentials,omitempty"`
}

// IsEmpty reports whether the node has no issues
func (n NodeIssues) IsEmpty() bool {
	return !n.TypeUnknown && len(n.Parameters) == 0 && len(n.Credentials) == 0
}

// Strings renders the issues as sentences, type first, then credentials and
// parameters in name order
func (n NodeIssues) Strings() []string {
	var out []string
	if n.TypeUnknown {
		out = append(out, "Node Type unknown.")
	}
	for _, key := range sortedKeys(n.Credentials) {
		out = append(out, n.Credentials[key]...)
	}
	for _, key := range sortedKeys(n.Parameters) {
		out = append(out, n.Parameters[key]...)
	}
	return out
}

func (n *NodeIssues) addParameter(name, text string) {
	if n.Parameters == nil {
		n.Parameters = make(map[string][]string)
	}
	n.Parameters[name] = append(n.Parameters[name], text)
}

func (n *NodeIssues) addCredential(name, text string) {
	if n.Credentials == nil {
		n.Credentials = make(map[string][]string)
	}
	n.Credentials[name] = append(n.Credentials[name], text)
}

// WorkflowIssues maps node names to their issues. A clean workflow is nil.
type WorkflowIssues map[string]NodeIssues

// Nodes returns the names of the nodes with issues, sorted
func (w WorkflowIssues) Nodes() []string {
	return sortedKeys(w)
}

// Messages renders every issue as "<node>: <issue>"
func (w WorkflowIssues) Messages() []string {
	var out []string
	for _, node := range w.Nodes() {
		for _, text := range w[node].Strings() {
			out = append(out, fmt.Sprintf("%s: %s", node, text))
		}
	}
	return out
}

// Summary is the per-node preflight failure record sent to telemetry
type Summary struct {
	NodeType           string `json:"node_type"`
	Error              string `json:"error"`
	CausedByCredential bool   `json:"caused_by_credential"`
}

// Summaries describes each node with issues, looked up in wf for its type.
// The second result lists the node types in the same order.
func (w WorkflowIssues) Summaries(wf *workflow.Workflow) ([]Summary, []string) {
	summaries := make([]Summary, 0, len(w))
	types := make([]string, 0, len(w))

	for _, name := range w.Nodes() {
		nodeType := UnknownNodeType
		if wf != nil {
			if node, ok := wf.Node(name); ok {
				nodeType = node.Type
			}
		}
		issues := w[name]
		types = append(types, nodeType)
		summaries = append(summaries, Summary{
			NodeType:           nodeType,
			Error:              strings.Join(issues.Strings(), ", "),
			CausedByCredential: len(issues.Credentials) > 0,
		})
	}
	return summaries, types
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
