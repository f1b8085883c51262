package issues

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.uber.org/zap"
)

// Checker validates the part of a workflow a run would execute
type Checker struct {
	registry *Registry
	logger   *zap.Logger
}

// NewChecker creates a checker over registry. A nil registry uses the
// built-in node types.
func NewChecker(registry *Registry, logger *zap.Logger) *Checker {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Checker{registry: registry, logger: logger}
}

// SetLogger sets a custom zap logger for the checker
func (c *Checker) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Registry returns the node type registry the checker uses
func (c *Checker) Registry() *Registry {
	return c.registry
}

// Validate checks destination and everything upstream of it, or every node
// when destination is empty. Disabled nodes are skipped. It returns nil when
// nothing is wrong.
func (c *Checker) Validate(ctx context.Context, wf *workflow.Workflow, destination string) (WorkflowIssues, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow cannot be nil")
	}

	var scope []string
	if destination == "" {
		scope = wf.NodeNames()
	} else {
		if _, ok := wf.Node(destination); !ok {
			return nil, fmt.Errorf("destination node %q not found", destination)
		}
		scope = append(wf.ParentNodes(destination, workflow.ConnectionMain, -1), destination)
	}

	var result WorkflowIssues
	for _, name := range scope {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := wf.Node(name)
		if !ok || node.Disabled {
			continue
		}

		found := c.checkNode(node)
		if found.IsEmpty() {
			continue
		}
		if result == nil {
			result = make(WorkflowIssues)
		}
		result[name] = found
	}

	if result != nil {
		c.logger.Debug("Workflow has issues",
			zap.String("workflow_id", wf.ID),
			zap.String("destination", destination),
			zap.Strings("nodes", result.Nodes()))
	}
	return result, nil
}

func (c *Checker) checkNode(node *workflow.Node) NodeIssues {
	var found NodeIssues

	nodeType, ok := c.registry.Lookup(node.Type)
	if !ok {
		found.TypeUnknown = true
		return found
	}

	for _, cred := range nodeType.Credentials {
		if !cred.Required || !shown(cred.Show, node.Parameters) {
			continue
		}
		if node.Credentials[cred.Name] == "" {
			found.addCredential(cred.Name,
				fmt.Sprintf("Credentials for %q are not set.", displayName(cred.Name, cred.DisplayName)))
		}
	}

	for _, param := range nodeType.Parameters {
		if !param.Required || !shown(param.Show, node.Parameters) {
			continue
		}
		if isBlank(node.Parameters[param.Name]) {
			found.addParameter(param.Name,
				fmt.Sprintf("Parameter %q is required.", displayName(param.Name, param.DisplayName)))
		}
	}

	return found
}

// shown reports whether every condition matches the node's parameter values
func shown(conditions map[string][]string, params map[string]interface{}) bool {
	for key, allowed := range conditions {
		value, ok := params[key]
		if !ok {
			return false
		}
		text := fmt.Sprint(value)
		match := false
		for _, a := range allowed {
			if a == text {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func isBlank(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}
