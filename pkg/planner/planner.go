// Package planner decides which nodes of a workflow must run again for a
// partial execution and which can reuse the output of the previous run.
//
// The planner walks every branch feeding the destination node from its roots
// towards the destination. Cached output is reused until the first node that
// has none; that node becomes a start node for its branch and nothing below it
// on that branch is reused. Reused nodes are trimmed to their first record.
package planner

import (
	"fmt"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.uber.org/zap"
)

// GraphView is the read-only view of the workflow the planner needs
type GraphView interface {
	Node(name string) (*workflow.Node, bool)
	ParentNodes(name, channel string, depth int) []string
}

// Result is what the planner decides for one run
type Result struct {
	// RunData holds the reused records, at most one per node. Nil when nothing
	// is reused, which tells the runner to execute normally.
	RunData rundata.RunHistory

	// StartNodes are the per-branch resume points, in discovery order
	StartNodes []string
}

// IsFullRun reports whether the runner gets no cached data at all
func (r *Result) IsFullRun() bool {
	return r.RunData == nil
}

// Planner computes incremental execution plans
type Planner struct {
	logger *zap.Logger
}

// New creates a planner. A nil logger falls back to a production logger.
func New(logger *zap.Logger) *Planner {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Planner{logger: logger}
}

// SetLogger sets a custom zap logger for the planner
func (p *Planner) SetLogger(logger *zap.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Plan computes the reused data and start nodes for a run ending at
// destination. An empty destination plans a full-graph run.
func (p *Planner) Plan(graph GraphView, destination string, history rundata.RunHistory) (*Result, error) {
	if graph == nil {
		return nil, sdkerrors.NewInternalError("", "graph cannot be nil", sdkerrors.CodePlanFailed, nil)
	}
	if destination != "" {
		if _, ok := graph.Node(destination); !ok {
			return nil, unknownNode(destination)
		}
	}

	if history.IsEmpty() || destination == "" {
		result := fullRun(destination)
		p.logger.Debug("Planned full run",
			zap.String("destination", destination),
			zap.Bool("has_history", !history.IsEmpty()))
		return result, nil
	}

	var branches []branchResult
	for _, parent := range graph.ParentNodes(destination, workflow.ConnectionMain, 1) {
		node, ok := graph.Node(parent)
		if !ok {
			return nil, unknownNode(parent)
		}
		if node.Disabled {
			p.logger.Debug("Pruned disabled branch", zap.String("parent", parent))
			continue
		}
		chain := append(graph.ParentNodes(parent, workflow.ConnectionMain, -1), parent)
		branches = append(branches, walkBranch(chain, history))
	}

	result := compose(branches, history)
	if len(result.StartNodes) == 0 {
		result.StartNodes = []string{destination}
	}

	p.logger.Debug("Planned partial run",
		zap.String("destination", destination),
		zap.Int("branches", len(branches)),
		zap.Int("reused_nodes", len(result.RunData)),
		zap.Strings("start_nodes", result.StartNodes))

	return result, nil
}

func fullRun(destination string) *Result {
	result := &Result{StartNodes: []string{}}
	if destination != "" {
		result.StartNodes = []string{destination}
	}
	return result
}

func unknownNode(name string) error {
	return sdkerrors.NewNotFoundError(
		fmt.Sprintf("node %q is not part of the workflow", name),
		sdkerrors.CodeUnknownNode,
		sdkerrors.ErrUnknownNode,
	)
}
