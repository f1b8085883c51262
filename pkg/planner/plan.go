package planner

import (
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// ExecutionPlan is the incremental execution request handed to the runner
type ExecutionPlan struct {
	Workflow        *workflow.Workflow `json:"workflowData"`
	RunData         rundata.RunHistory `json:"runData,omitempty"`
	PinData         rundata.PinnedData `json:"pinData,omitempty"`
	StartNodes      []string           `json:"startNodes"`
	DestinationNode string             `json:"destinationNode,omitempty"`
}

// Build plans a run of wf and wraps the decision into an ExecutionPlan carrying
// a snapshot of the workflow. Pinned data is passed through untouched.
func (p *Planner) Build(wf *workflow.Workflow, destination string, history rundata.RunHistory, pinned rundata.PinnedData) (*ExecutionPlan, error) {
	if wf == nil {
		return nil, sdkerrors.NewInternalError("", "workflow cannot be nil", sdkerrors.CodePlanFailed, nil)
	}

	result, err := p.Plan(wf, destination, history)
	if err != nil {
		return nil, err
	}

	snapshot := wf.Snapshot()
	if pinned == nil {
		pinned = snapshot.PinData
	}

	return &ExecutionPlan{
		Workflow:        snapshot,
		RunData:         result.RunData,
		PinData:         pinned,
		StartNodes:      result.StartNodes,
		DestinationNode: destination,
	}, nil
}

// ExecutionType is "node" for a run scoped to a destination and "workflow" otherwise
func (e *ExecutionPlan) ExecutionType() string {
	if e.DestinationNode != "" {
		return "node"
	}
	return "workflow"
}
