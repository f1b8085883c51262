package dispatch

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/issues"
	"github.com/wehubfusion/Daedalus/pkg/planner"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// HistoryStore provides the output of the previous run and the pinned data
type HistoryStore interface {
	RunData(ctx context.Context) (rundata.RunHistory, error)
	PinnedData(ctx context.Context) (rundata.PinnedData, error)
}

// IssueChecker reports what would make a run fail. A clean workflow yields nil.
type IssueChecker interface {
	Validate(ctx context.Context, wf *workflow.Workflow, destination string) (issues.WorkflowIssues, error)
}

// ConnectionMonitor reports whether the push channel that carries run
// progress back to the session is up
type ConnectionMonitor interface {
	IsActive() bool
}

// ExecutionHandle is the runner's answer to an accepted plan
type ExecutionHandle struct {
	ExecutionID       string `json:"executionId"`
	WaitingForWebhook bool   `json:"waitingForWebhook"`
}

// ExecutionSink submits a plan to the runner
type ExecutionSink interface {
	Submit(ctx context.Context, plan *planner.ExecutionPlan) (*ExecutionHandle, error)
}

// PersistenceService saves a workflow that has never been saved and returns its id
type PersistenceService interface {
	SaveIfNew(ctx context.Context, wf *workflow.Workflow) (string, error)
}

// PreflightEvent describes a run refused because of workflow issues
type PreflightEvent struct {
	WorkflowID     string           `json:"workflow_id"`
	WorkflowName   string           `json:"workflow_name"`
	ExecutionType  string           `json:"execution_type"`
	Destination    string           `json:"destination,omitempty"`
	Messages       []string         `json:"messages"`
	ErrorNodeTypes []string         `json:"error_node_types"`
	NodeIssues     []issues.Summary `json:"errors"`
}

// RunStartedEvent describes a run the runner accepted
type RunStartedEvent struct {
	WorkflowID    string   `json:"workflow_id"`
	WorkflowName  string   `json:"workflow_name"`
	ExecutionID   string   `json:"execution_id"`
	ExecutionType string   `json:"execution_type"`
	Destination   string   `json:"destination,omitempty"`
	Source        string   `json:"source,omitempty"`
	StartNodes    []string `json:"start_nodes"`
}

// SubmissionFailedEvent describes a plan the runner could not take
type SubmissionFailedEvent struct {
	WorkflowID    string `json:"workflow_id"`
	ExecutionType string `json:"execution_type"`
	Destination   string `json:"destination,omitempty"`
	Err           error  `json:"-"`
}

// Observer is told about runs that were refused or started. Calls happen on a
// background goroutine and must not block for long.
type Observer interface {
	PreflightFailed(ctx context.Context, event PreflightEvent)
	RunStarted(ctx context.Context, event RunStartedEvent)
}

// FailureObserver is optionally implemented by observers that also want
// submission failures
type FailureObserver interface {
	SubmissionFailed(ctx context.Context, event SubmissionFailedEvent)
}

// Request asks for a run. An empty Destination runs the whole workflow.
// Source names the UI surface that triggered it and is only reported.
type Request struct {
	Destination string
	Source      string
}

// OutcomeStatus is the coarse result of a dispatch attempt
type OutcomeStatus string

const (
	// StatusDispatched means the runner accepted the plan and the guard is held
	StatusDispatched OutcomeStatus = "dispatched"

	// StatusAborted means issues were found and nothing was submitted
	StatusAborted OutcomeStatus = "aborted"

	// StatusSuppressed means a run was already in flight
	StatusSuppressed OutcomeStatus = "suppressed"
)

// Outcome is what Run returns when no error occurred
type Outcome struct {
	Status OutcomeStatus
	State  State

	Plan   *planner.ExecutionPlan
	Handle *ExecutionHandle

	Issues   issues.WorkflowIssues
	Messages []string
}

// SubmissionError wraps the failure of handing a plan to the runner
type SubmissionError struct {
	ExecutionType string
	Err           error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("problem running %s: %v", e.ExecutionType, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
