// Package session keeps the client-side state of one editing session: the
// workflow being edited, the execution it last started and its run status.
package session

import (
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// InProgressExecutionID marks the snapshot taken before the runner assigns an id
const InProgressExecutionID = "__IN_PROGRESS__"

// ModeManual is the execution mode of runs started from a session
const ModeManual = "manual"

// RunStatus is the coarse status shown next to the workflow name
type RunStatus string

const (
	StatusIdle      RunStatus = "IDLE"
	StatusExecuting RunStatus = "EXECUTING"
	StatusError     RunStatus = "ERROR"
)

// ExecutionData is the pre-run snapshot the session shows while a run is in flight
type ExecutionData struct {
	ID           string             `json:"id"`
	Finished     bool               `json:"finished"`
	Mode         string             `json:"mode"`
	StartedAt    time.Time          `json:"startedAt"`
	ExecutedNode string             `json:"executedNode,omitempty"`
	RunData      rundata.RunHistory `json:"runData"`
	PinData      rundata.PinnedData `json:"pinData,omitempty"`
	StartNodes   []string           `json:"startNodes"`
	Workflow     *workflow.Workflow `json:"workflowData"`
	Status       string             `json:"status,omitempty"`
}

// Session is safe for concurrent use
type Session struct {
	mu sync.RWMutex

	workflow          *workflow.Workflow
	execution         *ExecutionData
	activeExecutionID string
	waitingForWebhook bool
	subWorkflowError  error
	status            RunStatus
}

// New creates a session editing wf
func New(wf *workflow.Workflow) *Session {
	return &Session{workflow: wf, status: StatusIdle}
}

// Workflow returns the workflow being edited
func (s *Session) Workflow() *workflow.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflow
}

// SetWorkflow replaces the workflow being edited
func (s *Session) SetWorkflow(wf *workflow.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflow = wf
}

// SetWorkflowID records the id a new workflow received when it was saved
func (s *Session) SetWorkflowID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workflow != nil {
		s.workflow.ID = id
	}
}

// BeginExecution stores the pre-run snapshot and clears the error left by a
// previous sub-workflow execution
func (s *Session) BeginExecution(data *ExecutionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execution = data
	s.subWorkflowError = nil
	s.status = StatusExecuting
}

// Execution returns the current execution snapshot, if any
func (s *Session) Execution() *ExecutionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execution
}

// SetActiveExecution records the id the runner assigned and whether the run
// waits for an inbound webhook call
func (s *Session) SetActiveExecution(id string, waitingForWebhook bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeExecutionID = id
	s.waitingForWebhook = waitingForWebhook
	if s.execution != nil && id != "" {
		s.execution.ID = id
	}
}

// ActiveExecutionID returns the id of the run in flight
func (s *Session) ActiveExecutionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeExecutionID
}

// WaitingForWebhook reports whether the run in flight waits for a webhook call
func (s *Session) WaitingForWebhook() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitingForWebhook
}

// FinishExecution marks the snapshot finished and clears the active execution
func (s *Session) FinishExecution(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execution != nil {
		s.execution.Finished = true
		s.execution.Status = status
	}
	s.activeExecutionID = ""
	s.waitingForWebhook = false
	if status == "error" || status == "crashed" {
		s.status = StatusError
	} else {
		s.status = StatusIdle
	}
}

// SetSubWorkflowError records the error of a sub-workflow execution
func (s *Session) SetSubWorkflowError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subWorkflowError = err
}

// SubWorkflowError returns the last sub-workflow execution error
func (s *Session) SubWorkflowError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subWorkflowError
}

// SetStatus sets the run status
func (s *Session) SetStatus(status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status returns the run status
func (s *Session) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
