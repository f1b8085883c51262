package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

func TestSessionLifecycle(t *testing.T) {
	s := New(&workflow.Workflow{Name: "orders"})
	assert.Equal(t, StatusIdle, s.Status())

	s.SetSubWorkflowError(errors.New("child failed"))
	s.SetWorkflowID("wf-42")
	assert.Equal(t, "wf-42", s.Workflow().ID)

	s.BeginExecution(&ExecutionData{
		ID:        InProgressExecutionID,
		Mode:      ModeManual,
		StartedAt: time.Now(),
		RunData:   rundata.RunHistory{},
	})
	assert.Equal(t, StatusExecuting, s.Status())
	assert.NoError(t, s.SubWorkflowError(), "starting a run clears the sub-workflow error")

	s.SetActiveExecution("exec-1", true)
	assert.Equal(t, "exec-1", s.ActiveExecutionID())
	assert.True(t, s.WaitingForWebhook())
	require.NotNil(t, s.Execution())
	assert.Equal(t, "exec-1", s.Execution().ID)

	s.FinishExecution("success")
	assert.Empty(t, s.ActiveExecutionID())
	assert.False(t, s.WaitingForWebhook())
	assert.True(t, s.Execution().Finished)
	assert.Equal(t, StatusIdle, s.Status())
}

func TestFinishWithError(t *testing.T) {
	s := New(nil)
	s.SetWorkflowID("ignored")
	assert.Nil(t, s.Workflow())

	s.FinishExecution("error")
	assert.Equal(t, StatusError, s.Status())
	assert.Nil(t, s.Execution())
}
