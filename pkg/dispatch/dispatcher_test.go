package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/issues"
	"github.com/wehubfusion/Daedalus/pkg/planner"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/session"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeMonitor struct {
	inactive atomic.Bool
}

func (m *fakeMonitor) IsActive() bool { return !m.inactive.Load() }

type fakeChecker struct {
	issues issues.WorkflowIssues
	err    error
	calls  atomic.Int32
}

func (c *fakeChecker) Validate(ctx context.Context, wf *workflow.Workflow, destination string) (issues.WorkflowIssues, error) {
	c.calls.Add(1)
	return c.issues, c.err
}

type fakeSink struct {
	mu    sync.Mutex
	plans []*planner.ExecutionPlan
	err   error
	next  int
}

func (s *fakeSink) Submit(ctx context.Context, plan *planner.ExecutionPlan) (*ExecutionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, plan)
	if s.err != nil {
		return nil, s.err
	}
	s.next++
	return &ExecutionHandle{ExecutionID: fmt.Sprintf("exec-%d", s.next), WaitingForWebhook: plan.Workflow.HasWebhookNode(nil)}, nil
}

func (s *fakeSink) submitted() []*planner.ExecutionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*planner.ExecutionPlan(nil), s.plans...)
}

type fakePersistence struct {
	id    string
	err   error
	calls atomic.Int32
}

func (p *fakePersistence) SaveIfNew(ctx context.Context, wf *workflow.Workflow) (string, error) {
	p.calls.Add(1)
	return p.id, p.err
}

type failingHistory struct{}

func (failingHistory) RunData(ctx context.Context) (rundata.RunHistory, error) {
	return nil, errors.New("redis unavailable")
}

func (failingHistory) PinnedData(ctx context.Context) (rundata.PinnedData, error) {
	return nil, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	preflight []PreflightEvent
	started   []RunStartedEvent
	failed    []SubmissionFailedEvent
}

func (o *recordingObserver) PreflightFailed(ctx context.Context, e PreflightEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preflight = append(o.preflight, e)
}

func (o *recordingObserver) RunStarted(ctx context.Context, e RunStartedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, e)
}

func (o *recordingObserver) SubmissionFailed(ctx context.Context, e SubmissionFailedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, e)
}

type panickingObserver struct{}

func (panickingObserver) PreflightFailed(ctx context.Context, e PreflightEvent) { panic("boom") }
func (panickingObserver) RunStarted(ctx context.Context, e RunStartedEvent)     { panic("boom") }

type harness struct {
	d        *Dispatcher
	session  *session.Session
	monitor  *fakeMonitor
	checker  *fakeChecker
	sink     *fakeSink
	persist  *fakePersistence
	observer *recordingObserver
	guard    *concurrency.ActiveActions
	history  *rundata.MemoryStore
}

func chain() *workflow.Workflow {
	return &workflow.Workflow{
		ID:   "wf-1",
		Name: "chain",
		Nodes: []workflow.Node{
			{Name: "A", Type: "manualTrigger"},
			{Name: "B", Type: "noOp"},
			{Name: "C", Type: "noOp"},
		},
		Connections: []workflow.Connection{
			{Source: "A", Target: "B", Type: workflow.ConnectionMain},
			{Source: "B", Target: "C", Type: workflow.ConnectionMain},
		},
	}
}

func newHarness(t *testing.T, wf *workflow.Workflow, logger *zap.Logger) *harness {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &harness{
		session:  session.New(wf),
		monitor:  &fakeMonitor{},
		checker:  &fakeChecker{},
		sink:     &fakeSink{},
		persist:  &fakePersistence{id: "wf-saved"},
		observer: &recordingObserver{},
		guard:    concurrency.NewActiveActions(),
		history: rundata.NewMemoryStore(rundata.RunHistory{
			"A": {{Status: "success"}},
			"B": {},
		}, nil),
	}

	d, err := New(Options{
		Session:      h.session,
		History:      h.history,
		Checker:      h.checker,
		Monitor:      h.monitor,
		Sink:         h.sink,
		Persistence:  h.persist,
		WebhookTypes: map[string]bool{"webhook": true},
		Observers:    []Observer{h.observer},
		Guard:        h.guard,
		Logger:       logger,
	})
	require.NoError(t, err)
	h.d = d
	return h
}

func TestRunDispatchesIncrementalPlan(t *testing.T) {
	h := newHarness(t, chain(), nil)

	outcome, err := h.d.Run(context.Background(), Request{Destination: "C", Source: "node-button"})
	require.NoError(t, err)

	assert.Equal(t, StatusDispatched, outcome.Status)
	assert.Equal(t, StateDispatched, outcome.State)
	require.NotNil(t, outcome.Plan)
	assert.Equal(t, []string{"B"}, outcome.Plan.StartNodes)
	assert.Equal(t, rundata.RunHistory{"A": {{Status: "success"}}}, outcome.Plan.RunData)
	assert.Equal(t, "C", outcome.Plan.DestinationNode)

	assert.True(t, h.d.Running(), "guard stays held until completion")
	assert.Equal(t, "exec-1", h.session.ActiveExecutionID())
	assert.Equal(t, session.StatusExecuting, h.session.Status())

	exec := h.session.Execution()
	require.NotNil(t, exec)
	assert.Equal(t, "exec-1", exec.ID)
	assert.Equal(t, session.ModeManual, exec.Mode)
	assert.Equal(t, "C", exec.ExecutedNode)

	h.d.Wait()
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	require.Len(t, h.observer.started, 1)
	assert.Equal(t, "node-button", h.observer.started[0].Source)
	assert.Equal(t, "node", h.observer.started[0].ExecutionType)
}

func TestRunWithoutConnection(t *testing.T) {
	h := newHarness(t, chain(), nil)
	h.monitor.inactive.Store(true)

	outcome, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.True(t, sdkerrors.IsNoActiveConnection(err))
	assert.True(t, errors.Is(err, sdkerrors.ErrNoActiveConnection))

	assert.False(t, h.d.Running())
	assert.Zero(t, h.checker.calls.Load())
	assert.Empty(t, h.sink.submitted())
	assert.Equal(t, session.StatusIdle, h.session.Status())
	assert.Nil(t, h.session.Execution())
}

func TestRunSuppressedWhileRunning(t *testing.T) {
	h := newHarness(t, chain(), nil)
	require.True(t, h.guard.Acquire(concurrency.ActionWorkflowRunning))

	outcome, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, outcome.Status)
	assert.Nil(t, outcome.Plan)
	assert.Zero(t, h.checker.calls.Load())
	assert.Empty(t, h.sink.submitted())
	assert.True(t, h.d.Running())
}

func TestRunAbortsOnIssues(t *testing.T) {
	h := newHarness(t, chain(), nil)
	h.checker.issues = issues.WorkflowIssues{
		"B": {Parameters: map[string][]string{"table": {`Parameter "Table" is required.`}}},
	}

	outcome, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, outcome.Status)
	assert.Equal(t, StateAbortedIssues, outcome.State)
	assert.Equal(t, []string{`B: Parameter "Table" is required.`}, outcome.Messages)
	assert.Contains(t, outcome.Issues, "B")

	assert.False(t, h.d.Running())
	assert.Empty(t, h.sink.submitted())
	assert.Equal(t, session.StatusError, h.session.Status())

	h.d.Wait()
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	require.Len(t, h.observer.preflight, 1)
	event := h.observer.preflight[0]
	assert.Equal(t, "node", event.ExecutionType)
	assert.Equal(t, []string{"noOp"}, event.ErrorNodeTypes)
	require.Len(t, event.NodeIssues, 1)
	assert.False(t, event.NodeIssues[0].CausedByCredential)
}

func TestRunValidationErrorLeavesGuard(t *testing.T) {
	h := newHarness(t, chain(), nil)
	h.checker.err = errors.New("registry unavailable")

	_, err := h.d.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.False(t, h.d.Running())
	assert.Empty(t, h.sink.submitted())
}

func TestRunRollsBackOnSubmitFailure(t *testing.T) {
	h := newHarness(t, chain(), nil)
	cause := sdkerrors.NewNetworkError("corr-1", errors.New("connection refused"))
	h.sink.err = cause

	outcome, err := h.d.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.Nil(t, outcome)

	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "workflow", subErr.ExecutionType)
	assert.True(t, sdkerrors.IsNetworkError(err))

	assert.False(t, h.d.Running(), "guard released after failed submission")
	assert.Equal(t, session.StatusError, h.session.Status())
	assert.Empty(t, h.session.ActiveExecutionID())

	h.d.Wait()
	h.observer.mu.Lock()
	require.Len(t, h.observer.failed, 1)
	assert.Empty(t, h.observer.started)
	h.observer.mu.Unlock()

	h.sink.err = nil
	outcome, err = h.d.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, outcome.Status)
}

func TestRunRollsBackOnPlanningFault(t *testing.T) {
	t.Run("unknown destination", func(t *testing.T) {
		h := newHarness(t, chain(), nil)
		_, err := h.d.Run(context.Background(), Request{Destination: "Missing"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, sdkerrors.ErrUnknownNode))
		assert.False(t, h.d.Running())
		assert.Empty(t, h.sink.submitted())
	})

	t.Run("history store failure", func(t *testing.T) {
		h := newHarness(t, chain(), nil)
		d, err := New(Options{
			Session:     h.session,
			History:     failingHistory{},
			Checker:     h.checker,
			Monitor:     h.monitor,
			Sink:        h.sink,
			Persistence: h.persist,
			Guard:       h.guard,
			Logger:      zap.NewNop(),
		})
		require.NoError(t, err)

		_, err = d.Run(context.Background(), Request{Destination: "C"})
		require.Error(t, err)
		assert.False(t, d.Running())
	})
}

func TestRunPersistsNewWebhookWorkflow(t *testing.T) {
	webhookFlow := func() *workflow.Workflow {
		wf := chain()
		wf.ID = ""
		wf.Nodes[0].Type = "webhook"
		return wf
	}

	t.Run("saved before submission", func(t *testing.T) {
		h := newHarness(t, webhookFlow(), nil)

		outcome, err := h.d.Run(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, int32(1), h.persist.calls.Load())
		assert.Equal(t, "wf-saved", h.session.Workflow().ID)
		assert.Equal(t, "wf-saved", outcome.Plan.Workflow.ID)
		assert.Equal(t, "wf-saved", h.sink.submitted()[0].Workflow.ID)
	})

	t.Run("failure releases the guard", func(t *testing.T) {
		h := newHarness(t, webhookFlow(), nil)
		h.persist.err = errors.New("blob storage down")

		_, err := h.d.Run(context.Background(), Request{})
		require.Error(t, err)
		var appErr *sdkerrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, sdkerrors.CodePersistFailed, appErr.Code)
		assert.False(t, h.d.Running())
		assert.Empty(t, h.sink.submitted())
	})

	t.Run("saved workflows are not persisted again", func(t *testing.T) {
		wf := webhookFlow()
		wf.ID = "wf-existing"
		h := newHarness(t, wf, nil)

		_, err := h.d.Run(context.Background(), Request{})
		require.NoError(t, err)
		assert.Zero(t, h.persist.calls.Load())
	})

	t.Run("new workflows without webhooks are not persisted", func(t *testing.T) {
		wf := chain()
		wf.ID = ""
		h := newHarness(t, wf, nil)

		_, err := h.d.Run(context.Background(), Request{})
		require.NoError(t, err)
		assert.Zero(t, h.persist.calls.Load())
	})
}

func TestRunSingleFlight(t *testing.T) {
	h := newHarness(t, chain(), nil)

	const callers = 16
	var dispatched, suppressed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcome, err := h.d.Run(context.Background(), Request{Destination: "C"})
			if !assert.NoError(t, err) {
				return
			}
			switch outcome.Status {
			case StatusDispatched:
				dispatched.Add(1)
			case StatusSuppressed:
				suppressed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), dispatched.Load())
	assert.Equal(t, int32(callers-1), suppressed.Load())
	assert.Len(t, h.sink.submitted(), 1)
}

func TestFinish(t *testing.T) {
	h := newHarness(t, chain(), nil)

	assert.False(t, h.d.Finish("exec-1", "success"), "nothing running")

	_, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.NoError(t, err)

	assert.False(t, h.d.Finish("exec-99", "success"))
	assert.True(t, h.d.Running())

	assert.True(t, h.d.Finish("exec-1", "success"))
	assert.False(t, h.d.Running())
	assert.Equal(t, session.StatusIdle, h.session.Status())
	assert.True(t, h.session.Execution().Finished)

	outcome, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, outcome.Status)
}

func TestObserverPanicIsContained(t *testing.T) {
	h := newHarness(t, chain(), nil)
	h.d.AddObserver(panickingObserver{})

	_, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.NoError(t, err)
	h.d.Wait()

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	assert.Len(t, h.observer.started, 1)
}

func TestRunLogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newHarness(t, chain(), zap.New(core))

	_, err := h.d.Run(context.Background(), Request{Destination: "C"})
	require.NoError(t, err)

	var states []string
	for _, entry := range logs.FilterMessage("Dispatch transition").All() {
		states = append(states, entry.ContextMap()["to"].(string))
	}
	assert.Equal(t, []string{
		string(StateValidatingPreconditions),
		string(StateGuardAcquired),
		string(StatePlanning),
		string(StatePersistingIfNeeded),
		string(StateSubmitting),
		string(StateDispatched),
	}, states)
	assert.Equal(t, 1, logs.FilterMessage("Run dispatched").Len())
	assert.Zero(t, logs.FilterMessage("Unexpected dispatch transition").Len())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateIdle.canTransition(StateValidatingPreconditions))
	assert.False(t, StateIdle.canTransition(StateSubmitting))
	assert.True(t, StateDispatched.IsTerminal())
	assert.False(t, StatePlanning.IsTerminal())
}
