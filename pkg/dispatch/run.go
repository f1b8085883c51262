package dispatch

import (
	"context"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/issues"
	"github.com/wehubfusion/Daedalus/pkg/planner"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/session"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// attempt tracks one call to Run
type attempt struct {
	state  State
	span   trace.Span
	logger *zap.Logger
}

func (a *attempt) to(next State) {
	if !a.state.canTransition(next) {
		a.logger.Warn("Unexpected dispatch transition",
			zap.String("from", string(a.state)),
			zap.String("to", string(next)))
	}
	a.logger.Debug("Dispatch transition",
		zap.String("from", string(a.state)),
		zap.String("to", string(next)))
	a.state = next
	a.span.AddEvent(string(next))
}

func (a *attempt) fail(err error) error {
	a.to(StateFailed)
	a.span.RecordError(err)
	a.span.SetStatus(codes.Error, err.Error())
	return err
}

// Run starts a run of the session workflow up to req.Destination.
//
// It returns ErrNoActiveConnection when the push channel is down, a
// Suppressed outcome when a run is already in flight and an Aborted outcome
// carrying the issues when the workflow would fail. Any error after the guard
// was taken releases it. On success the guard stays held until Finish.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("dispatch.destination", req.Destination),
		attribute.String("dispatch.source", req.Source),
	))
	defer span.End()

	a := &attempt{
		state: StateIdle,
		span:  span,
		logger: d.logger.With(
			zap.String("attempt_id", uuid.NewString()),
			zap.String("destination", req.Destination)),
	}
	a.to(StateValidatingPreconditions)

	if !d.monitor.IsActive() {
		a.to(StateAbortedNoConnection)
		err := d.noActiveConnection()
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("Refused run without an active push connection")
		return nil, err
	}

	if d.Running() {
		a.to(StateNoOp)
		a.logger.Debug("Run already in flight")
		return &Outcome{Status: StatusSuppressed, State: StateNoOp}, nil
	}

	wf := d.session.Workflow()
	if wf == nil {
		return nil, a.fail(sdkerrors.NewBadRequestError("session has no workflow", "NO_WORKFLOW", nil))
	}
	span.SetAttributes(attribute.String("workflow.id", wf.ID))

	found, err := d.checker.Validate(ctx, wf, req.Destination)
	if err != nil {
		return nil, a.fail(err)
	}
	if len(found) > 0 {
		return d.abortWithIssues(ctx, a, wf, req, found), nil
	}

	if !d.guard.Acquire(concurrency.ActionWorkflowRunning) {
		a.to(StateNoOp)
		a.logger.Debug("Lost the race for the run guard")
		return &Outcome{Status: StatusSuppressed, State: StateNoOp}, nil
	}
	a.to(StateGuardAcquired)

	outcome, err := d.dispatch(ctx, a, wf, req)
	if err != nil {
		d.guard.Release(concurrency.ActionWorkflowRunning)
		return nil, a.fail(err)
	}
	return outcome, nil
}

// dispatch runs the guarded part of an attempt. The caller releases the guard
// when it returns an error.
func (d *Dispatcher) dispatch(ctx context.Context, a *attempt, wf *workflow.Workflow, req Request) (*Outcome, error) {
	a.to(StatePlanning)

	history, err := d.history.RunData(ctx)
	if err != nil {
		return nil, sdkerrors.NewInternalError("", "failed to load run history", sdkerrors.CodePlanFailed, err)
	}
	pinned, err := d.history.PinnedData(ctx)
	if err != nil {
		return nil, sdkerrors.NewInternalError("", "failed to load pinned data", sdkerrors.CodePlanFailed, err)
	}

	plan, err := d.planner.Build(wf, req.Destination, history, pinned)
	if err != nil {
		return nil, err
	}
	a.span.SetAttributes(
		attribute.StringSlice("dispatch.start_nodes", plan.StartNodes),
		attribute.Int("dispatch.reused_nodes", len(plan.RunData)))

	a.to(StatePersistingIfNeeded)
	if wf.IsNew() && wf.HasWebhookNode(d.webhookTypes) {
		id, err := d.persistence.SaveIfNew(ctx, wf)
		if err != nil {
			return nil, sdkerrors.NewInternalError("", "failed to save new workflow", sdkerrors.CodePersistFailed, err)
		}
		d.session.SetWorkflowID(id)
		plan.Workflow.ID = id
		a.logger.Info("Saved new workflow before run", zap.String("workflow_id", id))
	}

	runData := plan.RunData
	if runData == nil {
		runData = rundata.RunHistory{}
	}
	d.session.BeginExecution(&session.ExecutionData{
		ID:           session.InProgressExecutionID,
		Mode:         session.ModeManual,
		StartedAt:    d.now(),
		ExecutedNode: req.Destination,
		RunData:      runData,
		PinData:      plan.PinData,
		StartNodes:   plan.StartNodes,
		Workflow:     plan.Workflow,
	})

	a.to(StateSubmitting)
	handle, err := d.sink.Submit(ctx, plan)
	if err != nil {
		d.session.SetStatus(session.StatusError)
		d.notifyFailure(ctx, plan, err)
		return nil, &SubmissionError{ExecutionType: plan.ExecutionType(), Err: err}
	}
	if handle == nil {
		handle = &ExecutionHandle{}
	}

	d.session.SetActiveExecution(handle.ExecutionID, handle.WaitingForWebhook)
	a.to(StateDispatched)
	a.span.SetAttributes(attribute.String("execution.id", handle.ExecutionID))
	a.logger.Info("Run dispatched",
		zap.String("execution_id", handle.ExecutionID),
		zap.Bool("waiting_for_webhook", handle.WaitingForWebhook),
		zap.Strings("start_nodes", plan.StartNodes))

	event := RunStartedEvent{
		WorkflowID:    plan.Workflow.ID,
		WorkflowName:  plan.Workflow.Name,
		ExecutionID:   handle.ExecutionID,
		ExecutionType: plan.ExecutionType(),
		Destination:   req.Destination,
		Source:        req.Source,
		StartNodes:    plan.StartNodes,
	}
	d.notify(ctx, "run_started", func(ctx context.Context, o Observer) { o.RunStarted(ctx, event) })

	return &Outcome{Status: StatusDispatched, State: StateDispatched, Plan: plan, Handle: handle}, nil
}

func (d *Dispatcher) abortWithIssues(ctx context.Context, a *attempt, wf *workflow.Workflow, req Request, found issues.WorkflowIssues) *Outcome {
	a.to(StateAbortedIssues)
	messages := found.Messages()
	d.session.SetStatus(session.StatusError)

	a.logger.Warn("Refused run of a workflow with issues",
		zap.String("workflow_id", wf.ID),
		zap.Strings("issues", messages))

	summaries, nodeTypes := found.Summaries(wf)
	event := PreflightEvent{
		WorkflowID:     wf.ID,
		WorkflowName:   wf.Name,
		ExecutionType:  executionType(req.Destination),
		Destination:    req.Destination,
		Messages:       messages,
		ErrorNodeTypes: nodeTypes,
		NodeIssues:     summaries,
	}
	d.notify(ctx, "preflight_failed", func(ctx context.Context, o Observer) { o.PreflightFailed(ctx, event) })

	return &Outcome{Status: StatusAborted, State: StateAbortedIssues, Issues: found, Messages: messages}
}

func (d *Dispatcher) notifyFailure(ctx context.Context, plan *planner.ExecutionPlan, err error) {
	event := SubmissionFailedEvent{
		WorkflowID:    plan.Workflow.ID,
		ExecutionType: plan.ExecutionType(),
		Destination:   plan.DestinationNode,
		Err:           err,
	}
	d.notify(ctx, "submission_failed", func(ctx context.Context, o Observer) {
		if fo, ok := o.(FailureObserver); ok {
			fo.SubmissionFailed(ctx, event)
		}
	})
}

func executionType(destination string) string {
	if destination != "" {
		return "node"
	}
	return "workflow"
}
