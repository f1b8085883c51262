// Package observe holds the dispatch observers that report refused, started
// and failed runs to logs and to Sentry.
package observe

import (
	"context"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/dispatch"
	"go.uber.org/zap"
)

// LogObserver writes every dispatch event to a zap logger
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver. A nil logger falls back to production.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &LogObserver{logger: logger.Named("dispatch_events")}
}

func (o *LogObserver) PreflightFailed(ctx context.Context, e dispatch.PreflightEvent) {
	o.logger.Warn("Workflow has issues",
		zap.String("workflow_id", e.WorkflowID),
		zap.String("workflow_name", e.WorkflowName),
		zap.String("execution_type", e.ExecutionType),
		zap.String("destination", e.Destination),
		zap.Strings("error_node_types", e.ErrorNodeTypes),
		zap.Strings("messages", e.Messages))
}

func (o *LogObserver) RunStarted(ctx context.Context, e dispatch.RunStartedEvent) {
	o.logger.Info("Run started",
		zap.String("workflow_id", e.WorkflowID),
		zap.String("workflow_name", e.WorkflowName),
		zap.String("execution_id", e.ExecutionID),
		zap.String("execution_type", e.ExecutionType),
		zap.String("destination", e.Destination),
		zap.String("source", e.Source),
		zap.Strings("start_nodes", e.StartNodes))
}

func (o *LogObserver) SubmissionFailed(ctx context.Context, e dispatch.SubmissionFailedEvent) {
	o.logger.Error("Problem running workflow",
		zap.String("workflow_id", e.WorkflowID),
		zap.String("execution_type", e.ExecutionType),
		zap.String("destination", e.Destination),
		zap.Error(e.Err))
}

// Multi fans events out to several observers in order. It is itself a
// dispatch.Observer and dispatch.FailureObserver.
type Multi struct {
	mu        sync.RWMutex
	observers []dispatch.Observer
}

// NewMulti groups observers, skipping nil entries
func NewMulti(observers ...dispatch.Observer) *Multi {
	m := &Multi{}
	for _, o := range observers {
		m.Add(o)
	}
	return m
}

// Add appends an observer
func (m *Multi) Add(o dispatch.Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Len returns the number of grouped observers
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}

func (m *Multi) snapshot() []dispatch.Observer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]dispatch.Observer(nil), m.observers...)
}

func (m *Multi) PreflightFailed(ctx context.Context, e dispatch.PreflightEvent) {
	for _, o := range m.snapshot() {
		o.PreflightFailed(ctx, e)
	}
}

func (m *Multi) RunStarted(ctx context.Context, e dispatch.RunStartedEvent) {
	for _, o := range m.snapshot() {
		o.RunStarted(ctx, e)
	}
}

func (m *Multi) SubmissionFailed(ctx context.Context, e dispatch.SubmissionFailedEvent) {
	for _, o := range m.snapshot() {
		if fo, ok := o.(dispatch.FailureObserver); ok {
			fo.SubmissionFailed(ctx, e)
		}
	}
}

var (
	_ dispatch.Observer        = (*LogObserver)(nil)
	_ dispatch.FailureObserver = (*LogObserver)(nil)
	_ dispatch.Observer        = (*Multi)(nil)
	_ dispatch.FailureObserver = (*Multi)(nil)
)
