// Package dispatch runs a workflow from a client session: it checks the
// preconditions, plans an incremental run, persists new webhook workflows,
// submits the plan and keeps the session to one run at a time.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/planner"
	"github.com/wehubfusion/Daedalus/pkg/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const notifySlotTimeout = 5 * time.Second

// Options wires a dispatcher to its collaborators
type Options struct {
	Session     *session.Session
	Planner     *planner.Planner
	History     HistoryStore
	Checker     IssueChecker
	Monitor     ConnectionMonitor
	Sink        ExecutionSink
	Persistence PersistenceService

	// WebhookTypes are node types that make a new workflow need saving before a run
	WebhookTypes map[string]bool

	Observers []Observer

	// Guard defaults to a fresh action set
	Guard *concurrency.ActiveActions

	// Notifier runs observer calls; defaults to a CPU-sized limiter
	Notifier *concurrency.Limiter

	Logger *zap.Logger
}

// Dispatcher owns the run guard of one session
type Dispatcher struct {
	session      *session.Session
	planner      *planner.Planner
	history      HistoryStore
	checker      IssueChecker
	monitor      ConnectionMonitor
	sink         ExecutionSink
	persistence  PersistenceService
	webhookTypes map[string]bool
	observers    []Observer

	guard    *concurrency.ActiveActions
	notifier *concurrency.Limiter
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// New validates opts and creates a dispatcher
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Session == nil:
		return nil, fmt.Errorf("session cannot be nil")
	case opts.History == nil:
		return nil, fmt.Errorf("history store cannot be nil")
	case opts.Checker == nil:
		return nil, fmt.Errorf("issue checker cannot be nil")
	case opts.Monitor == nil:
		return nil, fmt.Errorf("connection monitor cannot be nil")
	case opts.Sink == nil:
		return nil, fmt.Errorf("execution sink cannot be nil")
	case opts.Persistence == nil:
		return nil, fmt.Errorf("persistence service cannot be nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	d := &Dispatcher{
		session:      opts.Session,
		planner:      opts.Planner,
		history:      opts.History,
		checker:      opts.Checker,
		monitor:      opts.Monitor,
		sink:         opts.Sink,
		persistence:  opts.Persistence,
		webhookTypes: opts.WebhookTypes,
		observers:    opts.Observers,
		guard:        opts.Guard,
		notifier:     opts.Notifier,
		tracer:       otel.Tracer("daedalus/dispatch"),
		logger:       logger,
		now:          time.Now,
	}
	if d.planner == nil {
		d.planner = planner.New(logger)
	}
	if d.guard == nil {
		d.guard = concurrency.NewActiveActions()
	}
	if d.notifier == nil {
		d.notifier = concurrency.NewLimiter(concurrency.DefaultObserverConcurrency(), logger)
	}
	return d, nil
}

// SetLogger sets a custom zap logger for the dispatcher
func (d *Dispatcher) SetLogger(logger *zap.Logger) {
	if logger != nil {
		d.logger = logger
		d.planner.SetLogger(logger)
	}
}

// AddObserver registers another observer. Not safe to call concurrently with Run.
func (d *Dispatcher) AddObserver(o Observer) {
	if o != nil {
		d.observers = append(d.observers, o)
	}
}

// Running reports whether a run is in flight
func (d *Dispatcher) Running() bool {
	return d.guard.IsActive(concurrency.ActionWorkflowRunning)
}

// Finish handles the runner's completion signal for executionID. It releases
// the guard and returns true unless the id belongs to another execution.
func (d *Dispatcher) Finish(executionID, status string) bool {
	active := d.session.ActiveExecutionID()
	if active != "" && executionID != active {
		d.logger.Debug("Ignoring completion of another execution",
			zap.String("execution_id", executionID),
			zap.String("active_execution_id", active))
		return false
	}
	if !d.Running() {
		return false
	}

	d.session.FinishExecution(status)
	d.guard.Release(concurrency.ActionWorkflowRunning)

	d.logger.Info("Run finished",
		zap.String("execution_id", executionID),
		zap.String("status", status))
	return true
}

// Wait blocks until every pending observer call has returned
func (d *Dispatcher) Wait() {
	d.notifier.Wait()
}

func (d *Dispatcher) noActiveConnection() error {
	return sdkerrors.NewUnavailableError(
		"no active connection to the runner push channel",
		sdkerrors.CodeNoActiveConnection,
		sdkerrors.ErrNoActiveConnection,
	)
}

// notify fans an event out to every observer on the notifier pool. The
// observer context outlives the request so a returning caller does not cancel it.
func (d *Dispatcher) notify(ctx context.Context, name string, call func(context.Context, Observer)) {
	if len(d.observers) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)

	for _, o := range d.observers {
		slotCtx, cancel := context.WithTimeout(detached, notifySlotTimeout)
		err := d.notifier.Go(slotCtx, name, func() { call(detached, o) })
		cancel()
		if err != nil {
			d.logger.Warn("Dropped observer notification", zap.String("event", name), zap.Error(err))
		}
	}
}
