package observe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/wehubfusion/Daedalus/pkg/dispatch"
	"go.uber.org/zap"
)

// SentryConfig configures the Sentry observer
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string

	// ReportStarts also sends a breadcrumb for every accepted run
	ReportStarts bool

	// BeforeSend is passed to the client as is
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// SentryObserver reports preflight failures as warnings and submission
// failures as errors on its own hub
type SentryObserver struct {
	hub          *sentry.Hub
	reportStarts bool
	logger       *zap.Logger
}

// NewSentryObserver creates a client for cfg. An empty DSN yields a client
// that drops every event.
func NewSentryObserver(cfg SentryConfig, logger *zap.Logger) (*SentryObserver, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &SentryObserver{
		hub:          sentry.NewHub(client, sentry.NewScope()),
		reportStarts: cfg.ReportStarts,
		logger:       logger,
	}, nil
}

// Flush waits up to timeout for buffered events to be sent
func (o *SentryObserver) Flush(timeout time.Duration) bool {
	return o.hub.Flush(timeout)
}

func (o *SentryObserver) PreflightFailed(ctx context.Context, e dispatch.PreflightEvent) {
	o.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("workflow_id", e.WorkflowID)
		scope.SetTag("execution_type", e.ExecutionType)
		scope.SetTag("error_node_types", strings.Join(e.ErrorNodeTypes, ","))
		scope.SetContext("workflow", sentry.Context{
			"name":        e.WorkflowName,
			"destination": e.Destination,
			"messages":    e.Messages,
		})
		for i, s := range e.NodeIssues {
			scope.SetExtra(fmt.Sprintf("node_issue_%d", i), map[string]any{
				"node_type":            s.NodeType,
				"error":                s.Error,
				"caused_by_credential": s.CausedByCredential,
			})
		}
		if id := o.hub.CaptureMessage("Workflow has issues"); id == nil {
			o.logger.Debug("Sentry dropped preflight event", zap.String("workflow_id", e.WorkflowID))
		}
	})
}

func (o *SentryObserver) RunStarted(ctx context.Context, e dispatch.RunStartedEvent) {
	if !o.reportStarts {
		return
	}
	o.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "dispatch",
		Message:  fmt.Sprintf("run %s started", e.ExecutionID),
		Level:    sentry.LevelInfo,
		Data: map[string]any{
			"workflow_id":    e.WorkflowID,
			"execution_type": e.ExecutionType,
			"start_nodes":    e.StartNodes,
		},
	}, nil)
}

func (o *SentryObserver) SubmissionFailed(ctx context.Context, e dispatch.SubmissionFailedEvent) {
	if e.Err == nil {
		return
	}
	o.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("workflow_id", e.WorkflowID)
		scope.SetTag("execution_type", e.ExecutionType)
		scope.SetContext("dispatch", sentry.Context{"destination": e.Destination})
		o.hub.CaptureException(e.Err)
	})
}

var (
	_ dispatch.Observer        = (*SentryObserver)(nil)
	_ dispatch.FailureObserver = (*SentryObserver)(nil)
)
