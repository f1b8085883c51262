package observe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/dispatch"
	"github.com/wehubfusion/Daedalus/pkg/issues"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func preflight() dispatch.PreflightEvent {
	return dispatch.PreflightEvent{
		WorkflowID:     "wf-1",
		WorkflowName:   "orders",
		ExecutionType:  "node",
		Destination:    "Insert",
		Messages:       []string{`Insert: Parameter "table" is required.`},
		ErrorNodeTypes: []string{"postgres"},
		NodeIssues: []issues.Summary{
			{NodeType: "postgres", Error: `Parameter "table" is required.`},
		},
	}
}

func TestLogObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	o := NewLogObserver(zap.New(core))
	ctx := context.Background()

	o.PreflightFailed(ctx, preflight())
	o.RunStarted(ctx, dispatch.RunStartedEvent{WorkflowID: "wf-1", ExecutionID: "exec-1", StartNodes: []string{"B"}})
	o.SubmissionFailed(ctx, dispatch.SubmissionFailedEvent{WorkflowID: "wf-1", Err: errors.New("no responders")})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "Workflow has issues", entries[0].Message)
	assert.Equal(t, "exec-1", entries[1].ContextMap()["execution_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "no responders", entries[2].ContextMap()["error"])
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) PreflightFailed(context.Context, dispatch.PreflightEvent) { r.add("preflight") }
func (r *recorder) RunStarted(context.Context, dispatch.RunStartedEvent)     { r.add("started") }

type failureRecorder struct{ recorder }

func (r *failureRecorder) SubmissionFailed(context.Context, dispatch.SubmissionFailedEvent) {
	r.add("failed")
}

func TestMulti(t *testing.T) {
	plain := &recorder{}
	full := &failureRecorder{}
	m := NewMulti(plain, nil, full)
	assert.Equal(t, 2, m.Len())

	ctx := context.Background()
	m.PreflightFailed(ctx, preflight())
	m.RunStarted(ctx, dispatch.RunStartedEvent{})
	m.SubmissionFailed(ctx, dispatch.SubmissionFailedEvent{Err: errors.New("boom")})

	assert.Equal(t, []string{"preflight", "started"}, plain.events)
	assert.Equal(t, []string{"preflight", "started", "failed"}, full.events)
}

func newSentry(t *testing.T, reportStarts bool) (*SentryObserver, *[]*sentry.Event) {
	t.Helper()
	var mu sync.Mutex
	var sent []*sentry.Event
	o, err := NewSentryObserver(SentryConfig{
		Environment:  "test",
		ReportStarts: reportStarts,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			sent = append(sent, event)
			mu.Unlock()
			return nil
		},
	}, zap.NewNop())
	require.NoError(t, err)
	return o, &sent
}

func TestSentryObserverPreflight(t *testing.T) {
	o, sent := newSentry(t, false)
	o.PreflightFailed(context.Background(), preflight())

	require.Len(t, *sent, 1)
	ev := (*sent)[0]
	assert.Equal(t, sentry.LevelWarning, ev.Level)
	assert.Equal(t, "Workflow has issues", ev.Message)
	assert.Equal(t, "wf-1", ev.Tags["workflow_id"])
	assert.Equal(t, "postgres", ev.Tags["error_node_types"])
}

func TestSentryObserverSubmissionFailed(t *testing.T) {
	o, sent := newSentry(t, true)
	ctx := context.Background()

	o.RunStarted(ctx, dispatch.RunStartedEvent{ExecutionID: "exec-1"})
	o.SubmissionFailed(ctx, dispatch.SubmissionFailedEvent{WorkflowID: "wf-1"})
	assert.Empty(t, *sent, "breadcrumbs and nil errors send nothing")

	o.SubmissionFailed(ctx, dispatch.SubmissionFailedEvent{WorkflowID: "wf-1", Err: errors.New("runner unreachable")})
	require.Len(t, *sent, 1)
	ev := (*sent)[0]
	assert.Equal(t, sentry.LevelError, ev.Level)
	require.NotEmpty(t, ev.Exception)
	assert.Equal(t, "runner unreachable", ev.Exception[len(ev.Exception)-1].Value)
	require.Len(t, ev.Breadcrumbs, 1)
	assert.Equal(t, "dispatch", ev.Breadcrumbs[0].Category)
}

func TestSentryObserverBadDSN(t *testing.T) {
	_, err := NewSentryObserver(SentryConfig{DSN: "::not a dsn"}, nil)
	assert.Error(t, err)
}
