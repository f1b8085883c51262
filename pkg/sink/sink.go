// Package sink hands execution plans to the remote runner over NATS
// request/reply.
package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/dispatch"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/planner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CorrelationHeader carries the submission's correlation id
const CorrelationHeader = "Daedalus-Correlation-Id"

// DefaultMaxInlineSize is the largest request sent as is; bigger plans are
// uploaded to blob storage when a BlobUploader is configured
const DefaultMaxInlineSize = 1.5 * 1024 * 1024

// Requester is the part of *nats.Conn the sink uses
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// BlobUploader stores offloaded plans
type BlobUploader interface {
	Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
}

// Config holds sink settings
type Config struct {
	// Subject is the runner's request subject
	Subject string

	// Timeout bounds a single request
	Timeout time.Duration

	// MaxInlineSize defaults to DefaultMaxInlineSize
	MaxInlineSize int

	// FailureThreshold consecutive transport failures open the circuit for ResetTimeout
	FailureThreshold int64
	ResetTimeout     time.Duration
}

// NATSSink implements dispatch.ExecutionSink
type NATSSink struct {
	requester Requester
	cfg       Config
	breaker   *concurrency.CircuitBreaker
	blobs     BlobUploader
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a sink sending to cfg.Subject through requester
func New(requester Requester, cfg Config, logger *zap.Logger) (*NATSSink, error) {
	if requester == nil {
		return nil, fmt.Errorf("requester cannot be nil")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("runner subject cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxInlineSize <= 0 {
		cfg.MaxInlineSize = DefaultMaxInlineSize
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	return &NATSSink{
		requester: requester,
		cfg:       cfg,
		breaker:   concurrency.NewCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout),
		logger:    logger,
		tracer:    otel.Tracer("daedalus/sink"),
		now:       time.Now,
	}, nil
}

// SetLogger sets a custom zap logger for the sink
func (s *NATSSink) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetBlobStorage enables offloading of large plans
func (s *NATSSink) SetBlobStorage(blobs BlobUploader) {
	s.blobs = blobs
}

// Breaker exposes the circuit breaker state for health reporting
func (s *NATSSink) Breaker() *concurrency.CircuitBreaker {
	return s.breaker
}

// Submit sends plan to the runner and waits for its reply. Transport
// failures come back as network errors and count against the circuit;
// refusals by the runner come back as server errors.
func (s *NATSSink) Submit(ctx context.Context, plan *planner.ExecutionPlan) (*dispatch.ExecutionHandle, error) {
	if plan == nil || plan.Workflow == nil {
		return nil, sdkerrors.NewValidationError("plan cannot be empty", "INVALID_PLAN", nil)
	}

	correlationID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "sink.submit", trace.WithAttributes(
		attribute.String("correlation.id", correlationID),
		attribute.String("workflow.id", plan.Workflow.ID),
		attribute.String("messaging.destination", s.cfg.Subject),
	))
	defer span.End()

	if err := s.breaker.Allow(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("Refusing submission while circuit is open",
			zap.String("correlation_id", correlationID))
		return nil, err
	}

	data, err := s.encode(ctx, correlationID, plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	msg := nats.NewMsg(s.cfg.Subject)
	msg.Data = data
	msg.Header.Set(CorrelationHeader, correlationID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	s.logger.Debug("Submitting plan",
		zap.String("correlation_id", correlationID),
		zap.String("subject", s.cfg.Subject),
		zap.Int("size_bytes", len(data)),
		zap.Strings("start_nodes", plan.StartNodes))

	resp, err := s.requester.RequestMsgWithContext(reqCtx, msg)
	if err != nil {
		s.breaker.RecordFailure()
		netErr := sdkerrors.NewNetworkError(correlationID, err)
		span.RecordError(netErr)
		span.SetStatus(codes.Error, netErr.Error())
		s.logger.Error("Runner unreachable",
			zap.String("correlation_id", correlationID),
			zap.String("breaker_state", s.breaker.State().String()),
			zap.Error(err))
		return nil, netErr
	}
	s.breaker.RecordSuccess()

	reply, err := DecodeReply(resp.Data)
	if err != nil {
		srvErr := sdkerrors.NewServerError(correlationID, err.Error())
		span.SetStatus(codes.Error, srvErr.Error())
		return nil, srvErr
	}
	if reply.Error != "" {
		srvErr := sdkerrors.NewServerError(correlationID, reply.Error)
		span.SetStatus(codes.Error, srvErr.Error())
		s.logger.Warn("Runner refused plan",
			zap.String("correlation_id", correlationID),
			zap.String("reason", reply.Error))
		return nil, srvErr
	}

	span.SetAttributes(attribute.String("execution.id", reply.ExecutionID))
	s.logger.Info("Plan accepted",
		zap.String("correlation_id", correlationID),
		zap.String("execution_id", reply.ExecutionID),
		zap.Bool("waiting_for_webhook", reply.WaitingForWebhook))

	return &dispatch.ExecutionHandle{
		ExecutionID:       reply.ExecutionID,
		WaitingForWebhook: reply.WaitingForWebhook,
	}, nil
}

// encode builds the request body, moving the plan to blob storage when the
// inline body would exceed the configured size
func (s *NATSSink) encode(ctx context.Context, correlationID string, plan *planner.ExecutionPlan) ([]byte, error) {
	env := &Envelope{
		CorrelationID: correlationID,
		ExecutionType: plan.ExecutionType(),
		SubmittedAt:   s.now().UTC(),
		Plan:          plan,
	}

	data, err := EncodeEnvelope(env)
	if err != nil {
		return nil, sdkerrors.NewInternalError(correlationID, "failed to encode plan", "ENCODE_FAILED", err)
	}
	if len(data) <= s.cfg.MaxInlineSize || s.blobs == nil {
		return data, nil
	}

	planData, err := EncodePlan(plan)
	if err != nil {
		return nil, sdkerrors.NewInternalError(correlationID, "failed to encode plan", "ENCODE_FAILED", err)
	}
	url, err := s.blobs.Upload(ctx, fmt.Sprintf("plans/%s.json", correlationID), planData, map[string]string{
		"correlation_id": correlationID,
		"workflow_id":    plan.Workflow.ID,
	})
	if err != nil {
		return nil, sdkerrors.NewInternalError(correlationID, "failed to offload plan", "OFFLOAD_FAILED", err)
	}

	s.logger.Info("Offloaded large plan to blob storage",
		zap.String("correlation_id", correlationID),
		zap.Int("size_bytes", len(planData)))

	env.Plan = nil
	env.PlanRef = &PlanReference{URL: url, SizeBytes: len(planData)}
	data, err = EncodeEnvelope(env)
	if err != nil {
		return nil, sdkerrors.NewInternalError(correlationID, "failed to encode plan", "ENCODE_FAILED", err)
	}
	return data, nil
}
