package sink

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/wehubfusion/Daedalus/pkg/planner"
)

// PlanReference points at a plan that was too large to send inline
type PlanReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// Envelope is the request body sent to the runner. Exactly one of Plan and
// PlanRef is set.
type Envelope struct {
	CorrelationID string                 `json:"correlationId"`
	ExecutionType string                 `json:"executionType"`
	SubmittedAt   time.Time              `json:"submittedAt"`
	Plan          *planner.ExecutionPlan `json:"plan,omitempty"`
	PlanRef       *PlanReference         `json:"planRef,omitempty"`
}

// Reply is the runner's answer. A non-empty Error means the runner was
// reachable but refused the plan.
type Reply struct {
	ExecutionID       string `json:"executionId"`
	WaitingForWebhook bool   `json:"waitingForWebhook"`
	Error             string `json:"error,omitempty"`
}

// EncodePlan serialises a plan on its own, as stored when offloaded
func EncodePlan(plan *planner.ExecutionPlan) ([]byte, error) {
	data, err := sonic.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return data, nil
}

// EncodeEnvelope serialises a request body
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a request body
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &env, nil
}

// EncodeReply serialises a runner reply
func EncodeReply(r *Reply) ([]byte, error) {
	return sonic.Marshal(r)
}

// DecodeReply parses a runner reply
func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return &r, nil
}
