// Package push tracks the channel the runner uses to report progress back to
// the session and turns its completion events into callbacks.
package push

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// EventExecutionFinished is the event the runner sends when a run ends
const EventExecutionFinished = "executionFinished"

// ExecutionFinished is the payload of EventExecutionFinished
type ExecutionFinished struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId,omitempty"`
	Status      string `json:"status"`
}

// CompletionHandler receives finished executions
type CompletionHandler func(event ExecutionFinished)

// decodeFinished accepts the shapes a push payload arrives in: raw JSON bytes
// or strings from NATS, decoded maps from socket.io
func decodeFinished(payload any) (ExecutionFinished, error) {
	var event ExecutionFinished

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case json.RawMessage:
		data = v
	case nil:
		return event, fmt.Errorf("empty %s payload", EventExecutionFinished)
	default:
		encoded, err := sonic.Marshal(v)
		if err != nil {
			return event, fmt.Errorf("failed to re-encode %s payload: %w", EventExecutionFinished, err)
		}
		data = encoded
	}

	if err := sonic.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("failed to decode %s payload: %w", EventExecutionFinished, err)
	}
	if event.ExecutionID == "" {
		return event, fmt.Errorf("%s payload has no execution id", EventExecutionFinished)
	}
	return event, nil
}
