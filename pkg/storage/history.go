package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"go.uber.org/zap"
)

// HistoryPath returns the blob path holding the last run of a workflow
func HistoryPath(workflowID string) string {
	return fmt.Sprintf("history/%s/last-run.json", workflowID)
}

// HistoryFile is the stored form of a workflow's last run
type HistoryFile struct {
	WorkflowID  string             `json:"workflow_id"`
	ExecutionID string             `json:"execution_id,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
	RunData     rundata.RunHistory `json:"run_data,omitempty"`
	PinData     rundata.PinnedData `json:"pin_data,omitempty"`
}

// HistoryStore keeps the last run of one workflow in a blob so a later
// session can plan partial runs against it. A missing blob reads as no history.
type HistoryStore struct {
	blobs      BlobStore
	workflowID string
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	cached *HistoryFile
}

// NewHistoryStore creates a history store for workflowID
func NewHistoryStore(blobs BlobStore, workflowID string, logger *zap.Logger) (*HistoryStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store cannot be nil")
	}
	if workflowID == "" {
		return nil, fmt.Errorf("workflow id cannot be empty")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &HistoryStore{blobs: blobs, workflowID: workflowID, logger: logger, now: time.Now}, nil
}

// RunData returns the stored run history
func (s *HistoryStore) RunData(ctx context.Context) (rundata.RunHistory, error) {
	file, err := s.load(ctx)
	if err != nil || file == nil {
		return nil, err
	}
	return file.RunData.Clone(), nil
}

// PinnedData returns the stored pinned data
func (s *HistoryStore) PinnedData(ctx context.Context) (rundata.PinnedData, error) {
	file, err := s.load(ctx)
	if err != nil || file == nil {
		return nil, err
	}
	return file.PinData.Clone(), nil
}

// Save replaces the stored run with the output of executionID
func (s *HistoryStore) Save(ctx context.Context, executionID string, history rundata.RunHistory, pinned rundata.PinnedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := &HistoryFile{
		WorkflowID:  s.workflowID,
		ExecutionID: executionID,
		UpdatedAt:   s.now().UTC(),
		RunData:     history.Clone(),
		PinData:     pinned.Clone(),
	}
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal run history: %w", err)
	}

	if _, err := s.blobs.Upload(ctx, HistoryPath(s.workflowID), data, map[string]string{
		"workflow_id":  s.workflowID,
		"execution_id": executionID,
		"node_count":   fmt.Sprintf("%d", len(history)),
	}); err != nil {
		return fmt.Errorf("failed to upload run history: %w", err)
	}

	s.cached = file
	s.logger.Debug("Stored run history",
		zap.String("workflow_id", s.workflowID),
		zap.String("execution_id", executionID),
		zap.Int("node_count", len(history)),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Invalidate drops the cached copy so the next read goes to blob storage
func (s *HistoryStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *HistoryStore) load(ctx context.Context) (*HistoryFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	data, err := s.blobs.Download(ctx, HistoryPath(s.workflowID))
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download run history: %w", err)
	}

	var file HistoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse run history: %w", err)
	}
	s.cached = &file
	return s.cached, nil
}
