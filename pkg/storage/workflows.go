package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.uber.org/zap"
)

// WorkflowPath returns the blob path of a saved workflow
func WorkflowPath(workflowID string) string {
	return fmt.Sprintf("workflows/%s/workflow.json", workflowID)
}

// WorkflowStore saves workflow definitions as JSON blobs
type WorkflowStore struct {
	blobs  BlobStore
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

// NewWorkflowStore creates a workflow store on top of blobs
func NewWorkflowStore(blobs BlobStore, logger *zap.Logger) (*WorkflowStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store cannot be nil")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &WorkflowStore{
		blobs:  blobs,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}, nil
}

// SaveIfNew assigns an id to a workflow that was never saved, uploads it and
// returns the id. Saved workflows are left alone and their id is returned.
// wf itself is not modified.
func (s *WorkflowStore) SaveIfNew(ctx context.Context, wf *workflow.Workflow) (string, error) {
	if wf == nil {
		return "", fmt.Errorf("workflow cannot be nil")
	}
	if !wf.IsNew() {
		return wf.ID, nil
	}

	saved := wf.Snapshot()
	saved.ID = s.newID()

	if _, err := s.Save(ctx, saved); err != nil {
		return "", err
	}

	s.logger.Info("Saved new workflow",
		zap.String("workflow_id", saved.ID),
		zap.String("workflow_name", saved.Name),
		zap.Int("node_count", len(saved.Nodes)))
	return saved.ID, nil
}

// Save uploads wf under its id and returns the blob URL
func (s *WorkflowStore) Save(ctx context.Context, wf *workflow.Workflow) (string, error) {
	if wf == nil || wf.ID == "" {
		return "", fmt.Errorf("workflow id is required")
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow: %w", err)
	}

	blobURL, err := s.blobs.Upload(ctx, WorkflowPath(wf.ID), data, map[string]string{
		"workflow_id":   wf.ID,
		"workflow_name": wf.Name,
		"saved_at":      s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload workflow: %w", err)
	}
	return blobURL, nil
}

// Load downloads a saved workflow
func (s *WorkflowStore) Load(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	data, err := s.blobs.Download(ctx, WorkflowPath(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to download workflow %s: %w", workflowID, err)
	}
	return workflow.ParseJSON(data)
}
