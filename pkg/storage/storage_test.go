package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/rundata"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.uber.org/zap"
)

type memoryBlobs struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	metadata  map[string]map[string]string
	uploadErr error
	downloads int
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryBlobs) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.blobs[blobPath] = append([]byte(nil), data...)
	m.metadata[blobPath] = metadata
	return "http://127.0.0.1:10000/devstoreaccount1/daedalus/" + blobPath, nil
}

func (m *memoryBlobs) Download(ctx context.Context, reference string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	data, ok := m.blobs[reference]
	if !ok {
		return nil, fmt.Errorf("%s: %w", reference, ErrBlobNotFound)
	}
	return data, nil
}

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
	}{
		{
			name:          "empty connection string",
			containerName: "daedalus",
			errContains:   "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: "AccountName=test;AccountKey=dGVzdA==",
			errContains:      "container name is required",
		},
		{
			name:             "missing key",
			connectionString: "AccountName=test",
			containerName:    "daedalus",
			errContains:      "account name and key are required",
		},
		{
			name:             "azurite endpoint",
			connectionString: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=dGVzdA==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1",
			containerName:    "daedalus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, zap.NewNop())
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", client.serviceURL)
		})
	}
}

func TestBlobPathOf(t *testing.T) {
	svc := "http://127.0.0.1:10000/devstoreaccount1"
	tests := []struct {
		ref  string
		want string
	}{
		{"workflows/wf-1/workflow.json", "workflows/wf-1/workflow.json"},
		{svc + "/daedalus/history/wf-1/last-run.json", "history/wf-1/last-run.json"},
		{"https://acct.blob.core.windows.net/daedalus/plans/x.json?sig=abc", "plans/x.json"},
		{"/daedalus/plans/a%20b.json", "plans/a b.json"},
	}
	for _, tt := range tests {
		got, err := blobPathOf(tt.ref, svc, "daedalus")
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.want, got, tt.ref)
	}

	_, err := blobPathOf("  ", svc, "daedalus")
	assert.Error(t, err)
	_, err = blobPathOf("/daedalus/", svc, "daedalus")
	assert.Error(t, err)
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=a; AccountKey=k==;;BlobEndpoint=http://x;bogus")
	assert.Equal(t, "a", params["AccountName"])
	assert.Equal(t, "k==", params["AccountKey"])
	assert.Equal(t, "http://x", params["BlobEndpoint"])
	assert.NotContains(t, params, "bogus")
}

func TestWorkflowStoreSaveIfNew(t *testing.T) {
	blobs := newMemoryBlobs()
	store, err := NewWorkflowStore(blobs, zap.NewNop())
	require.NoError(t, err)
	store.newID = func() string { return "wf-new" }

	wf := &workflow.Workflow{
		Name:  "hooks",
		Nodes: []workflow.Node{{Name: "Hook", Type: "webhook"}},
	}

	id, err := store.SaveIfNew(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, "wf-new", id)
	assert.Empty(t, wf.ID, "caller's workflow is not modified")
	assert.Contains(t, blobs.blobs, WorkflowPath("wf-new"))
	assert.Equal(t, "hooks", blobs.metadata[WorkflowPath("wf-new")]["workflow_name"])

	loaded, err := store.Load(context.Background(), "wf-new")
	require.NoError(t, err)
	assert.Equal(t, "wf-new", loaded.ID)
	assert.Equal(t, "Hook", loaded.Nodes[0].Name)

	wf.ID = "wf-existing"
	id, err = store.SaveIfNew(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, "wf-existing", id)
	assert.NotContains(t, blobs.blobs, WorkflowPath("wf-existing"))
}

func TestWorkflowStoreErrors(t *testing.T) {
	_, err := NewWorkflowStore(nil, nil)
	assert.Error(t, err)

	blobs := newMemoryBlobs()
	blobs.uploadErr = errors.New("403 forbidden")
	store, err := NewWorkflowStore(blobs, zap.NewNop())
	require.NoError(t, err)

	_, err = store.SaveIfNew(context.Background(), &workflow.Workflow{Name: "x"})
	assert.ErrorContains(t, err, "403 forbidden")

	_, err = store.SaveIfNew(context.Background(), nil)
	assert.Error(t, err)

	_, err = store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestHistoryStore(t *testing.T) {
	blobs := newMemoryBlobs()
	store, err := NewHistoryStore(blobs, "wf-1", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	history, err := store.RunData(ctx)
	require.NoError(t, err)
	assert.Nil(t, history, "missing blob reads as no history")

	run := rundata.RunHistory{"A": {{Status: "success", ExecutionTimeMs: 12}}}
	pinned := rundata.PinnedData{"A": {{"id": float64(1)}}}
	require.NoError(t, store.Save(ctx, "exec-1", run, pinned))
	assert.Equal(t, "exec-1", blobs.metadata[HistoryPath("wf-1")]["execution_id"])

	store.Invalidate()
	history, err = store.RunData(ctx)
	require.NoError(t, err)
	assert.Equal(t, run["A"][0].Status, history["A"][0].Status)

	gotPinned, err := store.PinnedData(ctx)
	require.NoError(t, err)
	assert.Equal(t, pinned, gotPinned)

	before := blobs.downloads
	_, err = store.RunData(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, blobs.downloads, "reads are served from the cached file")
}

func TestHistoryStoreCorruptFile(t *testing.T) {
	blobs := newMemoryBlobs()
	blobs.blobs[HistoryPath("wf-1")] = []byte("{not json")
	store, err := NewHistoryStore(blobs, "wf-1", zap.NewNop())
	require.NoError(t, err)

	_, err = store.RunData(context.Background())
	assert.ErrorContains(t, err, "failed to parse run history")

	_, err = NewHistoryStore(blobs, "", nil)
	assert.Error(t, err)
}

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBlobStore()

	ref, err := m.Upload(ctx, "history/wf-1/last-run.json", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "memory://history/wf-1/last-run.json", ref)

	byRef, err := m.Download(ctx, ref)
	require.NoError(t, err)
	byPath, err := m.Download(ctx, "history/wf-1/last-run.json")
	require.NoError(t, err)
	assert.Equal(t, byRef, byPath)

	_, err = m.Download(ctx, "missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = m.Upload(ctx, "", nil, nil)
	assert.Error(t, err)
}
