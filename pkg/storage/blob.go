// Package storage persists workflows and run history in Azure Blob Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// ErrBlobNotFound is returned by Download when the blob does not exist
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore uploads and downloads JSON documents
type BlobStore interface {
	Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	Download(ctx context.Context, reference string) ([]byte, error)
}

// AzureBlobClient is a BlobStore over one container, authenticated with a
// shared key. Plain-HTTP endpoints are allowed so Azurite works locally.
type AzureBlobClient struct {
	client        *azblob.Client
	serviceURL    string
	containerName string
	logger        *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewAzureBlobClient creates a client from a storage connection string
func NewAzureBlobClient(connectionString, containerName string, logger *zap.Logger) (*AzureBlobClient, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	params := parseConnectionString(connectionString)
	accountName, accountKey := params["AccountName"], params["AccountKey"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	serviceURL := params["BlobEndpoint"]
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var opts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		opts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{InsecureAllowCredentialWithHTTP: true},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobClient{
		client:        client,
		serviceURL:    strings.TrimRight(serviceURL, "/"),
		containerName: containerName,
		logger:        logger,
	}, nil
}

// Upload writes data to blobPath and returns the blob URL
func (a *AzureBlobClient) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = to.Ptr(v)
	}

	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlockBlobClient(blobPath)
	_, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata:    meta,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/json")},
	})
	if err != nil {
		a.logger.Error("Failed to upload blob",
			zap.String("blob_path", blobPath),
			zap.Int("size_bytes", len(data)),
			zap.Error(err))
		return "", fmt.Errorf("blob upload failed: %w", err)
	}

	a.logger.Debug("Uploaded blob",
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))
	return blobClient.URL(), nil
}

// Download reads a blob by path or URL. A missing blob yields ErrBlobNotFound.
func (a *AzureBlobClient) Download(ctx context.Context, reference string) ([]byte, error) {
	blobPath, err := blobPathOf(reference, a.serviceURL, a.containerName)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(blobPath).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%s: %w", blobPath, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

func (a *AzureBlobClient) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.containerInit {
		return nil
	}

	if _, err := a.client.CreateContainer(ctx, a.containerName, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("failed to ensure container: %w", err)
		}
	}
	a.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}

// blobPathOf turns a blob URL or a container-relative path into a blob path
func blobPathOf(reference, serviceURL, containerName string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", fmt.Errorf("blob reference is required")
	}

	if serviceURL != "" && strings.HasPrefix(strings.ToLower(ref), strings.ToLower(serviceURL)) {
		ref = ref[len(serviceURL):]
	}
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		ref = u.Path
	}
	if i := strings.Index(ref, "?"); i != -1 {
		ref = ref[:i]
	}
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}

	ref = strings.TrimPrefix(ref, "/")
	ref = strings.TrimPrefix(ref, containerName+"/")
	if ref == "" {
		return "", fmt.Errorf("blob path is empty")
	}
	return ref, nil
}
