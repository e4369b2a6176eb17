// Package azure implements the Azure Blob Storage backend using shared key
// authentication against a single container.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/overseer-lite/overseer-lite/internal/config"
	"github.com/overseer-lite/overseer-lite/internal/storage"
	"github.com/overseer-lite/overseer-lite/pkg/checksum"
)

const checksumMetaKey = "sha256"

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements storage.Storage on a blob container
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

// New creates an Azure Blob Storage backend
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{client: client, containerName: cfg.ContainerName}, nil
}

func (s *AzureStorage) blob(path string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(path)
}

// Put uploads a block blob with its SHA-256 in metadata
func (s *AzureStorage) Put(ctx context.Context, path string, data []byte, opts storage.PutOptions) (*storage.ObjectInfo, error) {
	sum := checksum.Sum(data)

	headers := &blob.HTTPHeaders{}
	if opts.ContentType != "" {
		headers.BlobContentType = &opts.ContentType
	}
	if opts.CacheControl != "" {
		headers.BlobCacheControl = &opts.CacheControl
	}

	resp, err := s.blob(path).UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
		HTTPHeaders: headers,
		Metadata:    map[string]*string{checksumMetaKey: &sum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	info := &storage.ObjectInfo{Path: path, Size: int64(len(data)), Checksum: sum}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return info, nil
}

// Get downloads a whole blob
func (s *AzureStorage) Get(ctx context.Context, path string) ([]byte, *storage.ObjectInfo, error) {
	resp, err := s.blob(path).DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, storage.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read Azure blob: %w", err)
	}

	info := &storage.ObjectInfo{Path: path, Size: int64(len(data)), Checksum: checksum.Sum(data)}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return data, info, nil
}

// Delete removes a blob
func (s *AzureStorage) Delete(ctx context.Context, path string) error {
	if _, err := s.blob(path).Delete(ctx, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// Stat reads blob properties
func (s *AzureStorage) Stat(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	props, err := s.blob(path).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	info := &storage.ObjectInfo{Path: path}
	if v, ok := props.Metadata[checksumMetaKey]; ok && v != nil {
		info.Checksum = *v
	}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	return info, nil
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
