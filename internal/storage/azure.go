package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

// AzureStorage writes run artifacts to a Blob Storage container
type AzureStorage struct {
	client        *azblob.Client
	serviceURL    string
	containerName string
}

var _ StorageInterface = (*AzureStorage)(nil)

// NewAzureStorage connects with the default Azure credential chain (managed identity,
// environment, CLI) and creates the container when missing.
func NewAzureStorage(ctx context.Context, accountName, containerName string) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("storage container name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	s := &AzureStorage{
		client:        client,
		serviceURL:    serviceURL,
		containerName: containerName,
	}
	if err := s.ensureContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}
	return s, nil
}

func (s *AzureStorage) ensureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", s.containerName)
		return nil
	}
	logrus.Infof("Created container %s", s.containerName)
	return nil
}

// Store uploads an artifact, replacing any blob of the same name.
func (s *AzureStorage) Store(ctx context.Context, name string, data []byte, contentType string) error {
	opts := &azblob.UploadBufferOptions{
		BlockSize:   int64(1024 * 1024),
		Concurrency: 3,
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}

	if _, err := s.client.UploadBuffer(ctx, s.containerName, name, data, opts); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", name, err)
	}
	logrus.Infof("Stored %s (%d bytes) in container %s", name, len(data), s.containerName)
	return nil
}

// Retrieve downloads an artifact.
func (s *AzureStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	response, err := s.client.DownloadStream(ctx, s.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob content: %w", err)
	}
	return data, nil
}

// List returns blob names under a prefix.
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Delete removes an artifact.
func (s *AzureStorage) Delete(ctx context.Context, name string) error {
	if _, err := s.client.DeleteBlob(ctx, s.containerName, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete blob %s: %w", name, err)
	}
	logrus.Infof("Deleted %s from container %s", name, s.containerName)
	return nil
}

// Location returns the blob URL.
func (s *AzureStorage) Location(name string) string {
	return s.serviceURL + s.containerName + "/" + name
}
