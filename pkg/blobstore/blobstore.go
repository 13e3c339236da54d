// Package blobstore reads and writes blobs in Azure Storage.
package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type Store interface {
	Open(ctx context.Context, container, blob string) (io.ReadCloser, error)
	Upload(ctx context.Context, container, blob string, r io.Reader) error
	Delete(ctx context.Context, container, blob string) error
}

// Options tune streaming uploads. Zero values use the SDK defaults.
type Options struct {
	BlockSize   int64 `yaml:"blockSize" json:"blockSize"`
	Concurrency int   `yaml:"concurrency" json:"concurrency"`
}

type AzureStore struct {
	client *azblob.Client
	opts   Options
}

var _ Store = (*AzureStore)(nil)

// NewFromConnectionString authenticates with the account key embedded in a
// storage connection string.
func NewFromConnectionString(conn string, opts Options, clientOpts *azblob.ClientOptions) (*AzureStore, error) {
	c, err := azblob.NewClientFromConnectionString(conn, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}
	return &AzureStore{client: c, opts: opts}, nil
}

// NewWithCredential authenticates with Azure AD, e.g. a managed identity on
// the Batch node.
func NewWithCredential(serviceURL string, cred azcore.TokenCredential, opts Options, clientOpts *azblob.ClientOptions) (*AzureStore, error) {
	c, err := azblob.NewClient(serviceURL, cred, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}
	return &AzureStore{client: c, opts: opts}, nil
}

func (s *AzureStore) Open(ctx context.Context, container, blob string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", container, blob, err)
	}
	return resp.Body, nil
}

func (s *AzureStore) Upload(ctx context.Context, container, blob string, r io.Reader) error {
	_, err := s.client.UploadStream(ctx, container, blob, r, &azblob.UploadStreamOptions{
		BlockSize:   s.opts.BlockSize,
		Concurrency: s.opts.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", container, blob, err)
	}
	return nil
}

func (s *AzureStore) Delete(ctx context.Context, container, blob string) error {
	if _, err := s.client.DeleteBlob(ctx, container, blob, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, blob, err)
	}
	return nil
}
