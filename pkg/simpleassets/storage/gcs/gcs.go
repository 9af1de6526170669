package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// Config holds configuration for the GCS backend
type Config struct {
	Bucket string
	Prefix string // Optional key prefix, e.g. "assets/"

	// CredentialsFile overrides Application Default Credentials
	CredentialsFile string
	// Endpoint points the client at an emulator such as fake-gcs-server
	Endpoint string

	CacheControl string
}

// Backend implements simpleassets.BlobStore on Google Cloud Storage
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
	config Config
}

// New creates a GCS client and backend. Credentials come from ADC unless
// CredentialsFile is set.
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return NewWithClient(client, config), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *storage.Client, config Config) *Backend {
	return &Backend{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		config: config,
	}
}

// Put writes the blob, replacing any existing object
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := b.client.Bucket(b.bucket).Object(b.objectPath(key)).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = "application/octet-stream"
	}
	if b.config.CacheControl != "" {
		w.CacheControl = b.config.CacheControl
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. storage.ErrObjectNotExist maps to ErrBlobNotFound.
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(b.objectPath(key)).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", key, simpleassets.ErrBlobNotFound)
		}
		return fmt.Errorf("gcs delete failed for %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) objectPath(key string) string {
	return b.prefix + strings.TrimPrefix(key, "/")
}
