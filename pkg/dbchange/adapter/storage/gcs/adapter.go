// Package gcs stores objects in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/storage"
	storageconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/config"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

func init() {
	storage.RegisterFactory(ProviderType, func(ctx context.Context, name string, cfg storageconfig.StorageConfig) (storage.Connection, error) {
		return NewAdapter(ctx, cfg, name)
	})
}

type adapter struct {
	client *gcstorage.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.Connection = (*adapter)(nil)

// ClientOptions returns the client options derived from cfg.
func ClientOptions(cfg storageconfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

// NewAdapter creates a GCS client. Without credentials_file the application default credentials are used.
func NewAdapter(ctx context.Context, cfg storageconfig.StorageConfig, name string) (storage.Connection, error) {
	client, err := gcstorage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return &adapter{client: client, cfg: cfg, name: name}, nil
}

func (a *adapter) Close() error { return a.client.Close() }
func (a *adapter) Type() string { return ProviderType }
func (a *adapter) Name() string { return a.name }

func (a *adapter) bucketName(name string) (string, error) {
	if name == "" {
		name = a.cfg.BucketName
	}
	if name == "" {
		return "", fmt.Errorf("gcs storage '%s': no bucket given and bucket_name is not configured", a.name)
	}
	return name, nil
}

func (a *adapter) bucket(name string) (*gcstorage.BucketHandle, error) {
	name, err := a.bucketName(name)
	if err != nil {
		return nil, err
	}
	return a.client.Bucket(name), nil
}

func (a *adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	name, err := a.bucketName(bucket)
	if err != nil {
		return err
	}
	w := a.client.Bucket(name).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", name, objectName, err)
	}
	// The object is committed on Close.
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", name, objectName, err)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs storage '%s').", name, objectName, a.name)
	return nil
}

func (a *adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	b, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	r, err := b.Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectName, err)
	}
	return r, nil
}

func (a *adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	it := b.Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (a *adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	b, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	if err := b.Object(objectName).Delete(ctx); err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", objectName, err)
	}
	return nil
}
