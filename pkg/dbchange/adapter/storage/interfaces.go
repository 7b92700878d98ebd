// Package storage abstracts the object stores that archive backups are written to.
// Backends (local file system, Google Cloud Storage) register a factory under their type name.
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/storage/config"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// Executor defines generic object operations.
type Executor interface {
	// Upload writes data to bucket/objectName. An empty bucket means the connection's default bucket.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download returns a reader the caller must close.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// Connection is one configured storage.
type Connection interface {
	Executor
	Name() string
	Type() string
	Close() error
}

// Factory opens a Connection for a configuration entry.
type Factory func(ctx context.Context, name string, cfg storageconfig.StorageConfig) (Connection, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory registers f for the storage type. Backends call it from init.
func RegisterFactory(storageType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[storageType] = f
}

// Provider opens named connections lazily and caches them.
type Provider struct {
	configs     map[string]storageconfig.StorageConfig
	connections map[string]Connection
	mu          sync.Mutex
}

// NewProvider creates a Provider over the named storage configurations.
func NewProvider(configs map[string]storageconfig.StorageConfig) *Provider {
	return &Provider{configs: configs, connections: make(map[string]Connection)}
}

// GetConnection returns the connection called name, opening it on first use.
func (p *Provider) GetConnection(ctx context.Context, name string) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	cfg, ok := p.configs[name]
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("storage '%s' is not configured", name), nil)
	}
	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("storage '%s' has unsupported type '%s'", name, cfg.Type), nil)
	}
	conn, err := f(ctx, name, cfg)
	if err != nil {
		return nil, exception.NewJobError(moduleName, exception.KindConfiguration, fmt.Sprintf("failed to open storage '%s'", name), err)
	}
	p.connections[name] = conn
	logger.Debugf("Opened %s storage connection '%s'.", cfg.Type, name)
	return conn, nil
}

// CloseAll closes every opened connection.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var merr *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return merr.ErrorOrNil()
}

const moduleName = "storage"
