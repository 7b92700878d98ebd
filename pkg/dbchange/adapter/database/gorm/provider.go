// Package gorm implements the database boundary on top of GORM.
package gorm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	dbconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/config"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

const moduleName = "database"

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s (import its dialector package)", dbType)
	}
	return factory, nil
}

type connection struct {
	db      *gorm.DB
	dialect database.Dialect
}

// Provider opens configured databases lazily and hands out pinned sessions.
type Provider struct {
	databases map[string]dbconfig.DatabaseConfig
	logLevel  string

	connections map[string]*connection
	mu          sync.RWMutex
}

var _ database.Provider = (*Provider)(nil)

// NewProvider creates a Provider for the named database configurations.
// logLevel is the GORM log level (SILENT, ERROR, WARN, INFO).
func NewProvider(databases map[string]dbconfig.DatabaseConfig, logLevel string) *Provider {
	return &Provider{
		databases:   databases,
		logLevel:    logLevel,
		connections: make(map[string]*connection),
	}
}

// Attach registers an already opened *gorm.DB under name.
func (p *Provider) Attach(name, dbType string, db *gorm.DB) error {
	dialect, err := database.LookupDialect(dbType)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[name] = &connection{db: db, dialect: dialect}
	return nil
}

// DB returns the pooled *gorm.DB for name, connecting on first use.
func (p *Provider) DB(name string) (*gorm.DB, database.Dialect, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn.db, conn.dialect, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn.db, conn.dialect, nil
	}

	cfg, ok := p.databases[name]
	if !ok {
		return nil, nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("database configuration '%s' not found", name), nil)
	}
	conn, err := p.connect(cfg)
	if err != nil {
		return nil, nil, exception.NewJobErrorf(moduleName, database.KindOf(err), "failed to connect to database '%s'", name, err)
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, cfg.Type)
	return conn.db, conn.dialect, nil
}

// Open opens a dedicated connection pool for name that is not shared with sessions.
// The caller owns it and must close the underlying *sql.DB.
func (p *Provider) Open(name string) (*gorm.DB, database.Dialect, error) {
	cfg, ok := p.databases[name]
	if !ok {
		return nil, nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("database configuration '%s' not found", name), nil)
	}
	conn, err := p.connect(cfg)
	if err != nil {
		return nil, nil, exception.NewJobErrorf(moduleName, database.KindOf(err), "failed to connect to database '%s'", name, err)
	}
	return conn.db, conn.dialect, nil
}

// connect establishes a GORM connection based on DatabaseConfig.
func (p *Provider) connect(dbConfig dbconfig.DatabaseConfig) (*connection, error) {
	dialect, err := database.LookupDialect(dbConfig.Type)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "unsupported database type", err)
	}
	dialectorFactory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, "unsupported database type", err)
	}
	dialector, err := dialectorFactory(dbConfig)
	if err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to create dialector for %s", dbConfig.Type), err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(p.logLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return &connection{db: db, dialect: dialect}, nil
}

// WithSession implements database.Provider. The session is bound to one connection taken from
// the pool, returned when fn returns.
func (p *Provider) WithSession(ctx context.Context, name string, fn func(database.Session) error) error {
	db, dialect, err := p.DB(name)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		return fn(&session{name: name, dialect: dialect, db: tx})
	})
	return database.Classify(err)
}

// CloseAll closes all connections managed by this provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		sqlDB, err := conn.db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}
