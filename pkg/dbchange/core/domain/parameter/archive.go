package parameter

import (
	"errors"
	"fmt"
	"strings"
)

// DataArchiveTableConfig selects one table to migrate.
type DataArchiveTableConfig struct {
	TableName string `json:"tableName" yaml:"tableName"`
	// TargetTableName defaults to TableName.
	TargetTableName string `json:"targetTableName,omitempty" yaml:"targetTableName"`
	// ConditionExpression is an optional row filter; ${var} placeholders are bound from OffsetConfig variables.
	ConditionExpression string `json:"conditionExpression,omitempty" yaml:"conditionExpression"`
}

// Target returns the effective target table name.
func (c DataArchiveTableConfig) Target() string {
	if c.TargetTableName != "" {
		return c.TargetTableName
	}
	return c.TableName
}

// RateLimitConfiguration caps throughput against the source database. Zero means unlimited.
type RateLimitConfiguration struct {
	// RowLimit is rows per second.
	RowLimit int `json:"rowLimit" yaml:"rowLimit"`
	// DataSizeLimit is bytes per second.
	DataSizeLimit int64 `json:"dataSizeLimit" yaml:"dataSizeLimit"`
}

// DataArchiveParameters configures a data archive (or data delete) job.
type DataArchiveParameters struct {
	Name                  string                   `json:"name" yaml:"name"`
	SourceDatabaseID      int64                    `json:"sourceDatabaseId" yaml:"sourceDatabaseId"`
	TargetDatabaseID      int64                    `json:"targetDataBaseId" yaml:"targetDataBaseId"`
	SourceDatabaseName    string                   `json:"sourceDatabaseName" yaml:"sourceDatabaseName"`
	TargetDatabaseName    string                   `json:"targetDatabaseName" yaml:"targetDatabaseName"`
	SourceDataSourceName  string                   `json:"sourceDataSourceName" yaml:"sourceDataSourceName"`
	TargetDataSourceName  string                   `json:"targetDataSourceName" yaml:"targetDataSourceName"`
	Variables             []OffsetConfig           `json:"variables,omitempty" yaml:"variables"`
	Tables                []DataArchiveTableConfig `json:"tables" yaml:"tables"`
	DeleteAfterMigration  bool                     `json:"deleteAfterMigration" yaml:"deleteAfterMigration"`
	MigrationInsertAction MigrationInsertAction    `json:"migrationInsertAction" yaml:"migrationInsertAction"`
	RateLimit             RateLimitConfiguration   `json:"rateLimit" yaml:"rateLimit"`
	ErrorStrategy         TaskErrorStrategy        `json:"errorStrategy,omitempty" yaml:"errorStrategy"`
	// DeleteOnly marks a DATA_DELETE job: rows matching the conditions are removed without a target write.
	DeleteOnly bool `json:"-" yaml:"-"`
}

func (*DataArchiveParameters) isTaskParameters() {}

// ApplyDefaults fills optional fields and normalizes enum spelling.
func (p *DataArchiveParameters) ApplyDefaults() {
	p.MigrationInsertAction = normalize(p.MigrationInsertAction)
	p.ErrorStrategy = normalize(p.ErrorStrategy)
	if p.MigrationInsertAction == "" {
		p.MigrationInsertAction = InsertNormal
	}
	if p.ErrorStrategy == "" {
		p.ErrorStrategy = ErrorStrategyAbort
	}
	if p.DeleteOnly {
		p.DeleteAfterMigration = true
	}
}

// Validate reports every structural problem at once.
func (p *DataArchiveParameters) Validate() error {
	var errs []error
	if len(p.Tables) == 0 {
		errs = append(errs, errors.New("tables must not be empty"))
	}
	if strings.TrimSpace(p.SourceDataSourceName) == "" {
		errs = append(errs, errors.New("sourceDataSourceName must not be empty"))
	}
	if !p.DeleteOnly && strings.TrimSpace(p.TargetDataSourceName) == "" {
		errs = append(errs, errors.New("targetDataSourceName must not be empty"))
	}
	if !p.MigrationInsertAction.Valid() {
		errs = append(errs, enumError("migrationInsertAction", p.MigrationInsertAction))
	}
	if !p.ErrorStrategy.Valid() {
		errs = append(errs, enumError("errorStrategy", p.ErrorStrategy))
	}
	if p.RateLimit.RowLimit < 0 || p.RateLimit.DataSizeLimit < 0 {
		errs = append(errs, errors.New("rateLimit values must be >= 0"))
	}
	seen := make(map[string]bool, len(p.Tables))
	for i, t := range p.Tables {
		if strings.TrimSpace(t.TableName) == "" {
			errs = append(errs, fmt.Errorf("tables[%d].tableName must not be empty", i))
			continue
		}
		if seen[t.TableName] {
			errs = append(errs, fmt.Errorf("tables[%d].tableName %q is listed twice", i, t.TableName))
		}
		seen[t.TableName] = true
	}
	names := make(map[string]bool, len(p.Variables))
	for i, v := range p.Variables {
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("variables[%d]: %w", i, err))
		}
		names[v.Name] = true
	}
	for _, t := range p.Tables {
		for _, ref := range placeholders(t.ConditionExpression) {
			if !names[ref] {
				errs = append(errs, fmt.Errorf("table %q references undefined variable ${%s}", t.TableName, ref))
			}
		}
	}
	return errors.Join(errs...)
}
