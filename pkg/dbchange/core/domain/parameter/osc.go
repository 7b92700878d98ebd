package parameter

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSwapTableNameRetryTimes is used when the submitted value is absent.
const DefaultSwapTableNameRetryTimes = 3

// OnlineSchemaChangeParameters configures an online schema change job.
type OnlineSchemaChangeParameters struct {
	SqlContent               string                   `json:"sqlContent" yaml:"sqlContent"`
	SqlType                  SqlType                  `json:"sqlType" yaml:"sqlType"`
	ErrorStrategy            TaskErrorStrategy        `json:"errorStrategy" yaml:"errorStrategy"`
	OriginTableCleanStrategy OriginTableCleanStrategy `json:"originTableCleanStrategy" yaml:"originTableCleanStrategy"`
	// SwapTableNameRetryTimes bounds the retries of the swap phase. Nil means the default.
	SwapTableNameRetryTimes *int `json:"swapTableNameRetryTimes,omitempty" yaml:"swapTableNameRetryTimes"`
	// DataSourceName names the configured database connection holding the tables.
	DataSourceName string `json:"dataSourceName" yaml:"dataSourceName"`
	// DatabaseName optionally qualifies the table names (MySQL database / Postgres schema).
	DatabaseName string `json:"databaseName,omitempty" yaml:"databaseName"`
	// Delimiter separates statements in SqlContent. Defaults to ";".
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter"`
}

func (*OnlineSchemaChangeParameters) isTaskParameters() {}

// SwapRetryTimes returns the effective swap retry budget.
func (p *OnlineSchemaChangeParameters) SwapRetryTimes() int {
	if p.SwapTableNameRetryTimes == nil {
		return DefaultSwapTableNameRetryTimes
	}
	return *p.SwapTableNameRetryTimes
}

// ApplyDefaults fills optional fields and normalizes enum spelling.
func (p *OnlineSchemaChangeParameters) ApplyDefaults() {
	p.SqlType = normalize(p.SqlType)
	p.ErrorStrategy = normalize(p.ErrorStrategy)
	p.OriginTableCleanStrategy = normalize(p.OriginTableCleanStrategy)
	if p.ErrorStrategy == "" {
		p.ErrorStrategy = ErrorStrategyAbort
	}
	if p.OriginTableCleanStrategy == "" {
		p.OriginTableCleanStrategy = OriginTableRenameAndReserved
	}
	if p.Delimiter == "" {
		p.Delimiter = ";"
	}
}

// Validate reports every structural problem at once.
func (p *OnlineSchemaChangeParameters) Validate() error {
	var errs []error
	if strings.TrimSpace(p.SqlContent) == "" {
		errs = append(errs, errors.New("sqlContent must not be empty"))
	}
	if !p.SqlType.Valid() {
		errs = append(errs, enumError("sqlType", p.SqlType))
	}
	if !p.ErrorStrategy.Valid() {
		errs = append(errs, enumError("errorStrategy", p.ErrorStrategy))
	}
	if !p.OriginTableCleanStrategy.Valid() {
		errs = append(errs, enumError("originTableCleanStrategy", p.OriginTableCleanStrategy))
	}
	if p.SwapTableNameRetryTimes != nil && *p.SwapTableNameRetryTimes < 0 {
		errs = append(errs, fmt.Errorf("swapTableNameRetryTimes must be >= 0, got %d", *p.SwapTableNameRetryTimes))
	}
	if strings.TrimSpace(p.DataSourceName) == "" {
		errs = append(errs, errors.New("dataSourceName must not be empty"))
	}
	return errors.Join(errs...)
}
