// Package mysql registers the MySQL dialector and error classifier.
package mysql

import (
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
	dbconfig "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/config"
	gormadapter "github.com/tigerroll/undertow/pkg/dbchange/adapter/database/gorm"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
	database.RegisterClassifier(Classify)
}

// ConnectionString builds the go-sql-driver DSN. parseTime is always enabled.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	params := "charset=utf8mb4&parseTime=true&loc=UTC"
	if c.Params != "" {
		params = c.Params
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.User, c.Password, c.Host, c.Port, c.Database, params)
}

// MySQL server error numbers.
const (
	erDupEntry            = 1062
	erLockWaitTimeout     = 1205
	erLockDeadlock        = 1213
	erBadNull             = 1048
	erNoReferencedRow     = 1216
	erRowIsReferenced     = 1217
	erRowIsReferenced2    = 1451
	erNoReferencedRow2    = 1452
	erDataTooLong         = 1406
	erWarnDataOutOfRange  = 1264
	erTruncatedWrongValue = 1366
	erQueryInterrupted    = 1317
)

// Classify implements database.Classifier for go-sql-driver errors.
func Classify(err error) (exception.Kind, bool) {
	if errors.Is(err, driver.ErrInvalidConn) {
		return exception.KindTransient, true
	}
	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) {
		return 0, false
	}
	switch myErr.Number {
	case erLockWaitTimeout, erLockDeadlock, erQueryInterrupted:
		return exception.KindTransient, true
	case erDupEntry, erBadNull, erNoReferencedRow, erRowIsReferenced, erRowIsReferenced2, erNoReferencedRow2,
		erDataTooLong, erWarnDataOutOfRange, erTruncatedWrongValue:
		return exception.KindData, true
	}
	return exception.KindFatal, true
}
