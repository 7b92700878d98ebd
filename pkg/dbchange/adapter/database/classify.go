package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"sync"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const moduleName = "database"

// Classifier inspects a driver error. ok is false when the error is not one the classifier knows.
type Classifier func(err error) (kind exception.Kind, ok bool)

var (
	classifiers     []Classifier
	classifierMutex sync.RWMutex
)

// RegisterClassifier adds a driver-specific classifier. The dialector packages register theirs in init.
func RegisterClassifier(c Classifier) {
	classifierMutex.Lock()
	defer classifierMutex.Unlock()
	classifiers = append(classifiers, c)
}

// KindOf classifies a database error. Duplicate keys and constraint violations are DATA;
// lock contention, deadlocks and lost connections are TRANSIENT; anything unrecognized is FATAL.
func KindOf(err error) exception.Kind {
	if err == nil {
		return exception.KindFatal
	}
	if je, ok := exception.AsJobError(err); ok {
		return je.Kind
	}

	classifierMutex.RLock()
	registered := classifiers
	classifierMutex.RUnlock()
	for _, c := range registered {
		if kind, ok := c(err); ok {
			return kind
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return exception.KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return exception.KindTransient
	}
	return exception.KindOf(err)
}

// Classify wraps a raw database error into a JobError carrying its Kind. JobErrors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := exception.AsJobError(err); ok {
		return err
	}
	return exception.NewJobError(moduleName, KindOf(err), "database operation failed", err)
}
