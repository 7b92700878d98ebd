package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// Failure is the classified reason a job did not succeed.
// Only Failures cross from a worker into the dispatcher; raw errors stay inside the engine.
type Failure struct {
	Kind                   exception.Kind `json:"kind"`
	Phase                  string         `json:"phase,omitempty"`
	Target                 string         `json:"target,omitempty"`
	Message                string         `json:"message"`
	DestructiveActionTaken bool           `json:"destructiveActionTaken"`
}

// NewFailure classifies err. It returns nil for a nil error.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	if je, ok := exception.AsJobError(err); ok {
		msg := je.Message
		if je.OriginalErr != nil {
			msg = fmt.Sprintf("%s: %v", je.Message, je.OriginalErr)
		}
		return &Failure{
			Kind:                   je.Kind,
			Phase:                  je.Phase,
			Target:                 je.Target,
			Message:                msg,
			DestructiveActionTaken: je.DestructiveActionTaken,
		}
	}
	return &Failure{Kind: exception.KindOf(err), Message: err.Error()}
}

// Retryable reports whether the whole job may go back to PENDING: only transient
// failures that left the databases untouched qualify.
func (f *Failure) Retryable() bool {
	return f != nil && f.Kind == exception.KindTransient && !f.DestructiveActionTaken
}

// String renders the failure for logs.
func (f *Failure) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s phase=%s target=%s destructive=%t: %s", f.Kind, f.Phase, f.Target, f.DestructiveActionTaken, f.Message)
}

// Value implements the `driver.Valuer` interface, storing the failure as JSON.
func (f *Failure) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface.
func (f *Failure) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for Failure: %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, f); err != nil {
		return fmt.Errorf("failed to unmarshal Failure JSON: %w", err)
	}
	return nil
}
