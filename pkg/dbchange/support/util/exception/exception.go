// Package exception provides the error type and classification helpers shared by the undertow engines.
// Every error raised inside a phase is classified into a Kind so that retry loops, error strategies
// and the dispatcher can act on the classification instead of on driver-specific error values.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Kind classifies a failure.
type Kind int

const (
	// KindFatal is an irrecoverable failure (shadow table creation, swap retry exhaustion). Never retried.
	KindFatal Kind = iota
	// KindConfiguration is a missing or invalid parameter. Rejected at submission.
	KindConfiguration
	// KindTransient is an infrastructure failure (lock contention, dropped connection). Retried with backoff.
	KindTransient
	// KindData is a constraint violation or duplicate key outside the configured insert action.
	KindData
	// KindCanceled marks work stopped by a cancellation request.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindFatal:         "FATAL",
	KindConfiguration: "CONFIGURATION",
	KindTransient:     "TRANSIENT",
	KindData:          "DATA",
	KindCanceled:      "CANCELED",
}

// String returns the upper-case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind: %q", string(b))
}

// errorRegistry maps names referenced in configuration (retryable error lists) to sentinel errors.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a sentinel error under a name usable from configuration.
// It panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is present in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// JobError is the error raised by engine phases.
// It carries the classification plus the context a user needs to act on a failure:
// the phase, the affected table or statement, and whether anything destructive already happened.
type JobError struct {
	// Module where the error occurred (e.g., "osc", "archive", "dispatcher", "config").
	Module string
	// Kind is the classification.
	Kind Kind
	// Phase is the engine phase (e.g., "SHADOW_TABLE_CREATED", "SWAPPING", "WRITE").
	Phase string
	// Target is the affected table or statement.
	Target string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// DestructiveActionTaken is set once an origin table drop or a source row delete has happened.
	DestructiveActionTaken bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewJobError creates a new JobError.
func NewJobError(module string, kind Kind, message string, originalErr error) *JobError {
	return &JobError{
		Module:      module,
		Kind:        kind,
		Message:     message,
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

// NewJobErrorf creates a new JobError with a formatted message.
// If the last argument is an error it becomes OriginalErr and is not used for formatting.
//
// Example:
//
//	NewJobErrorf("archive", KindTransient, "write to %s failed", "t1", err)
func NewJobErrorf(module string, kind Kind, format string, a ...interface{}) *JobError {
	var originalErr error
	args := a
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	return &JobError{
		Module:      module,
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

// NewConfigurationError is shorthand for a KindConfiguration error.
func NewConfigurationError(module, message string, originalErr error) *JobError {
	return NewJobError(module, KindConfiguration, message, originalErr)
}

// WithPhase returns a copy of e with the phase set.
func (e *JobError) WithPhase(phase string) *JobError {
	c := *e
	c.Phase = phase
	return &c
}

// WithTarget returns a copy of e with the target set.
func (e *JobError) WithTarget(target string) *JobError {
	c := *e
	c.Target = target
	return &c
}

// WithDestructiveAction returns a copy of e with DestructiveActionTaken set to taken.
func (e *JobError) WithDestructiveAction(taken bool) *JobError {
	c := *e
	c.DestructiveActionTaken = taken
	return &c
}

// Error implements the error interface.
func (e *JobError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s]", e.Module, e.Kind)
	if e.Phase != "" {
		fmt.Fprintf(&b, " phase=%s", e.Phase)
	}
	if e.Target != "" {
		fmt.Fprintf(&b, " target=%s", e.Target)
	}
	fmt.Fprintf(&b, " %s", e.Message)
	if e.OriginalErr != nil {
		fmt.Fprintf(&b, ": %v", e.OriginalErr)
	}
	return b.String()
}

// Unwrap returns the original error for errors.Unwrap.
func (e *JobError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the error may be retried at the batch or phase level.
func (e *JobError) IsRetryable() bool {
	return e.Kind == KindTransient
}

// AsJobError returns the outermost JobError in err's chain.
func AsJobError(err error) (*JobError, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je, true
	}
	return nil, false
}

// KindOf classifies err. Cancellation is recognized anywhere in the chain; unclassified errors are fatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindFatal
	}
	if je, ok := AsJobError(err); ok {
		return je.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsTemporary reports whether err is transient.
func IsTemporary(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsFatal reports whether err must stop the job without any retry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindFatal || k == KindConfiguration
}

// IsCanceled reports whether err stems from cancellation.
func IsCanceled(err error) bool {
	return err != nil && KindOf(err) == KindCanceled
}

// Annotate attaches phase and target to err when missing, classifying plain errors as fatal.
func Annotate(module string, err error, phase, target string) *JobError {
	if err == nil {
		return nil
	}
	je, ok := AsJobError(err)
	if !ok {
		je = NewJobError(module, KindOf(err), err.Error(), err)
	}
	c := *je
	if c.Phase == "" {
		c.Phase = phase
	}
	if c.Target == "" {
		c.Target = target
	}
	return &c
}

// IsErrorOfType checks whether err matches a registered sentinel, an error type name
// (e.g., "*mysql.MySQLError") or a substring of any message in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, targetError) {
		return true
	}

	for currentErr := err; currentErr != nil; currentErr = errors.Unwrap(currentErr) {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// ExtractErrorMessage returns the Message of a JobError or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if je, ok := AsJobError(err); ok {
		return je.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
}
