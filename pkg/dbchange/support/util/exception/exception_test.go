package exception_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

type lockError struct {
	Code int
}

func (e *lockError) Error() string {
	return fmt.Sprintf("lock wait timeout (%d)", e.Code)
}

func TestNewJobError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	je := exception.NewJobError("archive", exception.KindTransient, "failed to write batch", originalErr)

	assert.Equal(t, "archive", je.Module)
	assert.Equal(t, originalErr, je.Unwrap())
	assert.True(t, je.IsRetryable())
	assert.Contains(t, je.Error(), "[archive/TRANSIENT] failed to write batch: db connection refused")
	assert.NotEmpty(t, je.StackTrace)
}

func TestNewJobErrorf(t *testing.T) {
	je := exception.NewJobErrorf("osc", exception.KindFatal, "shadow table %s", "_t1_osc_new_")
	assert.Nil(t, je.Unwrap())
	assert.Equal(t, "shadow table _t1_osc_new_", je.Message)

	cause := errors.New("syntax error")
	je2 := exception.NewJobErrorf("osc", exception.KindFatal, "statement %d failed", 2, cause)
	assert.Equal(t, cause, je2.Unwrap())
	assert.Equal(t, "statement 2 failed", je2.Message)
	assert.False(t, je2.IsRetryable())
}

func TestJobError_WithersDoNotMutate(t *testing.T) {
	base := exception.NewJobError("archive", exception.KindData, "duplicate key", nil)
	annotated := base.WithPhase("WRITE").WithTarget("orders").WithDestructiveAction(true)

	assert.Empty(t, base.Phase)
	assert.False(t, base.DestructiveActionTaken)
	assert.Equal(t, "WRITE", annotated.Phase)
	assert.Equal(t, "orders", annotated.Target)
	assert.True(t, annotated.DestructiveActionTaken)
	assert.Contains(t, annotated.Error(), "phase=WRITE target=orders")
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", exception.NewJobError("x", exception.KindData, "dup", nil))

	assert.Equal(t, exception.KindData, exception.KindOf(wrapped))
	assert.Equal(t, exception.KindCanceled, exception.KindOf(fmt.Errorf("stop: %w", context.Canceled)))
	assert.Equal(t, exception.KindTransient, exception.KindOf(context.DeadlineExceeded))
	assert.Equal(t, exception.KindFatal, exception.KindOf(errors.New("boom")))

	assert.True(t, exception.IsTemporary(exception.NewJobError("x", exception.KindTransient, "busy", nil)))
	assert.True(t, exception.IsFatal(exception.NewConfigurationError("config", "bad", nil)))
	assert.False(t, exception.IsFatal(nil))
	assert.True(t, exception.IsCanceled(context.Canceled))
}

func TestAnnotate(t *testing.T) {
	assert.Nil(t, exception.Annotate("osc", nil, "SWAPPING", "t1"))

	plain := exception.Annotate("osc", errors.New("no such table"), "SWAPPING", "t1")
	require.NotNil(t, plain)
	assert.Equal(t, exception.KindFatal, plain.Kind)
	assert.Equal(t, "SWAPPING", plain.Phase)
	assert.Equal(t, "t1", plain.Target)

	existing := exception.NewJobError("osc", exception.KindData, "count mismatch", nil).WithPhase("VALIDATED")
	kept := exception.Annotate("osc", existing, "SWAPPING", "t1")
	assert.Equal(t, "VALIDATED", kept.Phase)
	assert.Equal(t, "t1", kept.Target)
}

func TestKind_TextRoundTrip(t *testing.T) {
	b, err := json.Marshal(map[string]exception.Kind{"kind": exception.KindTransient})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"TRANSIENT"}`, string(b))

	var k exception.Kind
	require.NoError(t, k.UnmarshalText([]byte("data")))
	assert.Equal(t, exception.KindData, k)
	assert.Error(t, k.UnmarshalText([]byte("nope")))
}

func TestIsErrorOfType(t *testing.T) {
	err := fmt.Errorf("batch: %w", &lockError{Code: 1205})

	assert.True(t, exception.IsErrorOfType(err, "*exception_test.lockError"))
	assert.True(t, exception.IsErrorOfType(err, "lock wait timeout"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("x: %w", context.Canceled), "context.Canceled"))
	assert.False(t, exception.IsErrorOfType(err, "deadlock"))
	assert.False(t, exception.IsErrorOfType(nil, "anything"))
}

func TestRegisterErrorType_Panics(t *testing.T) {
	assert.Panics(t, func() { exception.RegisterErrorType("", errors.New("x")) })
	assert.Panics(t, func() { exception.RegisterErrorType("x", nil) })

	sentinel := errors.New("custom sentinel")
	exception.RegisterErrorType("CustomSentinel", sentinel)
	assert.True(t, exception.IsErrorTypeRegistered("CustomSentinel"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("w: %w", sentinel), "CustomSentinel"))
}
