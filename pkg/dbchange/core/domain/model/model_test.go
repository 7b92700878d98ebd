package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func TestNewJobIdentity(t *testing.T) {
	id, err := model.NewJobIdentity(42, model.SourceTypeTaskTask, "data_archive")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.SourceID())
	assert.Equal(t, model.SourceTypeTaskTask, id.SourceType())
	assert.Equal(t, model.SubTypeDataArchive, id.SourceSubType())
	assert.Equal(t, "TASK_TASK/DATA_ARCHIVE#42", id.String())
	assert.False(t, id.IsZero())
}

func TestNewJobIdentity_RejectsPartialInput(t *testing.T) {
	cases := []struct {
		name    string
		id      int64
		typ     model.SourceType
		subType string
	}{
		{"zero id", 0, model.SourceTypeTaskTask, model.SubTypeAsync},
		{"unknown type", 1, model.SourceType("CRON"), model.SubTypeAsync},
		{"blank sub type", 1, model.SourceTypeScheduleTask, "  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.NewJobIdentity(tc.id, tc.typ, tc.subType)
			require.Error(t, err)
			assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
		})
	}
}

func TestJobIdentity_JSON(t *testing.T) {
	id := model.MustJobIdentity(7, model.SourceTypeScheduleTask, model.SubTypeOnlineSchemaChange)
	b, err := json.Marshal(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sourceId":7,"sourceType":"SCHEDULE_TASK","sourceSubType":"ONLINE_SCHEMA_CHANGE"}`, string(b))

	var decoded model.JobIdentity
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, id, decoded)

	assert.Error(t, json.Unmarshal([]byte(`{"sourceId":7,"sourceType":"SCHEDULE_TASK"}`), &decoded))
}

func TestJobStatus_Transitions(t *testing.T) {
	assert.True(t, model.JobStatusPending.CanTransitionTo(model.JobStatusRunning))
	assert.False(t, model.JobStatusPending.CanTransitionTo(model.JobStatusCanceled))
	assert.True(t, model.JobStatusRunning.CanTransitionTo(model.JobStatusCanceled))
	assert.True(t, model.JobStatusRunning.CanTransitionTo(model.JobStatusPending))
	for _, terminal := range []model.JobStatus{model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusCanceled} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransitionTo(model.JobStatusRunning))
		assert.False(t, terminal.CanTransitionTo(model.JobStatusPending))
	}
}

func TestNewFailure(t *testing.T) {
	assert.Nil(t, model.NewFailure(nil))

	je := exception.NewJobError("archive", exception.KindData, "duplicate key", errors.New("UNIQUE constraint failed")).
		WithPhase("WRITE").WithTarget("orders").WithDestructiveAction(true)
	f := model.NewFailure(je)
	assert.Equal(t, exception.KindData, f.Kind)
	assert.Equal(t, "WRITE", f.Phase)
	assert.Equal(t, "orders", f.Target)
	assert.True(t, f.DestructiveActionTaken)
	assert.Contains(t, f.Message, "UNIQUE constraint failed")
	assert.False(t, f.Retryable())

	transient := model.NewFailure(exception.NewJobError("osc", exception.KindTransient, "lock", nil))
	assert.True(t, transient.Retryable())
}

func TestFailure_ValueScan(t *testing.T) {
	f := &model.Failure{Kind: exception.KindFatal, Phase: "SWAPPING", Target: "t1", Message: "exhausted"}
	v, err := f.Value()
	require.NoError(t, err)

	var back model.Failure
	require.NoError(t, back.Scan(v))
	assert.Equal(t, *f, back)

	var nilFailure *model.Failure
	v, err = nilFailure.Value()
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestJobExecution_Clone(t *testing.T) {
	exec := model.NewJobExecution(model.MustJobIdentity(1, model.SourceTypeTaskTask, model.SubTypeDataArchive), "{}")
	exec.Failure = &model.Failure{Message: "x"}
	c := exec.Clone()
	c.Failure.Message = "y"
	c.Status = model.JobStatusRunning
	assert.Equal(t, "x", exec.Failure.Message)
	assert.Equal(t, model.JobStatusPending, exec.Status)
	assert.NotEmpty(t, exec.ID)
}
