package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/scheduler"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []model.JobIdentity
	raw   [][]byte
	err   error
}

func (r *recordingSubmitter) Submit(_ context.Context, identity model.JobIdentity, parameters []byte) (*model.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, identity)
	r.raw = append(r.raw, parameters)
	if r.err != nil {
		return nil, r.err
	}
	return model.NewJobExecution(identity, string(parameters)), nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func deleteSchedule(spec string) config.ScheduleConfig {
	return config.ScheduleConfig{
		Cron:     spec,
		SourceID: 42,
		SubType:  "data_delete",
		Parameters: map[string]interface{}{
			"sourceDataSourceName": "main",
			"tables": []interface{}{
				map[string]interface{}{"tableName": "audit_log", "conditionExpression": "created_at < '2020-01-01'"},
			},
		},
	}
}

func TestNewEntry(t *testing.T) {
	entry, err := scheduler.NewEntry(deleteSchedule("0 3 * * *"))
	require.NoError(t, err)

	assert.Equal(t, model.SourceTypeScheduleTask, entry.Identity.SourceType())
	assert.Equal(t, model.SubTypeDataDelete, entry.Identity.SourceSubType())
	params, err := parameter.Decode(model.SubTypeDataDelete, entry.Parameters)
	require.NoError(t, err)
	archive := params.(*parameter.DataArchiveParameters)
	assert.True(t, archive.DeleteOnly)
	assert.Equal(t, "audit_log", archive.Tables[0].TableName)
}

func TestNewEntry_Rejects(t *testing.T) {
	badCron := deleteSchedule("every night")
	_, err := scheduler.NewEntry(badCron)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))

	badID := deleteSchedule("@daily")
	badID.SourceID = 0
	_, err = scheduler.NewEntry(badID)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))

	badParams := deleteSchedule("@daily")
	badParams.Parameters = map[string]interface{}{"sourceDataSourceName": "main"}
	_, err = scheduler.NewEntry(badParams)
	assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
}

func TestNew_ReportsFailingSchedule(t *testing.T) {
	_, err := scheduler.New(&recordingSubmitter{}, []config.ScheduleConfig{deleteSchedule("@daily"), deleteSchedule("nope")}, nil)
	require.Error(t, err)
	je, ok := exception.AsJobError(err)
	require.True(t, ok)
	assert.Equal(t, "schedules[1]", je.Target)
}

func TestFire_SubmitsScheduleTask(t *testing.T) {
	sub := &recordingSubmitter{}
	s, err := scheduler.New(sub, []config.ScheduleConfig{deleteSchedule("@daily")}, time.UTC)
	require.NoError(t, err)
	require.Len(t, s.Entries(), 1)

	s.Fire(context.Background(), s.Entries()[0])
	require.Equal(t, 1, sub.count())
	assert.Equal(t, model.SourceTypeScheduleTask, sub.calls[0].SourceType())
	assert.True(t, json.Valid(sub.raw[0]))

	sub.err = errors.New("repository down")
	assert.NotPanics(t, func() { s.Fire(context.Background(), s.Entries()[0]) })
}

func TestStart_FiresOnSchedule(t *testing.T) {
	sub := &recordingSubmitter{}
	s, err := scheduler.New(sub, []config.ScheduleConfig{deleteSchedule("@every 1s")}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return sub.count() >= 1 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
