package sql

import (
	"fmt"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
)

func toEntity(je *model.JobExecution) (*JobExecutionEntity, error) {
	failure, err := failureColumn(je.Failure)
	if err != nil {
		return nil, err
	}
	return &JobExecutionEntity{
		ID:            je.ID,
		SourceID:      je.Identity.SourceID(),
		SourceType:    string(je.Identity.SourceType()),
		SourceSubType: je.Identity.SourceSubType(),
		Payload:       je.Payload,
		Status:        string(je.Status),
		Attempt:       je.Attempt,
		Failure:       failure,
		CreateTime:    je.CreateTime.UTC(),
		StartTime:     utc(je.StartTime),
		EndTime:       utc(je.EndTime),
		LastHeartbeat: utc(je.LastHeartbeat),
		Version:       je.Version,
	}, nil
}

func toModel(e *JobExecutionEntity) (*model.JobExecution, error) {
	identity, err := model.NewJobIdentity(e.SourceID, model.SourceType(e.SourceType), e.SourceSubType)
	if err != nil {
		return nil, fmt.Errorf("job execution %s has an invalid identity: %w", e.ID, err)
	}
	var failure *model.Failure
	if e.Failure != nil {
		failure = &model.Failure{}
		if err := failure.Scan(*e.Failure); err != nil {
			return nil, fmt.Errorf("job execution %s: %w", e.ID, err)
		}
	}
	return &model.JobExecution{
		ID:            e.ID,
		Identity:      identity,
		Payload:       e.Payload,
		Status:        model.JobStatus(e.Status),
		Attempt:       e.Attempt,
		Failure:       failure,
		CreateTime:    e.CreateTime,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		LastHeartbeat: e.LastHeartbeat,
		Version:       e.Version,
	}, nil
}

// failureColumn renders f for the failure column; nil stays NULL.
func failureColumn(f *model.Failure) (*string, error) {
	v, err := f.Value()
	if err != nil || v == nil {
		return nil, err
	}
	s := v.(string)
	return &s, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
