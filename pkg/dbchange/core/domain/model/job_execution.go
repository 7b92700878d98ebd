package model

import (
	"time"

	"github.com/google/uuid"
)

// JobExecution is the dispatcher's record of one submitted job.
type JobExecution struct {
	ID            string
	Identity      JobIdentity
	Payload       string // serialized task parameters (JSON)
	Status        JobStatus
	Attempt       int
	Failure       *Failure
	CreateTime    time.Time
	StartTime     *time.Time
	EndTime       *time.Time
	LastHeartbeat *time.Time
	Version       int
}

// NewID returns a new random execution id.
func NewID() string {
	return uuid.New().String()
}

// NewJobExecution creates a PENDING execution for identity and payload.
func NewJobExecution(identity JobIdentity, payload string) *JobExecution {
	return &JobExecution{
		ID:         NewID(),
		Identity:   identity,
		Payload:    payload,
		Status:     JobStatusPending,
		CreateTime: time.Now(),
	}
}

// Clone returns a deep copy so that repositories never hand out shared pointers.
func (e *JobExecution) Clone() *JobExecution {
	if e == nil {
		return nil
	}
	c := *e
	if e.Failure != nil {
		f := *e.Failure
		c.Failure = &f
	}
	c.StartTime = cloneTime(e.StartTime)
	c.EndTime = cloneTime(e.EndTime)
	c.LastHeartbeat = cloneTime(e.LastHeartbeat)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobResult is what a worker reports when its engine returns.
type JobResult struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Failure *Failure  `json:"failure,omitempty"`
	Summary string    `json:"summary,omitempty"`
}
