package model

// JobStatus is the dispatcher-level execution state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCanceled  JobStatus = "CANCELED"
)

// String returns the JobStatus as a string.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether s is one of SUCCEEDED, FAILED or CANCELED.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the dispatcher may move a job from s to next.
// RUNNING -> PENDING is the whole-job retry path; terminal states never change.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next.IsTerminal() || next == JobStatusPending
	default:
		return false
	}
}
