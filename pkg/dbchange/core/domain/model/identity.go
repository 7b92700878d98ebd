// Package model holds the domain types shared by the dispatcher, the engines and the repositories.
package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// SourceType tells which kind of upstream entity scheduled a job.
type SourceType string

const (
	// SourceTypeTaskTask is a job created directly from a one-off task.
	SourceTypeTaskTask SourceType = "TASK_TASK"
	// SourceTypeScheduleTask is a job created by a schedule trigger.
	SourceTypeScheduleTask SourceType = "SCHEDULE_TASK"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeTaskTask, SourceTypeScheduleTask:
		return true
	default:
		return false
	}
}

// Source sub-type tags. The dispatcher picks the engine from this tag.
const (
	SubTypeAsync              = "ASYNC"
	SubTypeImport             = "IMPORT"
	SubTypeExport             = "EXPORT"
	SubTypeMockData           = "MOCKDATA"
	SubTypeDataArchive        = "DATA_ARCHIVE"
	SubTypeDataDelete         = "DATA_DELETE"
	SubTypeOnlineSchemaChange = "ONLINE_SCHEMA_CHANGE"
)

// JobIdentity identifies one executable unit of work and where it came from.
// Fields are unexported so that a JobIdentity can only be obtained fully populated and never changes.
type JobIdentity struct {
	sourceID      int64
	sourceType    SourceType
	sourceSubType string
}

// NewJobIdentity constructs a JobIdentity, rejecting incomplete input with a configuration error.
func NewJobIdentity(sourceID int64, sourceType SourceType, sourceSubType string) (JobIdentity, error) {
	subType := strings.ToUpper(strings.TrimSpace(sourceSubType))
	switch {
	case sourceID <= 0:
		return JobIdentity{}, exception.NewConfigurationError("identity", fmt.Sprintf("source id must be positive, got %d", sourceID), nil)
	case !sourceType.Valid():
		return JobIdentity{}, exception.NewConfigurationError("identity", fmt.Sprintf("unknown source type %q", sourceType), nil)
	case subType == "":
		return JobIdentity{}, exception.NewConfigurationError("identity", "source sub-type must not be empty", nil)
	}
	return JobIdentity{sourceID: sourceID, sourceType: sourceType, sourceSubType: subType}, nil
}

// MustJobIdentity is NewJobIdentity that panics on error. Intended for tests and static wiring.
func MustJobIdentity(sourceID int64, sourceType SourceType, sourceSubType string) JobIdentity {
	id, err := NewJobIdentity(sourceID, sourceType, sourceSubType)
	if err != nil {
		panic(err)
	}
	return id
}

func (j JobIdentity) SourceID() int64        { return j.sourceID }
func (j JobIdentity) SourceType() SourceType { return j.sourceType }
func (j JobIdentity) SourceSubType() string  { return j.sourceSubType }

// IsZero reports whether j was never constructed.
func (j JobIdentity) IsZero() bool {
	return j.sourceID == 0 && j.sourceType == "" && j.sourceSubType == ""
}

// String renders the identity as TYPE/SUBTYPE#ID.
func (j JobIdentity) String() string {
	return fmt.Sprintf("%s/%s#%d", j.sourceType, j.sourceSubType, j.sourceID)
}

type jobIdentityJSON struct {
	SourceID      int64      `json:"sourceId"`
	SourceType    SourceType `json:"sourceType"`
	SourceSubType string     `json:"sourceSubType"`
}

// MarshalJSON implements json.Marshaler.
func (j JobIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobIdentityJSON{SourceID: j.sourceID, SourceType: j.sourceType, SourceSubType: j.sourceSubType})
}

// UnmarshalJSON validates through NewJobIdentity so that a decoded identity is always complete.
func (j *JobIdentity) UnmarshalJSON(b []byte) error {
	var raw jobIdentityJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	id, err := NewJobIdentity(raw.SourceID, raw.SourceType, raw.SourceSubType)
	if err != nil {
		return err
	}
	*j = id
	return nil
}
