package parameter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/configbinder"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

const moduleName = "parameter"

// TaskParameters is the closed set of parameter types an engine accepts.
type TaskParameters interface {
	isTaskParameters()
	ApplyDefaults()
	Validate() error
}

// TaskPayload is the serialized object handed to a worker through its environment.
type TaskPayload struct {
	JobID      string            `json:"jobId"`
	Identity   model.JobIdentity `json:"identity"`
	Attempt    int               `json:"attempt"`
	FireTime   time.Time         `json:"fireTime"`
	Parameters json.RawMessage   `json:"parameters"`
}

// EncodePayload serializes a payload.
func EncodePayload(p TaskPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", exception.NewJobError(moduleName, exception.KindConfiguration, "failed to encode task payload", err)
	}
	return string(b), nil
}

// DecodePayload parses a payload produced by EncodePayload.
func DecodePayload(raw string) (*TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to decode task payload", err)
	}
	if p.Identity.IsZero() {
		return nil, exception.NewConfigurationError(moduleName, "task payload carries no job identity", nil)
	}
	return &p, nil
}

// newFor returns an empty parameter value for the sub-type.
func newFor(subType string) (TaskParameters, error) {
	switch subType {
	case model.SubTypeOnlineSchemaChange:
		return &OnlineSchemaChangeParameters{}, nil
	case model.SubTypeDataArchive:
		return &DataArchiveParameters{}, nil
	case model.SubTypeDataDelete:
		return &DataArchiveParameters{DeleteOnly: true}, nil
	default:
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("no task parameters defined for sub-type %q", subType), nil)
	}
}

// Decode parses JSON parameters for subType, applies defaults and validates them.
// Unknown fields are rejected so that typos surface at submission.
func Decode(subType string, raw []byte) (TaskParameters, error) {
	params, err := newFor(subType)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("invalid %s parameters", subType), err)
	}
	return finish(subType, params)
}

// DecodeMap binds loosely typed parameters (decoded YAML) for subType.
func DecodeMap(subType string, raw map[string]interface{}) (TaskParameters, error) {
	params, err := newFor(subType)
	if err != nil {
		return nil, err
	}
	if err := configbinder.BindProperties(raw, params); err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("invalid %s parameters", subType), err)
	}
	return finish(subType, params)
}

func finish(subType string, params TaskParameters) (TaskParameters, error) {
	params.ApplyDefaults()
	if err := params.Validate(); err != nil {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("invalid %s parameters", subType), err)
	}
	return params, nil
}
