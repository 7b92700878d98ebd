// Package env turns the string-keyed worker environment into a typed, validated Environment.
// The dispatcher produces it, a worker consumes it once at start-up.
package env

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// Recognized environment keys. Anything else in the process environment is ignored.
const (
	KeyTaskParameter = "UNDERTOW_TASK_PARAMETER"
	KeyDeployMode    = "UNDERTOW_TASK_DEPLOY_MODE"
	KeyBootMode      = "UNDERTOW_BOOT_MODE"
)

// DeployMode tells a worker how it was launched.
type DeployMode string

const (
	// DeployModeThread runs the worker as a goroutine inside the dispatcher process.
	DeployModeThread DeployMode = "THREAD"
	// DeployModeProcess runs the worker as a child process.
	DeployModeProcess DeployMode = "PROCESS"
)

// BootMode tells the binary what to start.
type BootMode string

const (
	BootModeDispatcher BootMode = "DISPATCHER"
	BootModeTaskWorker BootMode = "TASK_WORKER"
)

// ErrMissingTaskParameter is returned when the task payload key is absent or blank.
var ErrMissingTaskParameter = errors.New(KeyTaskParameter + " is not set")

// Environment is the validated, read-only worker environment.
type Environment struct {
	taskParameter string
	deployMode    DeployMode
	bootMode      BootMode
}

// New builds an Environment from a key/value map. Unrecognized keys are ignored.
func New(values map[string]string) (Environment, error) {
	payload := values[KeyTaskParameter]
	if strings.TrimSpace(payload) == "" {
		return Environment{}, exception.NewConfigurationError("env", "worker cannot start without task parameters", ErrMissingTaskParameter)
	}

	deploy := DeployMode(strings.ToUpper(strings.TrimSpace(values[KeyDeployMode])))
	switch deploy {
	case "":
		deploy = DeployModeThread
	case DeployModeThread, DeployModeProcess:
	default:
		return Environment{}, exception.NewConfigurationError("env", fmt.Sprintf("unsupported %s %q", KeyDeployMode, deploy), nil)
	}

	boot := BootMode(strings.ToUpper(strings.TrimSpace(values[KeyBootMode])))
	switch boot {
	case "":
		boot = BootModeTaskWorker
	case BootModeDispatcher, BootModeTaskWorker:
	default:
		return Environment{}, exception.NewConfigurationError("env", fmt.Sprintf("unsupported %s %q", KeyBootMode, boot), nil)
	}

	return Environment{taskParameter: payload, deployMode: deploy, bootMode: boot}, nil
}

// FromOS builds an Environment from the process environment.
func FromOS() (Environment, error) {
	values := make(map[string]string, 3)
	for _, k := range []string{KeyTaskParameter, KeyDeployMode, KeyBootMode} {
		if v, ok := os.LookupEnv(k); ok {
			values[k] = v
		}
	}
	return New(values)
}

// TaskParameter returns the encoded task payload.
func (e Environment) TaskParameter() string { return e.taskParameter }

// DeployMode returns how the worker was launched.
func (e Environment) DeployMode() DeployMode { return e.deployMode }

// BootMode returns the role the process was started in.
func (e Environment) BootMode() BootMode { return e.bootMode }

// ToMap returns the recognized keys and their values.
func (e Environment) ToMap() map[string]string {
	return map[string]string{
		KeyTaskParameter: e.taskParameter,
		KeyDeployMode:    string(e.deployMode),
		KeyBootMode:      string(e.bootMode),
	}
}

// Environ returns the KEY=value form used by os/exec, sorted by key.
func (e Environment) Environ() []string {
	m := e.ToMap()
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
