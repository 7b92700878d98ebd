package env_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/core/env"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func TestNew_Defaults(t *testing.T) {
	e, err := env.New(map[string]string{
		env.KeyTaskParameter: `{"jobId":"1"}`,
		"PATH":               "/usr/bin",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"jobId":"1"}`, e.TaskParameter())
	assert.Equal(t, env.DeployModeThread, e.DeployMode())
	assert.Equal(t, env.BootModeTaskWorker, e.BootMode())
	assert.Len(t, e.ToMap(), 3)
	assert.NotContains(t, e.ToMap(), "PATH")
}

func TestNew_MissingTaskParameterFailsFast(t *testing.T) {
	for _, values := range []map[string]string{
		{},
		{env.KeyTaskParameter: "   "},
		{env.KeyDeployMode: "PROCESS"},
	} {
		_, err := env.New(values)
		require.Error(t, err)
		assert.True(t, errors.Is(err, env.ErrMissingTaskParameter))
		assert.Equal(t, exception.KindConfiguration, exception.KindOf(err))
	}
}

func TestNew_RejectsUnknownModes(t *testing.T) {
	_, err := env.New(map[string]string{env.KeyTaskParameter: "{}", env.KeyDeployMode: "K8S"})
	assert.Error(t, err)
	_, err = env.New(map[string]string{env.KeyTaskParameter: "{}", env.KeyBootMode: "SERVER"})
	assert.Error(t, err)
}

func TestEnviron(t *testing.T) {
	e, err := env.New(map[string]string{env.KeyTaskParameter: "{}", env.KeyDeployMode: "process", env.KeyBootMode: "task_worker"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"UNDERTOW_BOOT_MODE=TASK_WORKER",
		"UNDERTOW_TASK_DEPLOY_MODE=PROCESS",
		"UNDERTOW_TASK_PARAMETER={}",
	}, e.Environ())
}

func TestFromOS(t *testing.T) {
	t.Setenv(env.KeyTaskParameter, `{"x":1}`)
	t.Setenv(env.KeyDeployMode, "PROCESS")
	e, err := env.FromOS()
	require.NoError(t, err)
	assert.Equal(t, env.DeployModeProcess, e.DeployMode())
}
