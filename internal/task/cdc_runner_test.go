package task

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCdcRunner_ValidateConfig(t *testing.T) {
	r := NewCdcRunner("/opt/flink", "/opt/flink-cdc", t.TempDir(), nil)

	assert.NoError(t, r.ValidateConfig(Document{"job": Document{"source": "x"}}))
	assert.Error(t, r.ValidateConfig(Document{}))
}

func TestCdcRunner_BuildArgs(t *testing.T) {
	r := NewCdcRunner("/opt/flink", "/opt/flink-cdc", t.TempDir(), nil)
	task := &CdcPipelineTask{
		Runtime: Document{
			"savepoint_path":           "/tmp/sp1",
			"allow_non_restored_state": true,
			"claim_mode":               "legacy",
			"target":                   "remote",
			"use_mini_cluster":         true,
			"global_config":            "/etc/flink/global.yaml",
		},
	}
	resolved := ResolvedResources{JarPaths: []string{"/a.jar", "/b.jar"}}

	args := r.buildArgs(task, resolved, "/tmp/job-config.yaml")

	assert := assert.New(t)
	assert.Contains(args, "--flink-home")
	assert.Contains(args, "/opt/flink")
	assert.Contains(args, "--jar")
	assert.Contains(args, "/a.jar,/b.jar")
	assert.Contains(args, "--from-savepoint")
	assert.Contains(args, "/tmp/sp1")
	assert.Contains(args, "--allow-nonRestored-state")
	assert.Contains(args, "--claim-mode")
	assert.Contains(args, "legacy")
	assert.Contains(args, "--target")
	assert.Contains(args, "remote")
	assert.Contains(args, "--use-mini-cluster")
	assert.Contains(args, "--global-config")
	assert.Contains(args, "/etc/flink/global.yaml")
	assert.Equal("/tmp/job-config.yaml", args[len(args)-1])
}

func TestCdcRunner_BuildArgs_OmitsOptionalFlags(t *testing.T) {
	r := NewCdcRunner("/opt/flink", "/opt/flink-cdc", t.TempDir(), nil)
	task := &CdcPipelineTask{}
	args := r.buildArgs(task, ResolvedResources{}, "/tmp/job-config.yaml")

	assert.NotContains(t, args, "--from-savepoint")
	assert.NotContains(t, args, "--use-mini-cluster")
	assert.NotContains(t, args, "--jar")
}

func TestCdcJobIDPattern_ExtractsJobID(t *testing.T) {
	log := "some preamble\nJob has been submitted with JobID abcdef0123456789\nmore output\n"
	m := cdcJobIDPattern.FindSubmatch([]byte(log))
	assert := assert.New(t)
	assert.NotNil(m)
	assert.Equal("abcdef0123456789", string(m[1]))
}

func TestMapJobManagerState(t *testing.T) {
	cases := map[string]Status{
		"RUNNING":    StatusRunning,
		"CREATED":    StatusRunning,
		"RESTARTING": StatusRunning,
		"FINISHED":   StatusCompleted,
		"COMPLETED":  StatusCompleted,
		"FAILED":     StatusFailed,
		"FAILING":    StatusFailed,
		"CANCELED":   StatusCancelled,
		"CANCELLING": StatusCancelled,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapJobManagerState(in), "state %s", in)
	}
}

func TestBuildSubprocessEnv_EnsuresFlinkHomeAndLayersOverrides(t *testing.T) {
	env := buildSubprocessEnv(map[string]string{"FOO": "bar"}, "/opt/flink")
	assert := assert.New(t)
	assert.Equal("/opt/flink", env["FLINK_HOME"])
	assert.Equal("bar", env["FOO"])
}

func TestBuildSubprocessEnv_DoesNotMutateProcessEnvironment(t *testing.T) {
	t.Setenv("FLINK_HOME", "")
	env := buildSubprocessEnv(map[string]string{"FLINK_HOME": "/custom"}, "/opt/flink")
	assert.Equal(t, "/custom", env["FLINK_HOME"])
	assert.Empty(t, os.Getenv("FLINK_HOME"))
}
