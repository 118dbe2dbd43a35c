package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/config"
)

const topUpScenario = "../../internal/scenario/testdata/topup.yaml"

// before every slot of the top-up scenario
const scenarioNow = "2024-01-01T00:00:00Z"

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("SCHEDULER_LOG_FORMAT", "xml")

	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", stdout)
}

func TestAllocateDryRun(t *testing.T) {
	metricsFile := filepath.Join(t.TempDir(), "scheduler.prom")

	stdout, stderr, err := execute(t, "allocate", "--dry-run", "--now", scenarioNow,
		"--metrics-file", metricsFile, topUpScenario)
	require.NoError(t, err)

	assert.Contains(t, stdout, "permanent\tallocated\t")
	assert.Contains(t, stdout, "H323_E164:950000")
	assert.Contains(t, stdout, "lecture\tallocated\t")
	assert.Contains(t, stdout, "seminar\tallocated\t")
	assert.Contains(t, stdout, "overflow\tfailed\n  -")
	for _, id := range []string{"weekly-0", "weekly-1", "weekly-2"} {
		assert.Contains(t, stdout, id+"\tallocated\t")
	}
	assert.Contains(t, stdout, "allocated 6, failed 1\n")
	assert.Contains(t, stderr, `"message":"allocation committed"`)

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `scheduler_allocations_total{outcome="allocated"} 6`)
	assert.Contains(t, string(metrics), `scheduler_allocations_total{outcome="failed"} 1`)
}

func TestAllocateRejectsPastRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "past.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`devices:
  - id: cam
requests:
  - id: early
    start: 2024-01-03T08:00:00Z
    end: 2024-01-03T09:00:00Z
    resource:
      id: cam
`), 0o600))

	stdout, _, err := execute(t, "allocate", "--dry-run", "--now", "2030-01-01T00:00:00Z", path)
	require.NoError(t, err)
	assert.Equal(t, "early\tfailed\n  validation failed: slot: lies in the past\nallocated 0, failed 1\n", stdout)
}

func TestAllocateRejectsBadFlags(t *testing.T) {
	_, _, err := execute(t, "allocate", "--dry-run", "--now", "yesterday", topUpScenario)
	assert.ErrorContains(t, err, "--now")

	_, _, err = execute(t, "allocate", "--dry-run", "--timezone", "Mars/Olympus", topUpScenario)
	assert.ErrorContains(t, err, "--timezone")

	_, _, err = execute(t, "allocate", "--dry-run")
	assert.Error(t, err)

	_, _, err = execute(t, "allocate", "--dry-run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "open scenario")
}

func TestAllocatePersistsAndReleases(t *testing.T) {
	db := filepath.Join(t.TempDir(), "scheduler.db")

	stdout, _, err := execute(t, "--sqlite", db, "allocate", "--now", scenarioNow, topUpScenario)
	require.NoError(t, err)
	assert.Contains(t, stdout, "allocated 6, failed 1\n")

	stdout, _, err = execute(t, "--sqlite", db, "release", "seminar", "overflow")
	require.NoError(t, err)
	assert.Equal(t, "seminar\treleased 1\noverflow\treleased 0\n", stdout)
}

func TestMigrateCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "scheduler.db")

	stdout, _, err := execute(t, "--sqlite", db, "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "schema version: none\n")
	assert.Contains(t, stdout, "pending: 1\n")

	stdout, _, err = execute(t, "--sqlite", db, "migrate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "schema version: 001\n")
	assert.Contains(t, stdout, "applied: 1\n")
	assert.Contains(t, stdout, "pending: 0\n")
}

func TestConfigFileAndInvalidEnvironment(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-file.db")
	configPath := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sqlite_dsn: "+db+"\nlog_format: console\n"), 0o600))

	_, _, err := execute(t, "--config", configPath, "migrate")
	require.NoError(t, err)
	assert.FileExists(t, db)

	t.Setenv("SCHEDULER_COMMIT_ATTEMPTS", "none")
	_, _, err = execute(t, "--config", configPath, "migrate")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
