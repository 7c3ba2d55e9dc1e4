package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesTemplate(t *testing.T) {
	cfg := Default("proj-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "proj-1", cfg.Project.ID)
	assert.Equal(t, 1, cfg.Scheduling.RoughOffsetDays)
	assert.Equal(t, 2, cfg.Scheduling.FinalOffsetDays)
	assert.Equal(t, 1, cfg.Scheduling.DefaultOffsetDays)
	assert.Equal(t, 2, cfg.Optimization.BufferThresholdDays)
	assert.Equal(t, 1, cfg.Optimization.TargetBufferDays)
	assert.Equal(t, 3, cfg.Optimization.MaxStartsPerDay)
	assert.Equal(t, 2, cfg.Conflicts.MaxTasksPerDay)
	assert.Equal(t, 4, cfg.Conflicts.HighSeverityTasksPerDay)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("optimization:\n  buffer_threshold_days: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Optimization.BufferThresholdDays)
	assert.Equal(t, 3, cfg.Optimization.MaxStartsPerDay)
	assert.Equal(t, 2, cfg.Scheduling.FinalOffsetDays)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"negative offset":    "scheduling:\n  rough_offset_days: -1\n",
		"target > threshold": "optimization:\n  target_buffer_days: 3\n",
		"zero starts":        "optimization:\n  max_starts_per_day: 0\n",
		"high below max":     "conflicts:\n  max_tasks_per_day: 5\n",
		"bad level":          "logging:\n  level: chatty\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("site-a")), 0o644))
	t.Setenv("SITEFLOW_MAX_TASKS_PER_DAY", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "site-a", cfg.Project.ID)
	assert.Equal(t, 3, cfg.Conflicts.MaxTasksPerDay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "not found")

	cfg, err := LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Conflicts.MaxTasksPerDay)
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("optimization:\n  max_starts_per_day: 5\n"), 0o644))
	t.Setenv("SITEFLOW_MAX_STARTS_PER_DAY", "9")

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Optimization.MaxStartsPerDay, "FromFile ignores env overrides")
	assert.Equal(t, 2, cfg.Optimization.BufferThresholdDays)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
