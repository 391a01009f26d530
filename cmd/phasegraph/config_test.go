package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/pkg/schema"
)

func TestLoadConfig_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := loadConfig()
	assert.Equal(t, filepath.Join(home, ".phasegraph", "phasegraph.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "@hourly", cfg.PruneSchedule)
	assert.Equal(t, 50, cfg.LayoutRetention)
	assert.Equal(t, layout.DefaultConfig(), cfg.layout())
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".phasegraph"), 0o700))
	require.NoError(t, os.WriteFile(settingsPath(), []byte(`{
		"log_level": "debug",
		"vacuum_schedule": "",
		"node_width": 200,
		"rank_sep": 0
	}`), 0o644))

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Empty(t, cfg.VacuumSchedule)
	assert.Equal(t, "text", cfg.LogFormat)

	lc := cfg.layout()
	assert.Equal(t, 200.0, lc.NodeSize.Width)
	assert.Equal(t, 88.0, lc.NodeSize.Height)
	assert.Equal(t, 0.0, lc.RankSep)
}

func TestLoadConfig_EnvOverridesSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".phasegraph"), 0o700))
	require.NoError(t, os.WriteFile(settingsPath(), []byte(`{"log_level": "debug", "db_path": "/tmp/a.db"}`), 0o644))

	t.Setenv("PHASEGRAPH_LOG_LEVEL", "warn")
	t.Setenv("PHASEGRAPH_LOG_FORMAT", "json")
	t.Setenv("PHASEGRAPH_LAYOUT_RETENTION", "7")
	t.Setenv("PHASEGRAPH_NODE_HEIGHT", "64.5")
	t.Setenv("PHASEGRAPH_NODE_SEP", "not-a-number")

	cfg := loadConfig()
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/a.db", cfg.DBPath)
	assert.Equal(t, "file:/tmp/a.db", cfg.dsn())
	assert.Equal(t, 7, cfg.LayoutRetention)
	assert.Equal(t, 64.5, cfg.NodeHeight)
	assert.Equal(t, layout.DefaultConfig().NodeSep, cfg.NodeSep)

	sc := cfg.scheduler()
	assert.Equal(t, 7, sc.LayoutRetention)
	assert.Equal(t, "@hourly", sc.PruneSchedule)
}

func TestPrintIssues(t *testing.T) {
	result := &schema.ValidationResult{}
	result.AddError(schema.PhasePath("2", "depends_on"), schema.WarnDanglingDependency, `depends on unknown phase template "x"`)
	result.AddWarning(schema.PhasePath("3", "loop_config.loop_to_phase"), schema.WarnForwardLoop, "loop target is not earlier")

	var buf bytes.Buffer
	printIssues(&buf, result)
	assert.Equal(t,
		"error    phases[2].depends_on: [DANGLING_DEPENDENCY] depends on unknown phase template \"x\"\n"+
			"warning  phases[3].loop_config.loop_to_phase: [FORWARD_LOOP] loop target is not earlier\n",
		buf.String())
}
