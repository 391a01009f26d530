package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rendis/phasegraph/internal/canvas"
	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/internal/scheduler"
)

// Config holds all phasegraph configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string  `json:"db_path"`
	LogLevel        string  `json:"log_level"`
	LogFormat       string  `json:"log_format"`
	VacuumSchedule  string  `json:"vacuum_schedule"`
	PruneSchedule   string  `json:"prune_schedule"`
	LayoutRetention int     `json:"layout_retention"`
	NodeWidth       float64 `json:"node_width"`
	NodeHeight      float64 `json:"node_height"`
	RankSep         float64 `json:"rank_sep"`
	NodeSep         float64 `json:"node_sep"`
}

func defaultConfig() Config {
	d := layout.DefaultConfig()
	return Config{
		DBPath:          filepath.Join(phasegraphDir(), "phasegraph.db"),
		LogLevel:        "info",
		LogFormat:       "text",
		VacuumSchedule:  "0 4 * * 0",
		PruneSchedule:   "@hourly",
		LayoutRetention: 50,
		NodeWidth:       d.NodeSize.Width,
		NodeHeight:      d.NodeSize.Height,
		RankSep:         d.RankSep,
		NodeSep:         d.NodeSep,
	}
}

func phasegraphDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".phasegraph"
	}
	return filepath.Join(home, ".phasegraph")
}

func settingsPath() string {
	return filepath.Join(phasegraphDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	envString("PHASEGRAPH_DB_PATH", &cfg.DBPath)
	envString("PHASEGRAPH_LOG_LEVEL", &cfg.LogLevel)
	envString("PHASEGRAPH_LOG_FORMAT", &cfg.LogFormat)
	envString("PHASEGRAPH_VACUUM_SCHEDULE", &cfg.VacuumSchedule)
	envString("PHASEGRAPH_PRUNE_SCHEDULE", &cfg.PruneSchedule)
	if v := os.Getenv("PHASEGRAPH_LAYOUT_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LayoutRetention = n
		}
	}
	envFloat("PHASEGRAPH_NODE_WIDTH", &cfg.NodeWidth)
	envFloat("PHASEGRAPH_NODE_HEIGHT", &cfg.NodeHeight)
	envFloat("PHASEGRAPH_RANK_SEP", &cfg.RankSep)
	envFloat("PHASEGRAPH_NODE_SEP", &cfg.NodeSep)

	return cfg
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// dsn is the libSQL connection string for DBPath.
func (c Config) dsn() string {
	return "file:" + c.DBPath
}

// layout returns the node geometry and spacing. Non-positive sizes and
// negative gaps fall back to the layout defaults.
func (c Config) layout() layout.Config {
	cfg := layout.DefaultConfig()
	cfg.NodeSize = layout.Size{Width: c.NodeWidth, Height: c.NodeHeight}
	cfg.RankSep = c.RankSep
	cfg.NodeSep = c.NodeSep
	return cfg.Normalized()
}

func (c Config) canvas() canvas.Config {
	return canvas.Config{Layout: c.layout()}
}

func (c Config) scheduler() scheduler.Config {
	return scheduler.Config{
		VacuumSchedule:  c.VacuumSchedule,
		PruneSchedule:   c.PruneSchedule,
		LayoutRetention: c.LayoutRetention,
	}
}
