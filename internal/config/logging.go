package config

import "spamstop/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, text
	Dir        string          `yaml:"dir"`        // category log files and the audit trail
	DebugMode  bool            `yaml:"debug_mode"` // Master toggle - false = no category logs
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
	Audit      bool            `yaml:"audit"`      // send audit trail, independent of debug_mode
}

// Settings converts the YAML section into the logging package's settings.
func (c *LoggingConfig) Settings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		Level:      c.Level,
		JSONFormat: c.Format == "json",
		Audit:      c.Audit,
	}
}

// LogsDir returns the logs directory with ~ expanded.
func (c *LoggingConfig) LogsDir() string {
	return ExpandHome(c.Dir)
}
