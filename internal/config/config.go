package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level agentpulse configuration.
type Config struct {
	ClaudeHome string  `mapstructure:"claude_home"`
	CodexHome  string  `mapstructure:"codex_home"`
	CursorHome string  `mapstructure:"cursor_home"`
	Timing     Timing  `mapstructure:"timing"`
	Display    Display `mapstructure:"display"`
	Output     Output  `mapstructure:"output"`
	Notify     Notify  `mapstructure:"notify"`
	History    History `mapstructure:"history"`
}

// Timing defines polling intervals and the debounce delays of the status
// timers.
type Timing struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	ToolDoneDelay   time.Duration `mapstructure:"tool_done_delay"`
	PermissionDelay time.Duration `mapstructure:"permission_delay"`
	IdleDelay       time.Duration `mapstructure:"idle_delay"`
}

// Display bounds the text shown in tool status lines.
type Display struct {
	CommandMax     int `mapstructure:"command_max"`
	DescriptionMax int `mapstructure:"description_max"`
}

// Output defines output preferences.
type Output struct {
	Color bool `mapstructure:"color"`
}

// Notify controls desktop notifications.
type Notify struct {
	Enabled   bool          `mapstructure:"enabled"`
	OnWaiting bool          `mapstructure:"on_waiting"`
	MinGap    time.Duration `mapstructure:"min_gap"`
}

// History controls the persisted event log.
type History struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads configuration from the given path (or the default location)
// and returns a Config with all defaults applied.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("claude_home", DefaultClaudeHome)
	v.SetDefault("codex_home", DefaultCodexHome)
	v.SetDefault("cursor_home", DefaultCursorHome)
	v.SetDefault("timing.poll_interval", DefaultTiming.PollInterval)
	v.SetDefault("timing.scan_interval", DefaultTiming.ScanInterval)
	v.SetDefault("timing.tool_done_delay", DefaultTiming.ToolDoneDelay)
	v.SetDefault("timing.permission_delay", DefaultTiming.PermissionDelay)
	v.SetDefault("timing.idle_delay", DefaultTiming.IdleDelay)
	v.SetDefault("display.command_max", DefaultDisplay.CommandMax)
	v.SetDefault("display.description_max", DefaultDisplay.DescriptionMax)
	v.SetDefault("output.color", DefaultOutput.Color)
	v.SetDefault("notify.enabled", DefaultNotify.Enabled)
	v.SetDefault("notify.on_waiting", DefaultNotify.OnWaiting)
	v.SetDefault("notify.min_gap", DefaultNotify.MinGap)
	v.SetDefault("history.enabled", DefaultHistory.Enabled)
	v.SetDefault("history.retention", DefaultHistory.Retention)

	v.SetEnvPrefix("AGENTPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(expandPath(cfgFile))
	} else {
		v.AddConfigPath(expandPath(DefaultConfigDir))
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFile, filepath.Ext(DefaultConfigFile)))
		v.SetConfigType("yaml")
	}

	// Read config file if it exists; missing file is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ClaudeHome = expandPath(cfg.ClaudeHome)
	cfg.CodexHome = expandPath(cfg.CodexHome)
	cfg.CursorHome = expandPath(cfg.CursorHome)

	return &cfg, nil
}

// DBPath returns the full path to the SQLite database.
func DBPath() string {
	return filepath.Join(expandPath(DefaultConfigDir), DefaultDBName)
}

// LogPath returns the full path to the watch daemon's log file.
func LogPath() string {
	return filepath.Join(expandPath(DefaultConfigDir), DefaultLogName)
}

// ConfigDir returns the expanded configuration directory.
func ConfigDir() string {
	return expandPath(DefaultConfigDir)
}
