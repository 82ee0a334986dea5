package sharding

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LogConfig holds logging configuration options for the sharding package.
// It controls log verbosity, formatting, and output destination.
type LogConfig struct {
	// Level determines the verbosity of logging (0=Error, 1=Info, 2=Debug, 3=Trace)
	Level LogLevel `yaml:"level"`

	// ShowTime controls whether log entries include timestamps
	ShowTime bool `yaml:"show_time"`

	// Format specifies the log format (currently only "text" is supported)
	Format string `yaml:"format,omitempty"`

	// Output determines where logs are written: "stdout", "stderr", or a file path
	Output string `yaml:"output,omitempty"`

	// UseLogrum enables the logrum logger instead of the standard logger
	UseLogrum bool `yaml:"use_logrum"`

	// LogrumOptions contains configuration options specific to logrum
	LogrumOptions LogrumOptions `yaml:"logrum_options"`
}

// LogrumOptions holds configuration options specific to logrum.
type LogrumOptions struct {
	// AppName is the application name to include in log output
	AppName string `yaml:"app_name"`

	// IncludeCaller adds the caller information to log entries
	IncludeCaller bool `yaml:"include_caller"`

	// TimestampFormat defines the format for timestamps
	TimestampFormat string `yaml:"timestamp_format"`
}

// ShardingConfig holds all configuration settings for the sharding package.
type ShardingConfig struct {
	// Logging contains all logging-related configuration
	Logging LogConfig `yaml:"logging"`

	// Rules describes data sources, table rules and algorithms. It is
	// optional; a rule can also be passed to Register directly.
	Rules *RuleConfig `yaml:"rules,omitempty"`
}

// DefaultConfig provides sensible defaults for all settings.
// This is used when no configuration file is provided or when settings are missing.
func DefaultConfig() *ShardingConfig {
	return &ShardingConfig{
		Logging: LogConfig{
			Level:    LogLevelInfo,
			ShowTime: true,
			Format:   "text",
			Output:   "stdout",
			LogrumOptions: LogrumOptions{
				AppName:         "sharding",
				TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			},
		},
	}
}

// globalConfig holds the active configuration instance.
var globalConfig = DefaultConfig()

// configSearchPaths are tried in order when no path is given and
// SHARDING_CONFIG is unset.
func configSearchPaths() []string {
	return []string{
		"sharding.yml",
		"sharding.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "sharding.yml"),
		"/etc/sharding.yml",
	}
}

func findConfigFile() string {
	if path := os.Getenv("SHARDING_CONFIG"); path != "" {
		return path
	}
	for _, p := range configSearchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// LoadConfigFromFile loads configuration from a YAML file and makes it the
// active configuration. With an empty path it looks at SHARDING_CONFIG and
// then the standard locations, keeping the defaults when nothing is found.
// A rules section must build into a valid ShardingRule.
func LoadConfigFromFile(path string) error {
	if path == "" {
		if path = findConfigFile(); path == "" {
			debugLog("no sharding configuration file found, using defaults")
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("config file is empty: %s", path)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	SetConfig(config)
	infoLog("loaded sharding configuration from %s", path)
	return nil
}

// validateConfig ensures the loaded configuration has valid values
func validateConfig(config *ShardingConfig) error {
	if config.Logging.Level < LogLevelError || config.Logging.Level > LogLevelTrace {
		return fmt.Errorf("invalid log level: %d (must be between %d and %d)",
			config.Logging.Level, LogLevelError, LogLevelTrace)
	}

	if config.Logging.Format != "" && config.Logging.Format != "text" {
		return fmt.Errorf("unsupported log format: %s (only 'text' is supported)",
			config.Logging.Format)
	}

	switch config.Logging.Output {
	case "", "stdout", "stderr":
	default:
		dir := filepath.Dir(config.Logging.Output)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("log file directory does not exist: %s", dir)
		}
	}

	if config.Rules != nil {
		if _, err := config.Rules.Build(); err != nil {
			return err
		}
	}
	return nil
}

// GetConfig returns the current configuration.
func GetConfig() *ShardingConfig {
	return globalConfig
}

// SetLogLevel changes the level of the active configuration and of the
// global logger.
func SetLogLevel(level LogLevel) {
	globalConfig.Logging.Level = level
	DefaultLogLevel = level
	GetLogger().SetLevel(level)
}

// SetConfig replaces the active configuration and rebuilds the global
// logger from it.
func SetConfig(config *ShardingConfig) {
	globalConfig = config
	DefaultLogLevel = config.Logging.Level
	SetLogger(newConfiguredLogger(config.Logging))
}

// BuildRule compiles the rules section of the active configuration.
func BuildRule() (*ShardingRule, error) {
	return globalConfig.Rules.Build()
}

// Test helper functions for logging tests
func TestErrorLog(msg string) {
	errorLog("%s", msg)
}

func TestWarnLog(msg string) {
	warnLog("%s", msg)
}

func TestInfoLog(msg string) {
	infoLog("%s", msg)
}

func TestDebugLog(msg string) {
	debugLog("%s", msg)
}

func TestTraceLog(msg string) {
	traceLog("%s", msg)
}
