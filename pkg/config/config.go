// Package config provides configuration loading and validation for the
// qym evaluation runner.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidConcurrency      = errors.New("max concurrency must be positive")
	ErrInvalidTimeout          = errors.New("timeout must be positive")
	ErrInvalidGrace            = errors.New("interrupt grace seconds must be non-negative")
	ErrInvalidCheckpointFormat = errors.New("checkpoint format must be \"csv\"")
	ErrModelConflict           = errors.New("model and models are mutually exclusive")
	ErrInvalidParallelRuns     = errors.New("max parallel runs must be non-negative")
)

// Default configuration values.
const (
	defaultMaxConcurrency = 10
	defaultTimeoutSeconds = 30
	defaultGraceSeconds   = 5
	defaultOutputDir      = "qym_results"
	checkpointFormatCSV   = "csv"
)

// Config holds all configuration for an evaluation run.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RunConfig holds scheduler-facing options.
type RunConfig struct {
	MaxConcurrency        int            `mapstructure:"max_concurrency"`
	TimeoutSeconds        int            `mapstructure:"timeout"`
	InterruptGraceSeconds int            `mapstructure:"interrupt_grace_seconds"`
	RunName               string         `mapstructure:"run_name"`
	Model                 string         `mapstructure:"model"`
	Models                []string       `mapstructure:"models"`
	MaxParallelRuns       int            `mapstructure:"max_parallel_runs"`
	OutputDir             string         `mapstructure:"output_dir"`
	Metadata              map[string]any `mapstructure:"run_metadata"`
}

// CheckpointConfig holds checkpoint engine options.
type CheckpointConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Format        string `mapstructure:"format"`
	FlushEachItem bool   `mapstructure:"flush_each_item"`
	Fsync         bool   `mapstructure:"fsync"`
	ResumeFrom    string `mapstructure:"resume_from"`

	// RerunErrors requests re-execution of errored rows on resume.
	// Unsupported when appending to the same file.
	RerunErrors bool `mapstructure:"rerun_errors"`
}

// PlatformConfig holds remote event stream options. An empty URL
// disables the stream.
type PlatformConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ModelList returns the models to fan out over: the Models list when
// set, else the single Model, else one empty entry meaning "no model".
func (c *Config) ModelList() []string {
	if len(c.Run.Models) > 0 {
		return c.Run.Models
	}

	if c.Run.Model != "" {
		return []string{c.Run.Model}
	}

	return []string{""}
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	// Set defaults.
	setDefaults(viperCfg)

	// Read config file.
	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("qym")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/qym")
	}

	// Read environment variables.
	viperCfg.SetEnvPrefix("QYM")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file.
	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values. Every key gets a
// default, even an empty one: viper only resolves QYM_* environment
// variables during Unmarshal for keys it already knows about.
func setDefaults(viperCfg *viper.Viper) {
	// Run defaults.
	viperCfg.SetDefault("run.max_concurrency", defaultMaxConcurrency)
	viperCfg.SetDefault("run.timeout", defaultTimeoutSeconds)
	viperCfg.SetDefault("run.interrupt_grace_seconds", defaultGraceSeconds)
	viperCfg.SetDefault("run.max_parallel_runs", 0)
	viperCfg.SetDefault("run.output_dir", defaultOutputDir)
	viperCfg.SetDefault("run.run_name", "")
	viperCfg.SetDefault("run.model", "")
	viperCfg.SetDefault("run.models", []string{})
	viperCfg.SetDefault("run.run_metadata", map[string]any{})

	// Checkpoint defaults.
	viperCfg.SetDefault("checkpoint.enabled", true)
	viperCfg.SetDefault("checkpoint.format", checkpointFormatCSV)
	viperCfg.SetDefault("checkpoint.flush_each_item", true)
	viperCfg.SetDefault("checkpoint.fsync", false)
	viperCfg.SetDefault("checkpoint.rerun_errors", false)
	viperCfg.SetDefault("checkpoint.resume_from", "")

	// Platform defaults.
	viperCfg.SetDefault("platform.url", "")
	viperCfg.SetDefault("platform.api_key", "")

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "json")
	viperCfg.SetDefault("logging.output", "stderr")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Run.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, config.Run.MaxConcurrency)
	}

	if config.Run.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, config.Run.TimeoutSeconds)
	}

	if config.Run.InterruptGraceSeconds < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGrace, config.Run.InterruptGraceSeconds)
	}

	if config.Run.MaxParallelRuns < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidParallelRuns, config.Run.MaxParallelRuns)
	}

	if config.Checkpoint.Format != checkpointFormatCSV {
		return fmt.Errorf("%w: got %q", ErrInvalidCheckpointFormat, config.Checkpoint.Format)
	}

	if config.Run.Model != "" && len(config.Run.Models) > 0 {
		return ErrModelConflict
	}

	return nil
}
