// Package config loads, merges and validates the simtriage configuration
// from one or more YAML files, with SIMTRIAGE_* environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultYieldStressMPa is the default yield stress limit in MPa.
	DefaultYieldStressMPa = 450.0

	// DefaultMaxDisplacementMM is the default displacement limit in mm.
	DefaultMaxDisplacementMM = 2.5

	// DefaultMaxIterations is the default convergence iteration limit.
	DefaultMaxIterations = 40.0

	// DefaultWarningIterationsLower is the lower bound of the iteration
	// warning band.
	DefaultWarningIterationsLower = 20.0

	// DefaultContamination is the default expected anomaly fraction.
	DefaultContamination = 0.25

	// DefaultSeed is the default outlier detector RNG seed.
	DefaultSeed = 42

	// DefaultTrees is the default isolation forest size.
	DefaultTrees = 100

	// DefaultSampleSize is the default per-tree subsample size.
	DefaultSampleSize = 256

	// DefaultMaxFileSize is the default input file size cap.
	DefaultMaxFileSize = "64MB"

	// DefaultResultsDir is the default directory for triage results.
	DefaultResultsDir = "./results"

	// envPrefix is the prefix for environment variable overrides, e.g.
	// SIMTRIAGE_THRESHOLDS_YIELD_STRESS_MPA=500.
	envPrefix = "SIMTRIAGE"
)

// Config is the root configuration for simtriage.
type Config struct {
	Global     GlobalConfig     `yaml:"global" mapstructure:"global"`
	Thresholds ThresholdsConfig `yaml:"thresholds" mapstructure:"thresholds"`
	Detector   DetectorConfig   `yaml:"detector" mapstructure:"detector"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Triage     TriageConfig     `yaml:"triage" mapstructure:"triage"`
	API        *APIConfig       `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ThresholdsConfig contains the engineering limits applied by the rule
// evaluator. Iteration bounds are carried as float64 because raw records
// deliver iteration counts as floating point.
type ThresholdsConfig struct {
	YieldStressMPa         float64 `yaml:"yield_stress_mpa" mapstructure:"yield_stress_mpa"`
	MaxDisplacementMM      float64 `yaml:"max_displacement_mm" mapstructure:"max_displacement_mm"`
	MaxIterations          float64 `yaml:"max_iterations" mapstructure:"max_iterations"`
	WarningIterationsLower float64 `yaml:"warning_iterations_lower" mapstructure:"warning_iterations_lower"`
}

// DetectorConfig contains outlier detector settings.
type DetectorConfig struct {
	Contamination float64 `yaml:"contamination" mapstructure:"contamination"`
	Seed          int64   `yaml:"seed" mapstructure:"seed"`
	Trees         int     `yaml:"trees" mapstructure:"trees"`
	SampleSize    int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// IngestConfig contains input ingestion settings.
type IngestConfig struct {
	MaxFileSize string `yaml:"max_file_size" mapstructure:"max_file_size"`

	maxFileSizeBytes int64
}

// MaxFileSizeBytes returns the parsed max_file_size cap in bytes.
// Validate must have accepted the configuration first.
func (c *IngestConfig) MaxFileSizeBytes() int64 {
	return c.maxFileSizeBytes
}

// TriageConfig contains result persistence settings.
type TriageConfig struct {
	ResultsDir                 string            `yaml:"results_dir" mapstructure:"results_dir"`
	ResultsOwner               string            `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
	GenerateMarkdown           bool              `yaml:"generate_markdown" mapstructure:"generate_markdown"`
	GenerateResultsIndex       bool              `yaml:"generate_results_index" mapstructure:"generate_results_index"`
	GenerateResultsIndexMethod string            `yaml:"generate_results_index_method,omitempty" mapstructure:"generate_results_index_method"`
	Labels                     map[string]string `yaml:"labels,omitempty" mapstructure:"labels"`
	Upload                     *UploadConfig     `yaml:"upload,omitempty" mapstructure:"upload"`
}

// UploadConfig contains remote upload settings for result directories.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings for result uploads.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// Load reads and merges the given configuration files in order (later
// files win on conflicts), applies SIMTRIAGE_* environment overrides and
// fills in defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only affects direct Get calls; pin every known key so
	// Unmarshal sees environment overrides too.
	for _, key := range v.AllKeys() {
		v.Set(key, v.Get(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers a default for every scalar key so environment
// overrides apply even when the key is absent from all config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("thresholds.yield_stress_mpa", DefaultYieldStressMPa)
	v.SetDefault("thresholds.max_displacement_mm", DefaultMaxDisplacementMM)
	v.SetDefault("thresholds.max_iterations", DefaultMaxIterations)
	v.SetDefault("thresholds.warning_iterations_lower", DefaultWarningIterationsLower)
	v.SetDefault("detector.contamination", DefaultContamination)
	v.SetDefault("detector.seed", DefaultSeed)
	v.SetDefault("detector.trees", DefaultTrees)
	v.SetDefault("detector.sample_size", DefaultSampleSize)
	v.SetDefault("ingest.max_file_size", DefaultMaxFileSize)
	v.SetDefault("triage.results_dir", DefaultResultsDir)
}

// applyDefaults fills in defaults for optional sections that exist only
// when configured, which viper defaults cannot express without forcing
// the section into existence.
func (c *Config) applyDefaults() {
	if c.API != nil {
		c.API.applyDefaults()
	}
}

// Validate checks the configuration for errors. Any error here is fatal
// before the first record is processed.
func (c *Config) Validate() error {
	if c.Thresholds.YieldStressMPa <= 0 {
		return fmt.Errorf("thresholds.yield_stress_mpa must be positive, got %g", c.Thresholds.YieldStressMPa)
	}

	if c.Thresholds.MaxDisplacementMM <= 0 {
		return fmt.Errorf("thresholds.max_displacement_mm must be positive, got %g", c.Thresholds.MaxDisplacementMM)
	}

	if c.Thresholds.MaxIterations <= 0 {
		return fmt.Errorf("thresholds.max_iterations must be positive, got %g", c.Thresholds.MaxIterations)
	}

	if c.Thresholds.WarningIterationsLower < 0 {
		return fmt.Errorf("thresholds.warning_iterations_lower must not be negative, got %g", c.Thresholds.WarningIterationsLower)
	}

	if c.Thresholds.WarningIterationsLower > c.Thresholds.MaxIterations {
		return fmt.Errorf(
			"thresholds.warning_iterations_lower (%g) must not exceed thresholds.max_iterations (%g)",
			c.Thresholds.WarningIterationsLower,
			c.Thresholds.MaxIterations,
		)
	}

	if c.Detector.Contamination <= 0 || c.Detector.Contamination >= 1 {
		return fmt.Errorf("detector.contamination must be in (0, 1), got %g", c.Detector.Contamination)
	}

	if c.Detector.Trees < 1 {
		return fmt.Errorf("detector.trees must be at least 1, got %d", c.Detector.Trees)
	}

	if c.Detector.SampleSize < 2 {
		return fmt.Errorf("detector.sample_size must be at least 2, got %d", c.Detector.SampleSize)
	}

	size, err := units.RAMInBytes(c.Ingest.MaxFileSize)
	if err != nil {
		return fmt.Errorf("parsing ingest.max_file_size %q: %w", c.Ingest.MaxFileSize, err)
	}

	if size <= 0 {
		return fmt.Errorf("ingest.max_file_size must be positive, got %q", c.Ingest.MaxFileSize)
	}

	c.Ingest.maxFileSizeBytes = size

	if c.Triage.ResultsDir == "" {
		return fmt.Errorf("triage.results_dir must not be empty")
	}

	switch c.Triage.GenerateResultsIndexMethod {
	case "", "local", "s3":
	default:
		return fmt.Errorf(
			"unsupported triage.generate_results_index_method %q (use \"local\" or \"s3\")",
			c.Triage.GenerateResultsIndexMethod,
		)
	}

	if s3 := c.S3Upload(); s3 != nil && s3.Enabled && s3.Bucket == "" {
		return fmt.Errorf("triage.upload.s3.bucket is required when S3 upload is enabled")
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// S3Upload returns the S3 upload configuration, or nil when none is
// configured.
func (c *Config) S3Upload() *S3UploadConfig {
	if c.Triage.Upload == nil {
		return nil
	}

	return c.Triage.Upload.S3
}
