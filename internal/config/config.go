// Package config provides configuration loading and structs for the imgembed service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Device    DeviceConfig    `yaml:"device"`
	Limits    LimitsConfig    `yaml:"limits"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Watch     WatchConfig     `yaml:"watch"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// ModelConfig describes the vision encoder and its preprocessing.
// ImageSize, CropSize, Mean and Std override the preprocessor config file when set.
type ModelConfig struct {
	Backend            string    `yaml:"backend"`
	ID                 string    `yaml:"id"`
	Path               string    `yaml:"path"`
	PreprocessorConfig string    `yaml:"preprocessor_config"`
	LibraryPath        string    `yaml:"library_path"`
	InputName          string    `yaml:"input_name"`
	OutputName         string    `yaml:"output_name"`
	Dimensions         int       `yaml:"dimensions"`
	ImageSize          int       `yaml:"image_size"`
	CropSize           int       `yaml:"crop_size"`
	Mean               []float32 `yaml:"mean"`
	Std                []float32 `yaml:"std"`
}

// DeviceConfig selects the compute device. Preference is one of auto, cpu, cuda.
type DeviceConfig struct {
	Preference         string `yaml:"preference"`
	DeviceID           int    `yaml:"device_id"`
	SerializeInference *bool  `yaml:"serialize_inference"`
}

// SerializeOrDefault returns whether forward passes run one at a time.
// When unset, passes are serialized only on accelerators.
func (d *DeviceConfig) SerializeOrDefault(accelerator bool) bool {
	if d.SerializeInference != nil {
		return *d.SerializeInference
	}
	return accelerator
}

// LimitsConfig bounds the size of accepted uploads.
type LimitsConfig struct {
	MaxBytes  int64 `yaml:"max_bytes"`
	MaxPixels int64 `yaml:"max_pixels"`
}

// EmbeddingConfig holds output settings. A negative CacheSize disables the cache.
type EmbeddingConfig struct {
	Normalize bool `yaml:"normalize"`
	CacheSize int  `yaml:"cache_size"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the config file at path, expands paths, applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Model.Path = expandPath(cfg.Model.Path, configDir)
	if cfg.Model.PreprocessorConfig != "" {
		cfg.Model.PreprocessorConfig = expandPath(cfg.Model.PreprocessorConfig, configDir)
	}
	if cfg.Model.LibraryPath != "" {
		cfg.Model.LibraryPath = expandPath(cfg.Model.LibraryPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a config with every default applied, for commands that run
// without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("server.max_concurrent must be positive"))
	}
	switch c.Model.Backend {
	case BackendONNX, BackendMock:
	default:
		errs = append(errs, fmt.Errorf("model.backend %q unknown (supported: onnx, mock)", c.Model.Backend))
	}
	if c.Model.Dimensions <= 0 {
		errs = append(errs, errors.New("model.dimensions must be positive"))
	}
	if c.Model.ImageSize < 0 || c.Model.CropSize < 0 {
		errs = append(errs, errors.New("model.image_size and model.crop_size must not be negative"))
	}
	if c.Model.ImageSize > 0 && c.Model.CropSize > c.Model.ImageSize {
		errs = append(errs, fmt.Errorf("model.crop_size %d larger than model.image_size %d", c.Model.CropSize, c.Model.ImageSize))
	}
	if n := len(c.Model.Mean); n != 0 && n != 3 {
		errs = append(errs, fmt.Errorf("model.mean needs 3 values, got %d", n))
	}
	if n := len(c.Model.Std); n != 0 && n != 3 {
		errs = append(errs, fmt.Errorf("model.std needs 3 values, got %d", n))
	}
	for _, s := range c.Model.Std {
		if s == 0 {
			errs = append(errs, errors.New("model.std values must be non-zero"))
			break
		}
	}
	switch strings.ToLower(c.Device.Preference) {
	case "auto", "cpu", "cuda":
	default:
		errs = append(errs, fmt.Errorf("device.preference %q unknown (supported: auto, cpu, cuda)", c.Device.Preference))
	}
	if c.Limits.MaxBytes <= 0 || c.Limits.MaxPixels <= 0 {
		errs = append(errs, errors.New("limits.max_bytes and limits.max_pixels must be positive"))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
