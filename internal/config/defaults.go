package config

import (
	"runtime"
	"time"
)

// Supported encoder backends.
const (
	BackendONNX = "onnx"
	BackendMock = "mock"
)

// ApplyDefaults sets default values for any zero values in cfg.
// Model.ImageSize and Model.CropSize stay zero so that a preprocessor config
// file, when present, decides them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8001
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = 2 * runtime.NumCPU()
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = BackendONNX
	}
	if cfg.Model.ID == "" {
		cfg.Model.ID = "ViT-B/32"
	}
	if cfg.Model.Path == "" {
		cfg.Model.Path = "/usr/local/var/imgembed/models/clip-vit-base-patch32-vision.onnx"
	}
	if cfg.Model.InputName == "" {
		cfg.Model.InputName = "pixel_values"
	}
	if cfg.Model.OutputName == "" {
		cfg.Model.OutputName = "image_embeds"
	}
	if cfg.Model.Dimensions == 0 {
		cfg.Model.Dimensions = 512
	}
	if cfg.Device.Preference == "" {
		cfg.Device.Preference = "auto"
	}
	if cfg.Limits.MaxBytes == 0 {
		cfg.Limits.MaxBytes = 20 << 20
	}
	if cfg.Limits.MaxPixels == 0 {
		cfg.Limits.MaxPixels = 40_000_000
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 256
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "imgembed"
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = "development"
	}
}
