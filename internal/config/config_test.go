package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
  request_timeout: 5s
model:
  path: "/models/clip.onnx"
  dimensions: 768
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout: got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Model.Path != "/models/clip.onnx" || cfg.Model.Dimensions != 768 {
		t.Errorf("unexpected model config: %+v", cfg.Model)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConcurrent <= 0 {
		t.Errorf("default max_concurrent: got %d", cfg.Server.MaxConcurrent)
	}
	if cfg.Model.Backend != BackendONNX || cfg.Model.Dimensions != 512 {
		t.Errorf("default model: %+v", cfg.Model)
	}
	if cfg.Model.ImageSize != 0 || cfg.Model.CropSize != 0 {
		t.Error("image_size and crop_size should stay unset for the preprocessor config")
	}
	if cfg.Device.Preference != "auto" {
		t.Errorf("default device preference: %q", cfg.Device.Preference)
	}
	if cfg.Limits.MaxBytes != 20<<20 || cfg.Limits.MaxPixels != 40_000_000 {
		t.Errorf("default limits: %+v", cfg.Limits)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("default cors origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
model:
  path: "./models/vision.onnx"
  preprocessor_config: "./models/preprocessor_config.json"
watch:
  directories: ["./incoming"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "models", "vision.onnx"); cfg.Model.Path != want {
		t.Errorf("model path: got %q, want %q", cfg.Model.Path, want)
	}
	if want := filepath.Join(dir, "models", "preprocessor_config.json"); cfg.Model.PreprocessorConfig != want {
		t.Errorf("preprocessor path: got %q, want %q", cfg.Model.PreprocessorConfig, want)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "incoming") {
		t.Errorf("watch directories: %v", cfg.Watch.Directories)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown backend", "model:\n  backend: torch\n", "model.backend"},
		{"unknown device", "device:\n  preference: tpu\n", "device.preference"},
		{"short mean", "model:\n  mean: [0.5, 0.5]\n", "model.mean"},
		{"zero std", "model:\n  std: [0.5, 0, 0.5]\n", "model.std"},
		{"crop larger than size", "model:\n  image_size: 224\n  crop_size: 256\n", "crop_size"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDeviceConfig_SerializeOrDefault(t *testing.T) {
	var d DeviceConfig
	if d.SerializeOrDefault(false) {
		t.Error("cpu should not serialize by default")
	}
	if !d.SerializeOrDefault(true) {
		t.Error("accelerator should serialize by default")
	}
	f := false
	d.SerializeInference = &f
	if d.SerializeOrDefault(true) {
		t.Error("explicit false should win")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
