package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/imgembed/internal/config"
	"github.com/hyperjump/imgembed/internal/device"
	"github.com/hyperjump/imgembed/internal/embedding"
	"github.com/hyperjump/imgembed/internal/imaging"
	"github.com/hyperjump/imgembed/internal/metrics"
	"github.com/hyperjump/imgembed/internal/service"
	"github.com/hyperjump/imgembed/internal/tracing"
)

// Components holds the long-lived pieces built from config.
type Components struct {
	Service *service.Service
	Metrics *metrics.Metrics
	Tracing *tracing.Provider
}

// Close releases the model and flushes traces.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if c.Service != nil {
		errs = append(errs, c.Service.Close())
	}
	if c.Tracing != nil {
		errs = append(errs, c.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// buildTransform layers preprocessing settings: CLIP defaults, then the
// preprocessor config file, then explicit config values.
func buildTransform(cfg *config.ModelConfig) (embedding.Transform, error) {
	tr := embedding.DefaultTransform()
	if cfg.PreprocessorConfig != "" {
		loaded, err := embedding.LoadPreprocessorConfig(cfg.PreprocessorConfig)
		if err != nil {
			return embedding.Transform{}, err
		}
		tr = loaded
	}
	if cfg.ImageSize > 0 {
		tr.ImageSize = cfg.ImageSize
	}
	if cfg.CropSize > 0 {
		tr.CropSize = cfg.CropSize
	}
	if len(cfg.Mean) == 3 {
		copy(tr.Mean[:], cfg.Mean)
	}
	if len(cfg.Std) == 3 {
		copy(tr.Std[:], cfg.Std)
	}
	return tr, tr.Validate()
}

// initializeComponents loads the model and wires the encode service. Any
// error means the process must not start.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, probe device.Probe) (*Components, error) {
	pref, err := device.ParsePreference(cfg.Device.Preference)
	if err != nil {
		return nil, err
	}
	dev, err := device.Resolve(pref, probe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device: %w", err)
	}

	transform, err := buildTransform(&cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("invalid preprocessing: %w", err)
	}

	handle, err := embedding.Open(embedding.Options{
		Backend:     cfg.Model.Backend,
		ModelID:     cfg.Model.ID,
		ModelPath:   cfg.Model.Path,
		LibraryPath: cfg.Model.LibraryPath,
		InputName:   cfg.Model.InputName,
		OutputName:  cfg.Model.OutputName,
		Dimensions:  cfg.Model.Dimensions,
		Transform:   transform,
		Device:      dev,
		DeviceID:    cfg.Device.DeviceID,
		Probe:       probe,
		Serialize:   cfg.Device.SerializeOrDefault(dev.Accelerator()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.Model.ID, err)
	}
	logger.Info("model loaded",
		zap.String("model", handle.ModelID),
		zap.String("backend", handle.Backend),
		zap.String("device", handle.Device.String()),
		zap.Int("dimensions", handle.Dimensions),
		zap.Bool("serialize", handle.Serialize))

	tp, err := tracing.New(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	})
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	m := metrics.New(true)
	pipeline := embedding.NewPipeline(handle,
		embedding.WithLogger(logger),
		embedding.WithNormalize(cfg.Embedding.Normalize),
		embedding.WithTracer(tp.Tracer("github.com/hyperjump/imgembed/internal/embedding")),
		embedding.WithStageObserver(m.StageObserver()),
	)
	svc := service.New(pipeline,
		service.WithLimits(imaging.Limits{MaxBytes: cfg.Limits.MaxBytes, MaxPixels: cfg.Limits.MaxPixels}),
		service.WithCache(embedding.NewCache(cfg.Embedding.CacheSize)),
		service.WithMaxConcurrent(int64(cfg.Server.MaxConcurrent)),
		service.WithMetrics(m),
		service.WithTracer(tp.Tracer("github.com/hyperjump/imgembed/internal/service")),
		service.WithLogger(logger),
	)
	return &Components{Service: svc, Metrics: m, Tracing: tp}, nil
}
