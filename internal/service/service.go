// Package service turns uploaded image bytes into embeddings. It is the one
// operation every transport (HTTP, CLI, watcher) calls into.
package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/imgembed/internal/contentid"
	"github.com/hyperjump/imgembed/internal/embedding"
	"github.com/hyperjump/imgembed/internal/imaging"
	"github.com/hyperjump/imgembed/internal/metrics"
	"github.com/hyperjump/imgembed/internal/models"
)

// StageDecode is reported to metrics alongside the pipeline stages.
const StageDecode = "decode"

// Result is a successful encode.
type Result struct {
	Vector     embedding.Vector
	Dimensions int
	ModelID    string
	Device     string
	ContentID  string
	Cached     bool
	Duration   time.Duration
}

// Response converts r to its wire form.
func (r *Result) Response(requestID string) *models.EmbeddingResponse {
	return &models.EmbeddingResponse{
		Vector:     r.Vector,
		Dimensions: r.Dimensions,
		Model:      r.ModelID,
		Device:     r.Device,
		ContentID:  r.ContentID,
		Cached:     r.Cached,
		DurationMs: r.Duration.Milliseconds(),
		RequestID:  requestID,
	}
}

// Service decodes and embeds images on a shared model handle.
type Service struct {
	pipeline *embedding.Pipeline
	limits   imaging.Limits
	cache    *embedding.Cache
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLimits bounds accepted input size.
func WithLimits(l imaging.Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithCache enables result caching keyed by content ID.
func WithCache(c *embedding.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMaxConcurrent bounds the number of requests decoding or embedding at
// once. n <= 0 means unbounded.
func WithMaxConcurrent(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		} else {
			s.sem = nil
		}
	}
}

// WithMetrics records request outcomes and decode timings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a service over p.
func New(p *embedding.Pipeline, opts ...Option) *Service {
	s := &Service{
		pipeline: p,
		limits:   imaging.DefaultLimits(),
		tracer:   otel.Tracer("github.com/hyperjump/imgembed/internal/service"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EncodeImage decodes data and returns its embedding. Errors can be mapped
// with Classify; no partial result is ever returned.
func (s *Service) EncodeImage(ctx context.Context, data []byte) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "service.encode")
	defer span.End()
	span.SetAttributes(attribute.Int("image.bytes", len(data)))

	res, err := s.encode(ctx, data)
	kind := Classify(err)
	s.metrics.ObserveRequest(string(kind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		s.logFailure(kind, err)
		return nil, err
	}
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Bool("cache.hit", res.Cached), attribute.String("content_id", res.ContentID))
	return res, nil
}

func (s *Service) encode(ctx context.Context, data []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := s.pipeline.Handle()
	id := contentid.ContentID(data)
	result := func(vec embedding.Vector, cached bool) *Result {
		return &Result{
			Vector:     vec,
			Dimensions: len(vec),
			ModelID:    h.ModelID,
			Device:     h.Device.String(),
			ContentID:  id,
			Cached:     cached,
		}
	}

	if s.cache != nil {
		vec, ok := s.cache.Get(id)
		s.metrics.CacheLookup(ok)
		if ok {
			return result(vec, true), nil
		}
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)
	}
	s.metrics.InflightInc()
	defer s.metrics.InflightDec()

	img, err := s.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	vec, err := s.pipeline.Embed(ctx, img)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, vec)
	return result(vec, false), nil
}

func (s *Service) decode(ctx context.Context, data []byte) (*imaging.RGB, error) {
	_, span := s.tracer.Start(ctx, "imaging.decode")
	defer span.End()
	start := time.Now()

	img, err := imaging.Decode(data, s.limits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	b := img.Bounds()
	span.SetAttributes(attribute.Int("image.width", b.Dx()), attribute.Int("image.height", b.Dy()))
	s.metrics.ObserveStage(StageDecode, time.Since(start).Seconds())
	return img, nil
}

func (s *Service) logFailure(kind ErrorKind, err error) {
	switch {
	case kind == KindCanceled:
		s.logger.Debug("encode abandoned", zap.Error(err))
	case IsClientError(kind):
		s.logger.Debug("rejected image", zap.String("kind", string(kind)), zap.Error(err))
	default:
		s.logger.Error("encode failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Info describes the loaded model.
func (s *Service) Info() models.ModelInfo {
	h := s.pipeline.Handle()
	return models.ModelInfo{
		ID:         h.ModelID,
		Backend:    h.Backend,
		Dimensions: h.Dimensions,
		Device:     h.Device.String(),
		ImageSize:  h.Transform.ImageSize,
		CropSize:   h.Transform.CropSize,
		Mean:       h.Transform.Mean,
		Std:        h.Transform.Std,
		Normalize:  s.pipeline.Normalize(),
	}
}

// Close releases the model handle.
func (s *Service) Close() error {
	if err := s.pipeline.Handle().Close(); err != nil {
		return fmt.Errorf("closing model: %w", err)
	}
	return nil
}
