package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/imgembed/internal/imaging"
	"github.com/hyperjump/imgembed/pkg/utils"
)

// Pipeline stage names, used for spans and stage timings.
const (
	StagePreprocess = "preprocess"
	StageForward    = "forward"
	StageExtract    = "extract"
)

// Pipeline runs preprocess, device check, forward pass and extraction for
// one image at a time over a shared Handle. It holds no per-request state.
type Pipeline struct {
	handle    *Handle
	normalize bool
	logger    *zap.Logger
	tracer    trace.Tracer
	observe   func(stage string, d time.Duration)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger. Shape mismatches are logged at error level.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithNormalize scales every output vector to unit L2 norm.
func WithNormalize(normalize bool) PipelineOption {
	return func(p *Pipeline) { p.normalize = normalize }
}

// WithTracer sets the tracer used for per-stage spans.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// WithStageObserver receives the duration of every completed stage.
func WithStageObserver(fn func(stage string, d time.Duration)) PipelineOption {
	return func(p *Pipeline) { p.observe = fn }
}

// NewPipeline creates a pipeline over h.
func NewPipeline(h *Handle, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		handle: h,
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/hyperjump/imgembed/internal/embedding"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalize reports whether outputs are scaled to unit length.
func (p *Pipeline) Normalize() bool {
	return p.normalize
}

// Handle returns the model handle the pipeline runs on.
func (p *Pipeline) Handle() *Handle {
	return p.handle
}

// Embed returns the embedding of img. The result has exactly
// Handle().Dimensions elements. Every tensor allocated for the call is
// released before Embed returns, except when ctx ends during the forward
// pass: the pass then finishes in the background, releases its tensor and
// its result is discarded.
func (p *Pipeline) Embed(ctx context.Context, img *imaging.RGB) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensor, err := p.preprocess(ctx, img)
	if err != nil {
		return nil, err
	}

	if !p.handle.deviceAvailable() {
		tensor.Release()
		return nil, inferenceError(KindDeviceUnavailable, fmt.Errorf("device %s is not present", p.handle.Device))
	}

	out, err := p.forward(ctx, tensor)
	if err != nil {
		return nil, err
	}
	return p.extract(ctx, out)
}

func (p *Pipeline) preprocess(ctx context.Context, img *imaging.RGB) (*Tensor, error) {
	_, span := p.tracer.Start(ctx, "embedding.preprocess")
	defer span.End()
	start := time.Now()

	if img == nil {
		err := inferenceError(KindPreprocessFailed, errors.New("nil image"))
		recordError(span, err)
		return nil, err
	}
	b := img.Bounds()
	span.SetAttributes(attribute.Int("image.width", b.Dx()), attribute.Int("image.height", b.Dy()))

	tensor, err := p.handle.Encoder.Preprocess(img)
	if err == nil {
		err = checkTensor(tensor)
	}
	if err != nil {
		tensor.Release()
		err = inferenceError(KindPreprocessFailed, err)
		recordError(span, err)
		return nil, err
	}
	p.stageDone(StagePreprocess, start)
	return tensor, nil
}

func checkTensor(t *Tensor) error {
	switch {
	case t == nil:
		return errors.New("encoder returned no tensor")
	case t.Len() == 0:
		return errors.New("tensor is empty")
	case !utils.AllFinite(t.Data):
		return errors.New("tensor contains non-finite values")
	}
	return nil
}

type forwardResult struct {
	out []float32
	err error
}

// forward owns t: it is released when the pass completes, whether or not
// anyone is still waiting for the result.
func (p *Pipeline) forward(ctx context.Context, t *Tensor) ([]float32, error) {
	ctx, span := p.tracer.Start(ctx, "embedding.forward")
	defer span.End()
	span.SetAttributes(attribute.String("device", p.handle.Device.String()))
	start := time.Now()

	done := make(chan forwardResult, 1)
	go func() {
		defer t.Release()
		out, err := p.handle.run(context.WithoutCancel(ctx), t)
		done <- forwardResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.err != nil {
			err := inferenceError(KindRuntime, r.err)
			recordError(span, err)
			return nil, err
		}
		p.stageDone(StageForward, start)
		return r.out, nil
	case <-ctx.Done():
		p.logger.Debug("request ended during forward pass, result will be discarded", zap.Error(ctx.Err()))
		span.SetStatus(codes.Error, "canceled")
		return nil, ctx.Err()
	}
}

func (p *Pipeline) extract(ctx context.Context, out []float32) (Vector, error) {
	_, span := p.tracer.Start(ctx, "embedding.extract")
	defer span.End()
	start := time.Now()

	if len(out) != p.handle.Dimensions {
		err := inferenceError(KindShapeMismatch,
			fmt.Errorf("model %q returned %d values, expected %d", p.handle.ModelID, len(out), p.handle.Dimensions))
		p.logger.Error("embedding shape mismatch, check model configuration",
			zap.String("model", p.handle.ModelID),
			zap.Int("got", len(out)),
			zap.Int("want", p.handle.Dimensions))
		recordError(span, err)
		return nil, err
	}
	if !utils.AllFinite(out) {
		err := inferenceError(KindRuntime,
			fmt.Errorf("model %q returned non-finite values", p.handle.ModelID))
		p.logger.Error("embedding contains NaN or Inf",
			zap.String("model", p.handle.ModelID),
			zap.String("device", p.handle.Device.String()))
		recordError(span, err)
		return nil, err
	}
	vec := make(Vector, len(out))
	copy(vec, out)
	if p.normalize {
		utils.NormalizeL2(vec)
	}
	p.stageDone(StageExtract, start)
	return vec, nil
}

func (p *Pipeline) stageDone(stage string, start time.Time) {
	if p.observe != nil {
		p.observe(stage, time.Since(start))
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
