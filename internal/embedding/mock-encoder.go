package embedding

import (
	"context"
	"errors"
	"image"
	"math"
	"sync/atomic"
)

// MockEncoder is a deterministic encoder for tests and for running the
// service without a model. Each output element is a fixed projection of the
// preprocessed tensor, so different images get different vectors and the
// same image always gets the same one.
type MockEncoder struct {
	dimensions int
	transform  Transform
	buffers    atomic.Int64
	passes     atomic.Int64
}

// NewMockEncoder returns an encoder that produces vectors of the given dimensions.
func NewMockEncoder(dimensions int, transform Transform) *MockEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEncoder{dimensions: dimensions, transform: transform}
}

// Preprocess applies the configured transform.
func (e *MockEncoder) Preprocess(img image.Image) (*Tensor, error) {
	return e.transform.Apply(img)
}

// Encode projects the tensor onto the output dimensions. It simulates a
// device buffer that lives only for the duration of the call.
func (e *MockEncoder) Encode(ctx context.Context, t *Tensor) ([]float32, error) {
	if t == nil || t.Len() == 0 {
		return nil, errors.New("empty input tensor")
	}
	e.buffers.Add(1)
	defer e.buffers.Add(-1)
	e.passes.Add(1)

	out := make([]float32, e.dimensions)
	counts := make([]int, e.dimensions)
	for j, v := range t.Data {
		i := j % e.dimensions
		out[i] += v * float32(1+j%7)
		counts[i]++
	}
	for i := range out {
		if counts[i] > 0 {
			out[i] /= float32(counts[i])
		}
		out[i] += float32(math.Sin(float64(i+1))) * 0.01
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEncoder) Dimensions() int {
	return e.dimensions
}

// Transform returns the preprocessing the encoder applies.
func (e *MockEncoder) Transform() Transform {
	return e.transform
}

// LiveBuffers returns the number of simulated device buffers currently held.
func (e *MockEncoder) LiveBuffers() int64 {
	return e.buffers.Load()
}

// Passes returns the number of forward passes run so far.
func (e *MockEncoder) Passes() int64 {
	return e.passes.Load()
}

// Close is a no-op for MockEncoder.
func (e *MockEncoder) Close() error {
	return nil
}
