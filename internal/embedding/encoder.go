// Package embedding turns canonical images into embedding vectors.
//
// An Encoder is the model capability: it owns the preprocessing transform the
// model was trained with and runs the forward pass. A Handle binds one Encoder
// to a resolved compute device for the life of the process, and a Pipeline
// runs the per-request steps over that Handle.
package embedding

import (
	"context"
	"image"
)

// Encoder produces embeddings for images. Implementations must be safe for
// concurrent use unless the Handle serializes forward passes.
type Encoder interface {
	// Preprocess applies the model's fixed transform. The returned tensor is
	// owned by the caller and must be released.
	Preprocess(img image.Image) (*Tensor, error)
	// Encode runs one inference-only forward pass and returns the output
	// copied into host memory. It never releases t.
	Encode(ctx context.Context, t *Tensor) ([]float32, error)
	// Dimensions returns the embedding length the model produces.
	Dimensions() int
	Close() error
}

// Vector is an embedding. It is owned by the caller once returned.
type Vector []float32
