package embedding

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var liveTensors atomic.Int64

// LiveTensors returns the number of tensors allocated and not yet released.
func LiveTensors() int64 {
	return liveTensors.Load()
}

// Tensor is a dense float32 host buffer in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32

	once sync.Once
}

// NewTensor allocates a zeroed tensor. Every dimension must be positive.
func NewTensor(shape ...int64) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor shape is empty")
	}
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("tensor shape %v has non-positive dimension", shape)
		}
		n *= d
	}
	liveTensors.Add(1)
	return &Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  make([]float32, n),
	}, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Release drops the buffer. Safe to call more than once and on nil.
func (t *Tensor) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.Data = nil
		liveTensors.Add(-1)
	})
}

// checkBatchShape accepts an embedding output of shape [D] or [1, ..., 1, D].
func checkBatchShape(shape []int64) error {
	if len(shape) == 0 {
		return fmt.Errorf("output shape is empty")
	}
	for _, d := range shape[:len(shape)-1] {
		if d != 1 {
			return fmt.Errorf("output shape %v is not a single embedding", shape)
		}
	}
	return nil
}
