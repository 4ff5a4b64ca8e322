package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/imgembed/internal/device"
)

// Backend names accepted by Open.
const (
	BackendONNX = "onnx"
	BackendMock = "mock"
)

// Options configures Open.
type Options struct {
	Backend     string
	ModelID     string
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	Dimensions  int
	Transform   Transform
	Device      device.Device
	DeviceID    int
	// Probe is consulted before every forward pass; nil means the device is
	// assumed to stay available.
	Probe device.Probe
	// Serialize runs forward passes one at a time.
	Serialize bool
}

// Handle is the loaded model shared by every request: the encoder, its
// device and the expected output dimensionality. Its fields are set once by
// Open and never change afterwards; only runMu is touched per request.
type Handle struct {
	Encoder    Encoder
	Backend    string
	ModelID    string
	Device     device.Device
	Dimensions int
	Serialize  bool
	Probe      device.Probe
	Transform  Transform

	runMu     sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Open loads the encoder named by opts.Backend. A failure here means the
// process must not serve requests.
func Open(opts Options) (*Handle, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", opts.Dimensions)
	}
	if err := opts.Transform.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocessing: %w", err)
	}
	if opts.Device == "" {
		opts.Device = device.CPU
	}

	var enc Encoder
	switch opts.Backend {
	case BackendONNX, "":
		onnx, err := NewONNXEncoder(ONNXOptions{
			ModelPath:   opts.ModelPath,
			LibraryPath: opts.LibraryPath,
			InputName:   opts.InputName,
			OutputName:  opts.OutputName,
			Dimensions:  opts.Dimensions,
			Transform:   opts.Transform,
			Device:      opts.Device,
			DeviceID:    opts.DeviceID,
		})
		if err != nil {
			return nil, err
		}
		enc = onnx
	case BackendMock:
		enc = NewMockEncoder(opts.Dimensions, opts.Transform)
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", opts.Backend)
	}
	h, err := NewHandle(enc, opts.ModelID, opts.Device, opts.Probe, opts.Serialize)
	if err != nil {
		enc.Close()
		return nil, err
	}
	h.Backend = opts.Backend
	if h.Backend == "" {
		h.Backend = BackendONNX
	}
	return h, nil
}

// NewHandle wraps an already constructed encoder.
func NewHandle(enc Encoder, modelID string, dev device.Device, probe device.Probe, serialize bool) (*Handle, error) {
	if enc == nil {
		return nil, errors.New("encoder is nil")
	}
	if enc.Dimensions() <= 0 {
		return nil, fmt.Errorf("encoder reports %d dimensions", enc.Dimensions())
	}
	h := &Handle{
		Encoder:    enc,
		ModelID:    modelID,
		Device:     dev,
		Dimensions: enc.Dimensions(),
		Serialize:  serialize,
		Probe:      probe,
	}
	if tp, ok := enc.(interface{ Transform() Transform }); ok {
		h.Transform = tp.Transform()
	}
	return h, nil
}

// deviceAvailable reports whether the configured device can take a pass.
func (h *Handle) deviceAvailable() bool {
	if h.Probe == nil {
		return true
	}
	return device.Available(h.Device, h.Probe)
}

// run executes one forward pass, holding runMu when passes are serialized.
func (h *Handle) run(ctx context.Context, t *Tensor) ([]float32, error) {
	if h.Serialize {
		h.runMu.Lock()
		defer h.runMu.Unlock()
	}
	return h.Encoder.Encode(ctx, t)
}

// Close releases the encoder. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.Encoder.Close()
	})
	return h.closeErr
}
