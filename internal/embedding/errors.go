package embedding

import (
	"errors"
)

// Kind classifies an inference failure.
type Kind string

const (
	// KindPreprocessFailed: the image could not be turned into a valid tensor.
	KindPreprocessFailed Kind = "preprocess_failed"
	// KindDeviceUnavailable: the configured compute device is gone.
	KindDeviceUnavailable Kind = "device_unavailable"
	// KindShapeMismatch: the model output has the wrong length.
	KindShapeMismatch Kind = "shape_mismatch"
	// KindRuntime: the runtime failed the forward pass.
	KindRuntime Kind = "inference_failed"
)

// Sentinels for errors.Is; every *InferenceError matches the one for its Kind.
var (
	ErrPreprocessFailed  = errors.New("preprocessing failed")
	ErrDeviceUnavailable = errors.New("compute device unavailable")
	ErrShapeMismatch     = errors.New("embedding shape mismatch")
	ErrRuntime           = errors.New("inference failed")
)

// InferenceError is returned by Pipeline.Embed.
type InferenceError struct {
	Kind Kind
	Err  error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return e.sentinel().Error() + ": " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *InferenceError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *InferenceError) sentinel() error {
	switch e.Kind {
	case KindPreprocessFailed:
		return ErrPreprocessFailed
	case KindDeviceUnavailable:
		return ErrDeviceUnavailable
	case KindShapeMismatch:
		return ErrShapeMismatch
	default:
		return ErrRuntime
	}
}

func inferenceError(kind Kind, err error) error {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return err
	}
	return &InferenceError{Kind: kind, Err: err}
}
