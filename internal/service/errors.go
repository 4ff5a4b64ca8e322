package service

import (
	"context"
	"errors"

	"github.com/hyperjump/imgembed/internal/embedding"
	"github.com/hyperjump/imgembed/internal/imaging"
)

// ErrorKind is the transport-neutral outcome of an encode request.
type ErrorKind string

const (
	KindOK                ErrorKind = "ok"
	KindMalformed         ErrorKind = "malformed"
	KindUnsupported       ErrorKind = "unsupported"
	KindTooLarge          ErrorKind = "too_large"
	KindPreprocessFailed  ErrorKind = "preprocess_failed"
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindShapeMismatch     ErrorKind = "shape_mismatch"
	KindInferenceFailed   ErrorKind = "inference_failed"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal"
)

// Classify maps an error returned by EncodeImage to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, imaging.ErrMalformed):
		return KindMalformed
	case errors.Is(err, imaging.ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, imaging.ErrTooLarge):
		return KindTooLarge
	case errors.Is(err, embedding.ErrPreprocessFailed):
		return KindPreprocessFailed
	case errors.Is(err, embedding.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, embedding.ErrShapeMismatch):
		return KindShapeMismatch
	case errors.Is(err, embedding.ErrRuntime):
		return KindInferenceFailed
	default:
		return KindInternal
	}
}

// IsClientError reports whether the request itself was at fault.
func IsClientError(kind ErrorKind) bool {
	switch kind {
	case KindMalformed, KindUnsupported, KindTooLarge, KindPreprocessFailed:
		return true
	}
	return false
}
