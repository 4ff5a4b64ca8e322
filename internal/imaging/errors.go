package imaging

import (
	"errors"
	"fmt"
)

// Kind classifies a decode failure.
type Kind string

const (
	// KindMalformed: the bytes are not a recognizable, intact image.
	KindMalformed Kind = "malformed"
	// KindUnsupported: the bytes look like an image type no decoder handles.
	KindUnsupported Kind = "unsupported"
	// KindTooLarge: the input exceeds the configured byte or pixel bounds.
	KindTooLarge Kind = "too_large"
)

// Sentinels for errors.Is; every *DecodeError matches the one for its Kind.
var (
	ErrMalformed   = errors.New("malformed image")
	ErrUnsupported = errors.New("unsupported image format")
	ErrTooLarge    = errors.New("image too large")
)

// DecodeError is returned by Decode.
type DecodeError struct {
	Kind Kind
	// Format is the sniffed media type, when known.
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := e.sentinel().Error()
	if e.Format != "" {
		msg += " (" + e.Format + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *DecodeError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DecodeError) sentinel() error {
	switch e.Kind {
	case KindUnsupported:
		return ErrUnsupported
	case KindTooLarge:
		return ErrTooLarge
	default:
		return ErrMalformed
	}
}

func malformed(format string, err error) error {
	return &DecodeError{Kind: KindMalformed, Format: format, Err: err}
}

func tooLarge(format string, msg string, args ...any) error {
	return &DecodeError{Kind: KindTooLarge, Format: format, Err: fmt.Errorf(msg, args...)}
}
