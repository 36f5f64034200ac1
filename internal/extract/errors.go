package extract

import (
	"errors"
	"fmt"
)

// Kind classifies an extraction failure.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindTruncated
	KindUpload
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "transfer timeout"
	case KindTruncated:
		return "truncated read"
	case KindUpload:
		return "upload failed"
	case KindProtocol:
		return "device protocol error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. Every *Error matches the one for its Kind.
var (
	ErrTransferTimeout = errors.New("transfer timeout")
	ErrTruncatedRead   = errors.New("truncated read")
	ErrUpload          = errors.New("upload failed")
	ErrDeviceProtocol  = errors.New("device protocol error")
)

// Error is a failed extraction attempt.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransferTimeout:
		return e.Kind == KindTimeout
	case ErrTruncatedRead:
		return e.Kind == KindTruncated
	case ErrUpload:
		return e.Kind == KindUpload
	case ErrDeviceProtocol:
		return e.Kind == KindProtocol
	}
	return false
}

func failure(kind Kind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}
