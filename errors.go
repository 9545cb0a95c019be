package mediasink

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures reported by sink operations.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindInvalidTarget
	KindAlreadyAttached
	KindNoPipelineAttached
	KindInvalidMediaType
	KindPipelineConstructionFailed
	KindStateTransitionFailed
	KindFrameMapFailed
)

// Sentinel errors, one per kind. An *Error matches the sentinel of its kind
// with errors.Is.
var (
	ErrInvalidArgument            = errors.New("invalid argument")
	ErrInvalidTarget              = errors.New("invalid target")
	ErrAlreadyAttached            = errors.New("media sink already attached")
	ErrNoPipelineAttached         = errors.New("no pipeline attached")
	ErrInvalidMediaType           = errors.New("invalid media type")
	ErrPipelineConstructionFailed = errors.New("failed to construct pipeline")
	ErrStateTransitionFailed      = errors.New("failed to set pipeline state")
	ErrFrameMapFailed             = errors.New("failed to map video frame")
)

// ErrNotSupported is returned when an optional operation is not supported.
var ErrNotSupported = errors.New("operation not supported")

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidTarget:
		return "InvalidTarget"
	case KindAlreadyAttached:
		return "AlreadyAttached"
	case KindNoPipelineAttached:
		return "NoPipelineAttached"
	case KindInvalidMediaType:
		return "InvalidMediaType"
	case KindPipelineConstructionFailed:
		return "PipelineConstructionFailed"
	case KindStateTransitionFailed:
		return "StateTransitionFailed"
	case KindFrameMapFailed:
		return "FrameMapFailed"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindInvalidTarget:
		return ErrInvalidTarget
	case KindAlreadyAttached:
		return ErrAlreadyAttached
	case KindNoPipelineAttached:
		return ErrNoPipelineAttached
	case KindInvalidMediaType:
		return ErrInvalidMediaType
	case KindPipelineConstructionFailed:
		return ErrPipelineConstructionFailed
	case KindStateTransitionFailed:
		return ErrStateTransitionFailed
	case KindFrameMapFailed:
		return ErrFrameMapFailed
	default:
		return nil
	}
}

// Error is the error type returned by sink and subsystem operations.
type Error struct {
	Op   string    // Operation that failed ("attach", "play", ...)
	Kind ErrorKind // Failure class
	Err  error     // Underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	if s := e.Kind.sentinel(); s != nil {
		return e.Op + ": " + s.Error()
	}
	return e.Op + ": unknown error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(op string, kind ErrorKind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

func errorf(op string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}
