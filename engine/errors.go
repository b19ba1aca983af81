package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/skdltmxn/hotswap-go/host"
)

var (
	// ErrBatchFailed matches every *BatchError.
	ErrBatchFailed = errors.New("engine: batch failed")

	// ErrUnknownClass indicates a queued class the engine has not seen
	// loaded.
	ErrUnknownClass = errors.New("engine: class not loaded")

	// ErrNotReplaceable indicates a class the environment refuses to
	// replace.
	ErrNotReplaceable = errors.New("engine: class not replaceable")
)

// Failure kinds. Hierarchy failures use the kinds of the diff package.
const (
	KindUnknownClass   = "unknown-class"
	KindNotReplaceable = "not-replaceable"
	KindTransformer    = "transformer"
	KindMalformed      = "malformed"
	KindRewrite        = "rewrite"
	KindFixup          = "dispatch-fixup"
	KindHost           = "host"
)

// ClassFailure reports a class dropped from its batch. The rest of the
// batch proceeds.
type ClassFailure struct {
	Class  host.ClassID
	Kind   string
	Member string // offending member, if any
	Err    error
}

func (f *ClassFailure) Error() string {
	msg := fmt.Sprintf("engine: %s dropped (%s)", f.Class, f.Kind)
	if f.Member != "" {
		msg += " at " + f.Member
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *ClassFailure) Unwrap() error { return f.Err }

// BatchError reports a failure that aborted the whole batch. Nothing of
// the batch was installed.
type BatchError struct {
	Batch uuid.UUID
	Kind  string
	Class string // class being processed, if any
	Err   error
}

func (e *BatchError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("engine: batch %s failed (%s) at %s: %v", e.Batch, e.Kind, e.Class, e.Err)
	}
	return fmt.Sprintf("engine: batch %s failed (%s): %v", e.Batch, e.Kind, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Is matches ErrBatchFailed.
func (e *BatchError) Is(target error) bool { return target == ErrBatchFailed }
