package fixup

import (
	"errors"
	"fmt"
)

// ErrDispatchFixup matches every *DispatchFixupError.
var ErrDispatchFixup = errors.New("fixup: dispatch fixup failed")

// Kinds of fixup failures.
const (
	KindDispatch       = "dispatch"
	KindExceptionTable = "exception-table"
	KindStackMap       = "stack-map"
	KindAssemble       = "assemble"
)

// DispatchFixupError reports a class whose dispatch or code tables could
// not be reconciled. It fails the whole batch.
type DispatchFixupError struct {
	Class   string
	Member  string
	Kind    string
	Message string
	Err     error
}

func (e *DispatchFixupError) Error() string {
	msg := "fixup: "
	if e.Class != "" {
		msg += e.Class
		if e.Member != "" {
			msg += "." + e.Member
		}
		msg += ": "
	}
	msg += e.Kind
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *DispatchFixupError) Unwrap() error { return e.Err }

// Is matches ErrDispatchFixup.
func (e *DispatchFixupError) Is(target error) bool { return target == ErrDispatchFixup }
