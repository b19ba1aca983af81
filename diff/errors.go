package diff

import (
	"errors"
	"fmt"
)

// ErrUnsupportedHierarchyChange matches every *UnsupportedHierarchyChangeError.
var ErrUnsupportedHierarchyChange = errors.New("diff: unsupported hierarchy change")

// Kinds of unsupported changes.
const (
	KindSuperclassLayout   = "superclass-layout"
	KindConstructorAdded   = "constructor-added"
	KindClassKind          = "class-kind"
	KindHierarchyForbidden = "hierarchy-forbidden"
)

// UnsupportedHierarchyChangeError reports a change that cannot be applied to
// a loaded class. The class is dropped from its batch.
type UnsupportedHierarchyChangeError struct {
	Class   string
	Kind    string
	Member  string // offending member, if any
	Message string
}

func (e *UnsupportedHierarchyChangeError) Error() string {
	msg := fmt.Sprintf("diff: %s: unsupported %s change", e.Class, e.Kind)
	if e.Member != "" {
		msg += " of " + e.Member
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is matches ErrUnsupportedHierarchyChange.
func (e *UnsupportedHierarchyChangeError) Is(target error) bool {
	return target == ErrUnsupportedHierarchyChange
}
