// Package engineerr defines the abstract error taxonomy the cluster action
// engine converts into (result code, message) pairs at the execute()
// boundary (spec.md §7). Components return these sentinel-wrapped errors;
// the executor never lets any of them escape its own public entry points.
package engineerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching. Concrete messages are built with
// the *f wrappers below, which wrap one of these as the sentinel.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrBusy              = errors.New("resource busy")
	ErrInvalidSpec       = errors.New("invalid profile spec")
	ErrTrustNotFound     = errors.New("trust not found")
	ErrResourceCreation  = errors.New("resource creation failed")
	ErrResourceDeletion  = errors.New("resource deletion failed")
	ErrResourceOperation = errors.New("resource operation failed")
	ErrPolicyCheck       = errors.New("policy check failure")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Busyf wraps ErrBusy with a formatted message.
func Busyf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrBusy}, args...)...)
}

// ResourceOperationf wraps ErrResourceOperation with a formatted message.
// Used by Profile.Recover's RECREATE path per SPEC_FULL.md §4 item 2.
func ResourceOperationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrResourceOperation}, args...)...)
}

// PolicyCheckf wraps ErrPolicyCheck with a formatted message.
func PolicyCheckf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPolicyCheck}, args...)...)
}
