// Package importerrors defines the error taxonomy for the import core.
// Each type is fatal unless documented otherwise; see spec.md §7.
package importerrors

import (
	"context"
	"errors"
	"fmt"
)

// ErrCanceled is returned (wrapped) when the cancellation signal was
// observed before the import completed. It is surfaced as the abstract
// cause "Canceled" — never a stack trace.
var ErrCanceled = errors.New("canceled")

// ParseError indicates a corrupt or truncated .hmap stream. It is fatal;
// no partial state is written before it is raised.
type ParseError struct {
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Reason)
}

// ResourceFetchError indicates a tileset resource could not be fetched
// over the network. It is recovered locally by the caller (gray pixels
// substituted); tileresource.Service retains only the first occurrence,
// exposed through its FirstNetworkError method.
type ResourceFetchError struct {
	ResourceName string
	Err          error
}

func (e *ResourceFetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.ResourceName, e.Err)
}

func (e *ResourceFetchError) Unwrap() error { return e.Err }

// IoError indicates a directory create or PNG write failure. Fatal for
// the import; the caller must invoke CleanupService.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error for %q: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// PersistenceError indicates a batch flush, quota update, or marker save
// failure. Marker save failures are counted, not fatal; all others are
// fatal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QuotaExceeded is raised when applying a batch's accumulated MB would
// exceed the tenant's quota. Fatal; triggers cleanup.
type QuotaExceeded struct {
	TenantID    string
	CurrentMB   float64
	RequestedMB float64
	QuotaMB     float64
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("tenant %s: quota %g MB exceeded by request for %g MB (current %g MB)",
		e.TenantID, e.QuotaMB, e.RequestedMB, e.CurrentMB)
}

// AsParseError reports whether err is (or wraps) a *ParseError.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	ok := errors.As(err, &pe)
	return pe, ok
}

// AsQuotaExceeded reports whether err is (or wraps) a *QuotaExceeded.
func AsQuotaExceeded(err error) (*QuotaExceeded, bool) {
	var qe *QuotaExceeded
	ok := errors.As(err, &qe)
	return qe, ok
}

// IsCanceled reports whether err is (or wraps) ErrCanceled or a context
// cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Abstract returns the user-facing, stack-free cause string for an error,
// per §7's "errorMessage carries the abstract cause, not a stack".
func Abstract(err error) string {
	if err == nil {
		return ""
	}
	if IsCanceled(err) {
		return "Canceled"
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "ParseError: " + pe.Reason
	}
	var re *ResourceFetchError
	if errors.As(err, &re) {
		return "ResourceFetchError: " + re.ResourceName
	}
	var ie *IoError
	if errors.As(err, &ie) {
		return "IoError"
	}
	var pse *PersistenceError
	if errors.As(err, &pse) {
		return "PersistenceError: " + pse.Op
	}
	var qe *QuotaExceeded
	if errors.As(err, &qe) {
		return "QuotaExceeded"
	}
	return err.Error()
}
