// Package apperrors defines the error taxonomy shared by the pipeline.
//
// Handlers never inspect error strings. They match on the types below with
// errors.As and decide between acknowledge, skip and redeliver.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by conditional writes when the stored object
// changed after it was read.
var ErrConflict = errors.New("precondition failed: object changed since read")

// DecodeError reports an inbound envelope that cannot be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a decoded payload that violates the webhook contract.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CredentialError is a rejected OAuth credential (HTTP 401).
type CredentialError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: credentials rejected (status %d)", e.Operation, e.StatusCode)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// UpstreamAPIError is a non-2xx upstream response other than 401 or 404.
type UpstreamAPIError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *UpstreamAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: upstream request failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: upstream returned status %d", e.Operation, e.StatusCode)
}

func (e *UpstreamAPIError) Unwrap() error { return e.Err }

// NotFoundReason qualifies an ActivityNotFoundError.
type NotFoundReason int

const (
	// ReasonGone means the upstream API answered 404.
	ReasonGone NotFoundReason = iota
	// ReasonNotYetSynced means the activity is staged in the warehouse but
	// not merged into the primary table yet.
	ReasonNotYetSynced
	// ReasonNeverAggregated means no warehouse table knows the activity.
	ReasonNeverAggregated
)

func (r NotFoundReason) String() string {
	switch r {
	case ReasonGone:
		return "gone"
	case ReasonNotYetSynced:
		return "not-yet-synced"
	case ReasonNeverAggregated:
		return "never-aggregated"
	default:
		return fmt.Sprintf("NotFoundReason(%d)", int(r))
	}
}

// ActivityNotFoundError reports an activity that could not be located.
type ActivityNotFoundError struct {
	ActivityID int64
	Reason     NotFoundReason
}

func (e *ActivityNotFoundError) Error() string {
	return fmt.Sprintf("activity %d not found (%s)", e.ActivityID, e.Reason)
}

// NotInSummaryError is raised when a delete targets an activity the
// summary document does not contain.
type NotInSummaryError struct {
	ActivityID int64
	Date       string
}

func (e *NotInSummaryError) Error() string {
	return fmt.Sprintf("activity %d not in summary for %s", e.ActivityID, e.Date)
}

// StorageError wraps blob storage failures.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WarehouseError wraps warehouse failures.
type WarehouseError struct {
	Op  string
	Err error
}

func (e *WarehouseError) Error() string {
	return fmt.Sprintf("warehouse %s: %v", e.Op, e.Err)
}

func (e *WarehouseError) Unwrap() error { return e.Err }

// IsPermanent reports whether redelivering the message can never succeed.
func IsPermanent(err error) bool {
	var decodeErr *DecodeError
	var validationErr *ValidationError
	var credentialErr *CredentialError
	return errors.As(err, &decodeErr) ||
		errors.As(err, &validationErr) ||
		errors.As(err, &credentialErr)
}

// AsNotFound extracts an ActivityNotFoundError from the chain.
func AsNotFound(err error) (*ActivityNotFoundError, bool) {
	var nf *ActivityNotFoundError
	if errors.As(err, &nf) {
		return nf, true
	}
	return nil, false
}

// IsRetryable reports whether a bounded in-process retry may help.
// Permanent errors and not-found conditions are never retried.
func IsRetryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if _, ok := AsNotFound(err); ok {
		return false
	}
	var notInSummary *NotInSummaryError
	return !errors.As(err, &notInSummary)
}
