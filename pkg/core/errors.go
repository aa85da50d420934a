package core

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrReadOnly         = errors.New("engine is in read-only mode")
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("record already exists")
	ErrOwnerResolution  = errors.New("owner resolution failed")
	ErrTransient        = errors.New("transient network failure")
	ErrOffline          = errors.New("backend unreachable")
	ErrTimeout          = errors.New("backend call timed out")
	ErrSyncStart        = errors.New("sync start failed")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

// IsTransient reports whether err is a network-class failure that leaves
// local state untouched and may succeed on a later attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrOffline) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Result is the outcome of a gateway operation. It never panics and is safe
// to hand to a presentation layer as is.
type Result[T any] struct {
	Value   T
	Skipped bool
	Err     error
}

// OK reports whether the operation succeeded or was a legitimate no-op.
func (r Result[T]) OK() bool { return r.Err == nil }

// Reason returns a human-readable explanation of the outcome.
func (r Result[T]) Reason() string {
	switch {
	case r.Err != nil:
		return describe(r.Err)
	case r.Skipped:
		return "nothing to do"
	default:
		return "ok"
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "the note no longer exists"
	case errors.Is(err, ErrOwnerResolution):
		return "could not resolve the note owner: " + err.Error()
	case errors.Is(err, ErrReadOnly):
		return "changes are disabled in read-only mode"
	case IsTransient(err):
		return "the server could not be reached, try again when online"
	default:
		return err.Error()
	}
}

// Succeeded wraps a value in a successful Result.
func Succeeded[T any](v T) Result[T] { return Result[T]{Value: v} }

// Skipped returns a no-op Result.
func Skipped[T any]() Result[T] { return Result[T]{Skipped: true} }

// Failed wraps err in a failed Result.
func Failed[T any](err error) Result[T] { return Result[T]{Err: err} }
