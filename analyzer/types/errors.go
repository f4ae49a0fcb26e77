package types

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind enumerates the closed set of failure categories surfaced by the
// analytics core. Every error crossing a package boundary is either nil or
// wraps an *Error carrying one of these kinds.
type ErrorKind uint8

const (
	// KindTransientUnavailable marks a retryable source failure.
	KindTransientUnavailable ErrorKind = iota
	// KindRateLimited marks source throttling, optionally with a
	// server-suggested retry delay.
	KindRateLimited
	// KindAuthMissing marks an absent credential; the source is skipped.
	KindAuthMissing
	// KindNotSupported marks a capability the source does not implement.
	KindNotSupported
	// KindPermanentSchema marks a response that violates the source contract.
	KindPermanentSchema
	// KindValidation marks invalid caller input.
	KindValidation
	// KindCancelled marks deadline expiry or caller cancellation.
	KindCancelled
	// KindStorageIO marks a snapshot store backend failure.
	KindStorageIO
	// KindInternal marks an invariant violation inside the core.
	KindInternal
)

// String returns human-readable representation of an error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransientUnavailable:
		return "transient_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthMissing:
		return "auth_missing"
	case KindNotSupported:
		return "not_supported"
	case KindPermanentSchema:
		return "permanent_schema"
	case KindValidation:
		return "validation"
	case KindCancelled:
		return "cancelled"
	case KindStorageIO:
		return "storage_io"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// Error is the typed error surfaced by the core. Source identifies the data
// source that produced the failure, when one is involved. RetryAfter carries
// a server-suggested delay for rate-limited responses; zero means none.
type Error struct {
	Kind       ErrorKind
	Source     string
	RetryAfter time.Duration
	err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Source != "" && e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Source, e.err)
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Source)
	}
	return e.Kind.String()
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.err
}

// NewError wraps err with the given kind and source id.
func NewError(kind ErrorKind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind ErrorKind, source, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Source: source, err: errors.Errorf(format, args...)}
}

// RateLimitedError builds a rate-limited error carrying the suggested delay.
func RateLimitedError(source string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Source: source, RetryAfter: retryAfter, err: err}
}

// KindOf extracts the error kind from err, walking the wrap chain. A typed
// error wins over anything it wraps; bare context cancellation maps to
// KindCancelled; everything else reports KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the failure may succeed on a later attempt
// against the same source.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientUnavailable, KindRateLimited:
		return true
	}
	return false
}

// SkipSource reports whether the fallback chain should advance past the
// source without further retries.
func SkipSource(err error) bool {
	switch KindOf(err) {
	case KindAuthMissing, KindNotSupported, KindPermanentSchema:
		return true
	}
	return false
}
