package ports

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures returned by external data sources.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindRateLimited
	KindHTTPStatus
	KindMalformed
	KindUnavailable
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindHTTPStatus:
		return "http_status"
	case KindMalformed:
		return "malformed"
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// SourceError is the error type every adapter returns for I/O failures.
type SourceError struct {
	Source string // "kalshi", "oddsapi", ...
	Kind   ErrorKind
	Status int // HTTP status when Kind is KindHTTPStatus or KindRateLimited
	Err    error
}

func (e *SourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Source, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err. Context deadlines count as timeouts.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsTransient reports whether err means "no data this cycle" rather than a
// broken setup.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindRateLimited, KindHTTPStatus, KindMalformed, KindUnavailable:
		return true
	}
	return false
}
