// Package resilience provides the error taxonomy and retry helper used at
// every external boundary: scraper APIs, the transcript vendor, the LLM, and
// the relational store.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind string

const (
	// KindTransient covers 5xx, timeouts, and adapter-level JSON parse
	// failures. Safe to retry.
	KindTransient Kind = "transient"
	// KindRateLimited is a 429. Retryable, but triggers longer backoff and
	// batch shrink in the detail fetcher.
	KindRateLimited Kind = "rate_limited"
	// KindNotFound is a 404 on a profile or content lookup.
	KindNotFound Kind = "not_found"
	// KindMalformed is a non-retryable bad response shape.
	KindMalformed Kind = "malformed"
	// KindValidation is a bad request from the caller.
	KindValidation Kind = "validation"
	// KindConflict is a unique-constraint violation on upsert.
	KindConflict Kind = "conflict"
	// KindFatal is store connectivity loss or misconfiguration.
	KindFatal Kind = "fatal"
)

// KindError tags an underlying error with a Kind and an optional HTTP status.
type KindError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *KindError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// Wrap tags err with a kind. Returns nil for a nil err.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// WrapStatus tags err with the kind implied by an HTTP status code.
func WrapStatus(statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: KindForStatus(statusCode), StatusCode: statusCode, Err: err}
}

// KindForStatus maps an HTTP status code onto the taxonomy.
func KindForStatus(statusCode int) Kind {
	switch {
	case statusCode == 429:
		return KindRateLimited
	case statusCode == 404:
		return KindNotFound
	case statusCode == 408 || statusCode >= 500:
		return KindTransient
	case statusCode == 409:
		return KindConflict
	case statusCode >= 400:
		return KindValidation
	default:
		return KindTransient
	}
}

// KindOf extracts the Kind from an error chain. Untagged errors that look
// like network trouble report KindTransient; everything else is KindFatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if isNetworkTransient(err) {
		return KindTransient
	}
	return KindFatal
}

// IsRetryable reports whether the error is worth another attempt:
// transient failures and rate limits.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// IsRateLimited reports whether the chain carries a 429.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsNotFound reports whether the chain carries a 404-style miss.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
