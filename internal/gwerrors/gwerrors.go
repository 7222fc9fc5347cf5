// Package gwerrors implements the gateway's error-kind taxonomy. A failure
// reaching the orchestrator is either the caller's fault (an invalid tool
// configuration, a malformed request — never retried) or the upstream
// provider's (a 5xx, a 429, a transport failure — retried per the variant's
// retry policy), and every kind carries the deepest raw request/response
// strings available so observability never loses them.
package gwerrors

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind discriminates the error taxonomy used across the orchestrator.
type Kind int

const (
	KindUnknown Kind = iota
	KindInferenceClient
	KindInferenceServer
	KindInvalidTool
	KindRateLimit
)

// Sentinel errors, usable with errors.Is against any *Error of the matching
// Kind regardless of the wrapped cause.
var (
	ErrInferenceClient = errors.New("inference client error")
	ErrInferenceServer = errors.New("inference server error")
	ErrInvalidTool     = errors.New("invalid tool")
	ErrRateLimit       = errors.New("rate limit exceeded")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindInferenceClient:
		return ErrInferenceClient
	case KindInferenceServer:
		return ErrInferenceServer
	case KindInvalidTool:
		return ErrInvalidTool
	case KindRateLimit:
		return ErrRateLimit
	default:
		return errors.New("gateway error")
	}
}

// Error is the gateway's wrapped error shape: a Kind plus the raw wire
// strings available at the point of failure. It wraps its sentinel and its
// cause with plain fmt.Errorf("%w: %w", ...), so errors.Is against either
// the sentinel or the original cause, and errors.As against *Error itself,
// all work without a bespoke error-chain library.
type Error struct {
	Kind        Kind
	RawRequest  string
	RawResponse string
	wrapped     error
}

func (e *Error) Error() string { return e.wrapped.Error() }

func (e *Error) Unwrap() error { return e.wrapped }

func newError(kind Kind, rawRequest, rawResponse string, err error) *Error {
	sentinel := sentinelFor(kind)
	wrapped := sentinel
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &Error{Kind: kind, RawRequest: rawRequest, RawResponse: rawResponse, wrapped: wrapped}
}

// Client wraps err as a client-class inference failure (an HTTP 4xx from the
// provider, excluding 429): not retried by a variant's retry policy.
func Client(rawRequest, rawResponse string, err error) *Error {
	return newError(KindInferenceClient, rawRequest, rawResponse, err)
}

// Server wraps err as a server-class inference failure (HTTP 5xx, 429, or a
// transport-level failure): retried per the variant's retry policy.
func Server(rawRequest, rawResponse string, err error) *Error {
	return newError(KindInferenceServer, rawRequest, rawResponse, err)
}

// InvalidTool wraps err as a tool-configuration failure that must be
// surfaced before any provider dispatch happens, e.g. tool-use in streaming
// mode against a provider that cannot stream tool calls.
func InvalidTool(rawRequest string, err error) *Error {
	return newError(KindInvalidTool, rawRequest, "", err)
}

// RateLimit wraps err as a rate-limit failure.
func RateLimit(rawRequest string, err error) *Error {
	return newError(KindRateLimit, rawRequest, "", err)
}

var statusInText = regexp.MustCompile(`\((\d{3})\)`)

// ClassifyProviderError inspects a provider error for an HTTP status code
// embedded in its message text (the providers wrap it as "... (%d): ..."
// rather than a structured field) and wraps it as Client or Server
// accordingly. 429 counts as server-class: it is the one case where a 4xx
// is still retried. Errors with no recognizable status code — network
// failures, timeouts — default to Server, since those are exactly the
// transient cases the retry policy exists for. An err already classified is
// returned unchanged.
func ClassifyProviderError(rawRequest, rawResponse string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	m := statusInText.FindStringSubmatch(err.Error())
	if m == nil {
		return Server(rawRequest, rawResponse, err)
	}
	code := 0
	for _, c := range m[1] {
		code = code*10 + int(c-'0')
	}
	if code >= 400 && code < 500 && code != 429 {
		return Client(rawRequest, rawResponse, err)
	}
	return Server(rawRequest, rawResponse, err)
}

// Retryable reports whether err should be retried by a variant's retry
// policy. Errors not classified through this package (e.g. test stubs)
// default to retryable, preserving the prior uniform-retry behavior for
// callers that never wrap through gwerrors.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind != KindInferenceClient
	}
	return true
}
