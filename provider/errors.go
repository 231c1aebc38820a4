package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindQuota        Kind = "quota"
	KindRateLimited  Kind = "rate_limited"
	KindModeration   Kind = "moderation"
	KindInvalidInput Kind = "invalid_input"
	KindTransient    Kind = "transient"
	KindTimeout      Kind = "timeout"
	KindProtocol     Kind = "protocol"
	KindFailed       Kind = "failed"
)

var userMessages = map[Kind]string{
	KindAuth:         "The video provider rejected our credentials. Please contact support.",
	KindQuota:        "The video provider account is out of credits.",
	KindRateLimited:  "The video provider is receiving too many requests. Please try again shortly.",
	KindModeration:   "The content was rejected by the provider's safety filter. Please adjust the prompt or image.",
	KindInvalidInput: "The video provider rejected the request parameters.",
	KindTransient:    "The video provider is temporarily unavailable.",
	KindTimeout:      "Video generation took too long and was stopped.",
	KindProtocol:     "The video provider returned an unexpected response.",
	KindFailed:       "Video generation failed at the provider.",
}

// UserMessage returns the stable, display-ready message for a kind.
func (k Kind) UserMessage() string {
	if m, ok := userMessages[k]; ok {
		return m
	}
	return userMessages[KindFailed]
}

// Error is the normalized failure every adapter returns.
type Error struct {
	Kind       Kind
	Provider   string
	Detail     string
	HTTPStatus int
	// Raw holds the offending payload for protocol errors.
	Raw   string
	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// UserMessage returns the message suitable for showing to an end user.
func (e *Error) UserMessage() string {
	return e.Kind.UserMessage()
}

// NewError builds an Error of the given kind.
func NewError(provider string, kind Kind, detail string) *Error {
	return &Error{Kind: kind, Provider: provider, Detail: detail}
}

// WithCause sets the wrapped cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithHTTPStatus records the HTTP status the provider answered with.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRaw attaches the raw response body, truncated to keep logs readable.
func (e *Error) WithRaw(raw []byte) *Error {
	const maxRaw = 2000
	s := string(raw)
	if len(s) > maxRaw {
		s = s[:maxRaw] + "..."
	}
	e.Raw = s
	return e
}

// KindOf extracts the kind of err. Context errors map to timeout; anything
// outside the taxonomy is a protocol error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProtocol
}

// IsTransient reports whether err should be treated as a missed poll.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// AsError returns err as an *Error, wrapping foreign errors as protocol
// errors attributed to provider.
func AsError(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindOf(err), Provider: provider, Cause: err}
}

// UserMessage returns the display message for any error, falling back to the
// generic failure message outside the taxonomy.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	return KindFailed.UserMessage()
}
