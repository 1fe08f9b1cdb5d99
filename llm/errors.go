package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoCredential is returned when the selected provider has no API key.
var ErrNoCredential = errors.New("no credential configured for provider")

// Kind categorizes a failed provider call.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindNetwork   Kind = "network"
	KindProvider  Kind = "provider"
	KindMalformed Kind = "malformed"
)

// Error is a categorized provider failure.
type Error struct {
	Kind       Kind
	Provider   Provider
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Provider, e.Model, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindRateLimit, KindNetwork, KindProvider, KindMalformed:
			return true
		}
	}
	return false
}

// KindOf returns the category of err, or "" when it is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
		return KindProvider
	default:
		// remaining 4xx: request rejected, not retried
		return KindAuth
	}
}

func statusError(p Provider, model string, code int, body string) *Error {
	return &Error{
		Kind:       kindForStatus(code),
		Provider:   p,
		Model:      model,
		StatusCode: code,
		Message:    summarizePayloadSnippet(body),
	}
}

func transportError(p Provider, model string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Kind: KindNetwork, Provider: p, Model: model, Err: err}
}

func malformedError(p Provider, model, msg string) *Error {
	return &Error{Kind: KindMalformed, Provider: p, Model: model, Message: msg}
}
