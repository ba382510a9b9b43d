// Package apperrors defines the typed error kinds the gateway returns to
// HTTP handlers, and the sanitization applied to driver error messages
// before they leave the process.
package apperrors

import (
	"fmt"
	"regexp"
)

// Kind classifies an error for HTTP status mapping, per the error handling
// design: ClientInput, AuthN, Rate, Validation, Execution, Server.
type Kind string

const (
	KindClientInput Kind = "client_input"
	KindAuthN       Kind = "authn"
	KindForbidden   Kind = "forbidden"
	KindRate        Kind = "rate"
	KindValidation  Kind = "validation"
	KindExecution   Kind = "execution"
	KindServer      Kind = "server"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
)

// GatewayError is the single error type every package in this module
// returns when it wants control over the eventual HTTP response. Plain
// errors (e.g. from a driver) are wrapped with Wrap before leaving a
// package boundary.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// New builds a GatewayError with no wrapped cause.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Newf builds a GatewayError with a formatted message.
func Newf(kind Kind, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and a human message to an underlying error.
func Wrap(kind Kind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: err}
}

// As extracts a *GatewayError from err, if present.
func As(err error) (*GatewayError, bool) {
	ge, ok := err.(*GatewayError)
	return ge, ok
}

var (
	urlUserinfoPattern = regexp.MustCompile(`(?i)(://)[^/@\s:]+(:[^/@\s]*)?@`)
	queryPasswordParam = regexp.MustCompile(`(?i)(password|pwd|user|username)=([^&\s]+)`)
)

// SanitizeDriverMessage strips credentials from a raw driver error message
// before it is returned to a client: userinfo in connection-string-like
// substrings, and password=/user= query parameters.
func SanitizeDriverMessage(msg string) string {
	msg = urlUserinfoPattern.ReplaceAllString(msg, "$1***@")
	msg = queryPasswordParam.ReplaceAllString(msg, "$1=***")

	return msg
}
