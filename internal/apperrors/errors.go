// Package apperrors defines the error taxonomy shared across the gateway.
// Errors are a sum type (code + message + context) rather than an
// inheritance tree; helper constructors cover the common cases.
package apperrors

import (
	"errors"
	"fmt"
)

// Code enumerates the error categories used across the surface.
type Code string

const (
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeLLM                Code = "LLM_ERROR"
	CodeTool               Code = "TOOL_ERROR"
	CodeInvalidParameters  Code = "INVALID_PARAMETERS"
	CodeToolNotFound       Code = "TOOL_NOT_FOUND"
	CodeWebSocket          Code = "WEBSOCKET_ERROR"
	CodeConversation       Code = "CONVERSATION_ERROR"
	CodeSession            Code = "SESSION_ERROR"
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnknown            Code = "UNKNOWN_ERROR"
)

// statusFor maps each code to its HTTP status analog. The status drives
// severity classification (>=500 error, 400-499 warn).
var statusFor = map[Code]int{
	CodeConfiguration:      500,
	CodeLLM:                502,
	CodeTool:               500,
	CodeInvalidParameters:  400,
	CodeToolNotFound:       404,
	CodeWebSocket:          500,
	CodeConversation:       500,
	CodeSession:            500,
	CodeRateLimit:          429,
	CodeNetwork:            503,
	CodeServiceUnavailable: 503,
	CodeValidation:         400,
	CodeUnknown:            500,
}

// retryableCodes are the categories worth retrying automatically.
var retryableCodes = map[Code]bool{
	CodeRateLimit:          true,
	CodeNetwork:            true,
	CodeServiceUnavailable: true,
}

// Error is the gateway error type. Context carries structured detail for
// logging; it never crosses the client boundary.
type Error struct {
	Code       Code
	Message    string
	StatusCode int
	Retryable  bool
	Context    map[string]any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with the status and retryability implied by code.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusFor[code],
		Retryable:  retryableCodes[code],
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code to an underlying error, preserving the chain.
func Wrap(err error, code Code, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

// WithContext returns e with the given key set in its context bag.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// StatusOf extracts the HTTP status analog from an error chain.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 500
}

// IsRetryable reports whether the error is worth retrying. It honors an
// explicit Retryable flag when present and falls back to the code table.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Severity levels for classification.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
	SeverityInfo  = "info"
)

// Classification is the result of classifying an error for logging and
// user-facing shaping.
type Classification struct {
	Category    Code
	Severity    string
	Recoverable bool
}

// Classify maps an arbitrary error to its category, severity and
// recoverability. Severity follows the status-code analog: >=500 "error",
// 400-499 "warn", <400 "info".
func Classify(err error) Classification {
	code := CodeOf(err)
	status := StatusOf(err)

	severity := SeverityInfo
	switch {
	case status >= 500:
		severity = SeverityError
	case status >= 400:
		severity = SeverityWarn
	}

	return Classification{
		Category:    code,
		Severity:    severity,
		Recoverable: retryableCodes[code],
	}
}

// userMessages are the canonical user-facing phrases emitted by the
// conversation error path. Raw error detail never crosses the boundary.
var userMessages = map[Code]string{
	CodeLLM:        "I'm having trouble reaching the language model right now. Please try again in a moment.",
	CodeTool:       "I couldn't fetch some of the live data you asked about. Please try again.",
	CodeRateLimit:  "I'm receiving a lot of requests right now. Please wait a moment and try again.",
	CodeNetwork:    "I'm having network trouble reaching upstream services. Please try again shortly.",
	CodeValidation: "I couldn't process that request as written. Could you rephrase it?",
	CodeSession:    "Something went wrong with your session. Please try again or reconnect.",
	CodeUnknown:    "Something unexpected went wrong. Please try again.",
}

// UserMessage returns the canonical user-facing phrase for a code.
func UserMessage(code Code) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[CodeUnknown]
}

// suggestions maps codes to human-readable recovery suggestions. Every code
// yields at least one suggestion.
var suggestions = map[Code][]string{
	CodeLLM: {
		"Wait a few seconds and resend your message",
		"Shorten your message if it is very long",
	},
	CodeTool: {
		"Try the request again",
		"Ask for a different network or token if the problem persists",
	},
	CodeToolNotFound: {
		"Check the tool name against the available tool catalog",
	},
	CodeInvalidParameters: {
		"Check the parameter values against the tool's schema",
		"Verify addresses are 0x-prefixed 40-hex-char strings",
	},
	CodeRateLimit: {
		"Wait a moment before retrying",
		"Reduce the frequency of your requests",
	},
	CodeNetwork: {
		"Check your connection and retry",
		"Retry in a few seconds; upstream may be briefly unavailable",
	},
	CodeServiceUnavailable: {
		"Retry in a few seconds; the upstream service is temporarily unavailable",
	},
	CodeValidation: {
		"Rephrase the request with the expected fields",
	},
	CodeSession: {
		"Reconnect to start a fresh session",
	},
	CodeUnknown: {
		"Try the request again",
		"Reconnect if the problem persists",
	},
}

// Suggestions returns recovery suggestions for a code, never empty.
func Suggestions(code Code) []string {
	if s, ok := suggestions[code]; ok {
		return s
	}
	return suggestions[CodeUnknown]
}
