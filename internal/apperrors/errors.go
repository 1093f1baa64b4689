// Package apperrors defines the typed failures a pipeline run can end with.
// Every stage wraps its underlying cause in an *Error so callers can branch
// on Kind and still reach the original error with errors.Is / errors.As.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindConfig            Kind = "config_error"
	KindValidation        Kind = "validation_error"
	KindUpstream          Kind = "upstream_error"
	KindGenerationFailure Kind = "generation_failure"
	KindDownload          Kind = "download_error"
	KindProcessing        Kind = "processing_error"
	KindPollTimeout       Kind = "poll_timeout"
	KindCancelled         Kind = "cancelled"
)

// Error is a structured pipeline failure.
type Error struct {
	Kind    Kind
	Stage   string // "schedule", "submit", "poll", "download", "watermark", "assemble", "mix"
	Message string

	// Upstream detail, populated for UpstreamError / GenerationFailure / DownloadError.
	StatusCode int
	Body       string

	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Stage != "" {
		msg += " " + e.Stage + ":"
	}
	msg += " " + e.Message
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithStage returns e tagged with stage, unless a stage is already set.
func (e *Error) WithStage(stage string) *Error {
	if e.Stage == "" {
		e.Stage = stage
	}
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Config(format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Upstream records a non-success response from the generative service.
// The body is kept verbatim for diagnostics.
func Upstream(message string, statusCode int, body string) *Error {
	return &Error{Kind: KindUpstream, Message: message, StatusCode: statusCode, Body: body}
}

func GenerationFailure(jobID, payload string) *Error {
	return &Error{Kind: KindGenerationFailure, Message: "job " + jobID + " reported failure", Body: payload}
}

func Download(message string, statusCode int, cause error) *Error {
	return &Error{Kind: KindDownload, Message: message, StatusCode: statusCode, Cause: cause}
}

func Processing(message string, cause error) *Error {
	return Wrap(KindProcessing, message, cause)
}

// KindOf extracts the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}

// Retryable reports whether a failure is worth another attempt with backoff.
// Only transport-level upstream problems qualify; generation, validation and
// local processing failures are final.
func Retryable(err error) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	if appErr.Kind != KindUpstream && appErr.Kind != KindDownload {
		return false
	}
	if appErr.StatusCode == 0 {
		// transport error, no response
		return appErr.Cause != nil
	}
	return RetryableStatus(appErr.StatusCode)
}

// RetryableStatus reports whether an HTTP status code is transient.
func RetryableStatus(status int) bool {
	switch status {
	case 408, 429, 502, 503, 504:
		return true
	}
	return false
}
