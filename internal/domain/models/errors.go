package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackpressure is retryable: the partition queue is full.
	ErrBackpressure  = errors.New("pipeline backpressure: partition queue full")
	ErrAlertNotFound = errors.New("alert not found")
	ErrClosed        = errors.New("pipeline closed")
	ErrNotStarted    = errors.New("pipeline not started")
)

type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: event %s: %s: %s", e.EventID, e.Field, e.Reason)
}

// LateEventError reports an event older than the entity watermark allows.
type LateEventError struct {
	EventID   string
	EntityKey EntityKey
	Lateness  time.Duration
	Tolerance time.Duration
}

func (e *LateEventError) Error() string {
	return fmt.Sprintf("late event %s on %s: lateness %s exceeds tolerance %s",
		e.EventID, e.EntityKey, e.Lateness, e.Tolerance)
}

type DetectorError struct {
	Detector string
	Reason   string
	// Unrecoverable marks a broken detector configuration rather than a per-event failure.
	Unrecoverable bool
	Err           error
}

func (e *DetectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("detector %s: %s: %v", e.Detector, e.Reason, e.Err)
	}
	return fmt.Sprintf("detector %s: %s", e.Detector, e.Reason)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// ConfigurationError is fatal and raised before processing begins.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// ErrorCode maps an error to the short code stored in dispositions.
func ErrorCode(err error) string {
	var (
		ve *ValidationError
		le *LateEventError
		de *DetectorError
		ce *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &le):
		return "late_event"
	case errors.As(err, &de):
		return "detector"
	case errors.As(err, &ce):
		return "configuration"
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	default:
		return "internal"
	}
}
