// Package errorsx attaches machine-readable reasons to errors and classifies task outcomes.
package errorsx

import (
	"context"
	"errors"
)

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonFramePush     ReasonCode = "frame_push"
	ReasonStreamRelease ReasonCode = "stream_release"
	ReasonPipeline      ReasonCode = "pipeline"
	ReasonTrackTimeout  ReasonCode = "track_timeout"
	ReasonSTTConnect    ReasonCode = "stt_connect"
	ReasonSTTStream     ReasonCode = "stt_stream"
	ReasonRoomConnect   ReasonCode = "room_connect"
	ReasonWorkerStart   ReasonCode = "worker_start"
	ReasonWorkerStop    ReasonCode = "worker_stop"
	ReasonSummary       ReasonCode = "summary"
)

// ReasonedError wraps an error with a reason code.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap attaches a reason code to an error (no-op if err is nil or already reasoned).
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason extracts a reason code from an error, if present.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason returns true if err contains the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// Outcome is the terminal classification of a task.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	OutcomeSoftFailure
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSoftFailure:
		return "soft_failure"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Classify maps a task's returned error to an Outcome. Cancellation is never a failure,
// even when it arrives wrapped inside another error.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case HasReason(err, ReasonTrackTimeout):
		return OutcomeSoftFailure
	default:
		return OutcomeFailed
	}
}
