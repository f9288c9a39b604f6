package quest

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced to callers
var (
	ErrNotFound               = errors.New("quest not found")
	ErrEnvironmentUnsupported = errors.New("environment unsupported")
	ErrInjectionFailed        = errors.New("injection failed")
	ErrTimeout                = errors.New("timed out waiting for confirmation")
	ErrPollingTransient       = errors.New("ground truth unavailable")
	ErrUnknown                = errors.New("unknown failure")
)

// ExecutionError carries the failure kind together with the task and the underlying cause
type ExecutionError struct {
	Kind    error
	TaskID  string
	Message string
	Err     error
}

// NewError builds an ExecutionError of the given kind
func NewError(kind error, taskID, message string, cause error) *ExecutionError {
	return &ExecutionError{Kind: kind, TaskID: taskID, Message: message, Err: cause}
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.TaskID != "" {
		return fmt.Sprintf("%v: quest %s: %s", e.Kind, e.TaskID, msg)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

// Unwrap exposes the cause for errors.Is/As
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches the failure kind
func (e *ExecutionError) Is(target error) bool {
	return target == e.Kind
}

// Classify maps any error onto a taxonomy kind, falling back to ErrUnknown
func Classify(err error) error {
	for _, kind := range []error{ErrNotFound, ErrEnvironmentUnsupported, ErrInjectionFailed, ErrTimeout, ErrPollingTransient} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUnknown
}

// Code returns the stable wire name of a failure kind
func Code(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrNotFound:
		return "NotFound"
	case ErrEnvironmentUnsupported:
		return "EnvironmentUnsupported"
	case ErrInjectionFailed:
		return "InjectionFailed"
	case ErrTimeout:
		return "Timeout"
	case ErrPollingTransient:
		return "PollingTransientError"
	default:
		return "Unknown"
	}
}
