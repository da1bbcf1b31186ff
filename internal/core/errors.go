package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes surfaced by the orchestrators.
var (
	// ErrInitialization indicates that the recognition engine could not be constructed.
	ErrInitialization = errors.New("engine initialization failed")
	// ErrUploadRead indicates that the uploaded audio could not be staged on disk.
	ErrUploadRead = errors.New("failed to store uploaded audio")
	// ErrInference indicates that the recognition engine failed during transcription.
	ErrInference = errors.New("transcription failed")
	// ErrValidation indicates a malformed synthesis request.
	ErrValidation = errors.New("invalid request")
	// ErrExternalProcess indicates that the synthesis binary exited unsuccessfully.
	ErrExternalProcess = errors.New("synthesizer exited")
	// ErrSynthesis indicates that synthesis failed inside the service itself.
	ErrSynthesis = errors.New("synthesis failed")
)

// Operation prefixes used at the orchestrator boundary.
const (
	OpSTT = "STT"
	OpTTS = "TTS"
)

// Recovered turns a value recovered from a panic into an error of class kind.
func Recovered(kind error, value any) error {
	return fmt.Errorf("%w: recovered from panic: %v", kind, value)
}

// OperationError is the single error class returned by an orchestrator. Its
// message is "<Op> failed: <cause>".
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return e.Op + " failed: " + e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ProcessError carries the diagnostic output of a failed external process.
// Only the exit status and the error stream are interpreted.
type ProcessError struct {
	Stderr string
	Err    error
}

// Error returns the process's error output verbatim, or a generic message
// built from the exit status when the error output is empty.
func (e *ProcessError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail != "" {
		return detail
	}

	if e.Err != nil {
		return ErrExternalProcess.Error() + ": " + e.Err.Error()
	}

	return ErrExternalProcess.Error()
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is reports ErrExternalProcess as a match so callers can classify the error
// without inspecting the exit status.
func (e *ProcessError) Is(target error) bool {
	return target == ErrExternalProcess
}
