// Package core_test tests the error classes shared by the orchestrators.
package core_test

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationError_PrefixAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("%w: model missing", core.ErrInitialization)
	err := error(&core.OperationError{Op: core.OpSTT, Err: cause})

	assert.Equal(t, "STT failed: engine initialization failed: model missing", err.Error())
	require.ErrorIs(t, err, core.ErrInitialization)
}

func TestProcessError_UsesStderrVerbatim(t *testing.T) {
	t.Parallel()

	err := &core.ProcessError{Stderr: "  unknown voice 'xx'\n", Err: errors.New("exit status 1")}

	assert.Equal(t, "unknown voice 'xx'", err.Error())
	require.ErrorIs(t, err, core.ErrExternalProcess)
}

func TestProcessError_FallsBackWhenStderrEmpty(t *testing.T) {
	t.Parallel()

	exitErr := &exec.ExitError{}
	err := &core.ProcessError{Stderr: "", Err: exitErr}

	assert.Contains(t, err.Error(), "synthesizer exited")

	var target *exec.ExitError
	require.ErrorAs(t, err, &target)
}

func TestProcessError_WrappedInOperationError(t *testing.T) {
	t.Parallel()

	err := error(&core.OperationError{Op: core.OpTTS, Err: &core.ProcessError{Stderr: "boom"}})

	assert.Equal(t, "TTS failed: boom", err.Error())
	require.ErrorIs(t, err, core.ErrExternalProcess)
}

func TestRecovered_KeepsClass(t *testing.T) {
	t.Parallel()

	err := error(&core.OperationError{Op: core.OpSTT, Err: core.Recovered(core.ErrInference, "index out of range")})

	assert.Equal(t, "STT failed: transcription failed: recovered from panic: index out of range", err.Error())
	require.ErrorIs(t, err, core.ErrInference)
}
