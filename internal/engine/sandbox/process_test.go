package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/internal/engine/models"
)

func newProcessBackend(t *testing.T) *ProcessBackend {
	t.Helper()
	return NewProcessBackend(t.TempDir(), t.TempDir())
}

func defaultLimits() models.ExecutionLimits {
	return models.ExecutionLimits{
		CPUCores: 1, MemoryMB: 64, TimeoutMS: 5000,
		MaxProcesses: 4, MaxFileSizeBytes: 1 << 20, MaxOutputBytes: 1 << 20,
	}
}

func TestProcessBackend_RunsPython(t *testing.T) {
	// Given a process backend and a python script that echoes stdin
	b := newProcessBackend(t)

	// When executed
	result, err := b.Execute(context.Background(), RunSpec{
		JobID:    "job-py",
		Language: models.LanguagePython,
		Code:     "import sys\nprint(sys.stdin.read().strip())\n",
		Stdin:    "hello",
		Limits:   defaultLimits(),
	})

	// Then stdout contains the echoed input and exit code is zero
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
	assert.False(t, result.TimedOut)
}

func TestProcessBackend_RejectsOversizedSource(t *testing.T) {
	// Given a backend with a tiny max file size limit
	b := newProcessBackend(t)
	limits := defaultLimits()
	limits.MaxFileSizeBytes = 4

	// When executing code larger than the limit
	_, err := b.Execute(context.Background(), RunSpec{
		JobID:    "job-big",
		Language: models.LanguagePython,
		Code:     "print('way too long for the limit')",
		Limits:   limits,
	})

	// Then it is rejected with ErrSourceTooLarge
	var tooLarge *ErrSourceTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestProcessBackend_TimesOutLongRunningCode(t *testing.T) {
	// Given a backend with a very short timeout
	b := newProcessBackend(t)
	limits := defaultLimits()
	limits.TimeoutMS = 50

	// When executing code that sleeps well past the timeout
	result, err := b.Execute(context.Background(), RunSpec{
		JobID:    "job-slow",
		Language: models.LanguagePython,
		Code:     "import time\ntime.sleep(5)\n",
		Limits:   limits,
	})

	// Then it reports a timeout rather than an error
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
}

func TestProcessBackend_CompilesAndCachesC(t *testing.T) {
	// Given a backend and a trivial C program
	b := newProcessBackend(t)
	code := `#include <stdio.h>
int main(void) { printf("compiled\n"); return 0; }
`

	// When executed twice
	first, err := b.Execute(context.Background(), RunSpec{JobID: "c-1", Language: models.LanguageC, Code: code, Limits: defaultLimits()})
	require.NoError(t, err)
	second, err := b.Execute(context.Background(), RunSpec{JobID: "c-2", Language: models.LanguageC, Code: code, Limits: defaultLimits()})
	require.NoError(t, err)

	// Then both runs succeed, the second reusing the cached binary
	assert.Equal(t, 0, first.ExitCode)
	assert.Contains(t, first.Stdout, "compiled")
	assert.Equal(t, 0, second.ExitCode)
	assert.Contains(t, second.Stdout, "compiled")
	assert.Len(t, b.cache, 1)
}

func TestProcessBackend_CapsOutputBytes(t *testing.T) {
	// Given a backend with a tiny output cap
	b := newProcessBackend(t)
	limits := defaultLimits()
	limits.MaxOutputBytes = 5

	// When the program prints far more than the cap
	result, err := b.Execute(context.Background(), RunSpec{
		JobID:    "job-cap",
		Language: models.LanguagePython,
		Code:     "print('x' * 1000)",
		Limits:   limits,
	})

	// Then stdout is truncated to the cap
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Stdout), 5)
}
