package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionLimits_NormalizeClampsToBounds(t *testing.T) {
	// Given limits both below and above their safe bounds
	tooLow := ExecutionLimits{CPUCores: 0, MemoryMB: 1, TimeoutMS: 1, MaxProcesses: 0, MaxFileSizeBytes: 1, MaxOutputBytes: 1}
	tooHigh := ExecutionLimits{CPUCores: 99, MemoryMB: 999999, TimeoutMS: 999999999, MaxProcesses: 99999, MaxFileSizeBytes: 1 << 40, MaxOutputBytes: 1 << 40}

	// When normalized
	low := tooLow.Normalize()
	high := tooHigh.Normalize()

	// Then every field clamps into its documented range
	assert.Equal(t, 0.1, low.CPUCores)
	assert.EqualValues(t, 32, low.MemoryMB)
	assert.EqualValues(t, 50, low.TimeoutMS)
	assert.EqualValues(t, 1, low.MaxProcesses)
	assert.EqualValues(t, 1024, low.MaxFileSizeBytes)
	assert.EqualValues(t, 1024, low.MaxOutputBytes)

	assert.Equal(t, 4.0, high.CPUCores)
	assert.EqualValues(t, 8192, high.MemoryMB)
	assert.EqualValues(t, 120000, high.TimeoutMS)
	assert.EqualValues(t, 256, high.MaxProcesses)
	assert.EqualValues(t, 100*1024*1024, high.MaxFileSizeBytes)
	assert.EqualValues(t, 4*1024*1024, high.MaxOutputBytes)
}

func TestExecutionLimits_NormalizeWithinBoundsIsUnchanged(t *testing.T) {
	// Given limits already within bounds
	in := ExecutionLimits{CPUCores: 2, MemoryMB: 512, TimeoutMS: 5000, MaxProcesses: 10, MaxFileSizeBytes: 2048, MaxOutputBytes: 2048}

	// When normalized
	out := in.Normalize()

	// Then nothing changes
	assert.Equal(t, in, out)
}

func TestExecutionLimits_AnyLimitZero(t *testing.T) {
	// Given a request with one zero-valued limit field
	withZero := ExecutionLimits{CPUCores: 1, MemoryMB: 0, TimeoutMS: 100, MaxProcesses: 1, MaxFileSizeBytes: 1024, MaxOutputBytes: 1024}
	allSet := ExecutionLimits{CPUCores: 1, MemoryMB: 32, TimeoutMS: 100, MaxProcesses: 1, MaxFileSizeBytes: 1024, MaxOutputBytes: 1024}

	// Then AnyLimitZero reports the distinction before normalization hides it
	assert.True(t, withZero.AnyLimitZero())
	assert.False(t, allSet.AnyLimitZero())
}

func TestExecutionRecord_ToSummaryProjectsFields(t *testing.T) {
	// Given a finished record
	started := int64(100)
	finished := int64(200)
	rec := &ExecutionRecord{
		ID: "x", TenantID: "t", Status: StatusSucceeded,
		CreatedAtMS: 50, StartedAtMS: &started, FinishedAtMS: &finished,
		Output: &Output{Stdout: "hi"},
	}

	// When projected to a summary
	summary := rec.ToSummary()

	// Then only the trimmed fields are carried, not Output
	assert.Equal(t, "x", summary.ID)
	assert.Equal(t, StatusSucceeded, summary.Status)
	assert.Equal(t, &started, summary.StartedAtMS)
	assert.Equal(t, &finished, summary.FinishedAtMS)
}
