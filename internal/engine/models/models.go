// Package models defines the execution engine's data model: the
// inbound request shape, normalized resource limits, the queued job
// handed to a worker, and the append-only execution record (spec.md
// §3).
package models

// Language identifies which sandbox language table entry to use
// (spec.md §4.11).
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageRust       Language = "rust"
	LanguageC          Language = "c"
)

// TestCase is one serial sub-run of an ExecutionRequest (spec.md §4.10
// step 4).
type TestCase struct {
	Stdin          string  `json:"stdin" validate:"max=64000"`
	ExpectedStdout *string `json:"expected_stdout,omitempty"`
}

// ExecutionRequest is the validated, client-submitted payload
// (spec.md §6's POST /v1/executions body).
type ExecutionRequest struct {
	Language     Language        `json:"language" validate:"required"`
	Code         string          `json:"code" validate:"required,max=250000"`
	Args         []string        `json:"args,omitempty" validate:"max=16"`
	Stdin        string          `json:"stdin,omitempty" validate:"max=256000"`
	TestCases    []TestCase      `json:"test_cases,omitempty" validate:"max=128,dive"`
	Limits       ExecutionLimits `json:"limits"`
	AllowNetwork bool            `json:"allow_network,omitempty"`
}

// ExecutionLimits are the per-run resource bounds (spec.md §3). Every
// field must be normalized via Normalize before use.
type ExecutionLimits struct {
	CPUCores       float64 `json:"cpu_cores"`
	MemoryMB       int64   `json:"memory_mb"`
	TimeoutMS      int64   `json:"timeout_ms"`
	MaxProcesses   int64   `json:"max_processes"`
	MaxFileSizeBytes int64 `json:"max_file_size_bytes"`
	MaxOutputBytes int64   `json:"max_output_bytes"`
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps every field to the safe bounds in spec.md §3,
// returning a copy. A zero-valued field clamps to its lower bound,
// same as any out-of-range value.
func (l ExecutionLimits) Normalize() ExecutionLimits {
	return ExecutionLimits{
		CPUCores:         clampFloat(l.CPUCores, 0.1, 4.0),
		MemoryMB:         clampInt(l.MemoryMB, 32, 8192),
		TimeoutMS:        clampInt(l.TimeoutMS, 50, 120000),
		MaxProcesses:     clampInt(l.MaxProcesses, 1, 256),
		MaxFileSizeBytes: clampInt(l.MaxFileSizeBytes, 1024, 100*1024*1024),
		MaxOutputBytes:   clampInt(l.MaxOutputBytes, 1024, 4*1024*1024),
	}
}

// AnyLimitZero reports whether a caller-supplied limit field is
// exactly zero, which spec.md §6 treats as a validation failure
// distinct from normalization (normalization happens only after the
// request passes validation).
func (l ExecutionLimits) AnyLimitZero() bool {
	return l.CPUCores == 0 || l.MemoryMB == 0 || l.TimeoutMS == 0 ||
		l.MaxProcesses == 0 || l.MaxFileSizeBytes == 0 || l.MaxOutputBytes == 0
}

// QueuedJob is what the scheduler hands to a worker (spec.md §3).
type QueuedJob struct {
	ID       string
	TenantID string
	Request  ExecutionRequest
	Limits   ExecutionLimits
}

// Status is an ExecutionRecord's lifecycle phase (spec.md §3).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusRejected  Status = "rejected"
)

// Event is one append-only timeline entry (spec.md §3).
type Event struct {
	TsMS    int64  `json:"ts_ms"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// TestResult is one serial sub-run's outcome (spec.md §4.10 step 4).
type TestResult struct {
	Stdin      string `json:"stdin"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Passed     *bool  `json:"passed,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// Output is the single-run result attached to an ExecutionRecord when
// the request carried no test cases.
type Output struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
}

// ExecutionRecord is the full, append-only-evolving record of one
// submitted execution (spec.md §3). Status transitions are monotonic:
// Queued -> Running -> {Succeeded|Failed|TimedOut}, or Queued -> Rejected.
type ExecutionRecord struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	Status   Status          `json:"status"`
	Request  ExecutionRequest `json:"request"`
	Limits   ExecutionLimits `json:"limits"`

	Output      *Output      `json:"output,omitempty"`
	TestResults []TestResult `json:"test_results,omitempty"`
	Error       string       `json:"error,omitempty"`

	Events []Event `json:"events"`

	CreatedAtMS  int64  `json:"created_at_ms"`
	StartedAtMS  *int64 `json:"started_at_ms,omitempty"`
	FinishedAtMS *int64 `json:"finished_at_ms,omitempty"`
}

// Summary is the trimmed view returned by GET /v1/executions/{id}
// (spec.md §6).
type Summary struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	Status       Status `json:"status"`
	CreatedAtMS  int64  `json:"created_at_ms"`
	StartedAtMS  *int64 `json:"started_at_ms,omitempty"`
	FinishedAtMS *int64 `json:"finished_at_ms,omitempty"`
}

// ToSummary projects an ExecutionRecord down to its Summary view.
func (r *ExecutionRecord) ToSummary() Summary {
	return Summary{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Status:       r.Status,
		CreatedAtMS:  r.CreatedAtMS,
		StartedAtMS:  r.StartedAtMS,
		FinishedAtMS: r.FinishedAtMS,
	}
}
