// Package sandbox defines the backend-neutral execution contract
// (spec.md §4.11) and the fixed language table, with container and
// process backend implementations.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/relaygate/core/internal/engine/models"
)

// LanguageSpec is one row of the fixed language table (spec.md §4.11).
type LanguageSpec struct {
	SourceFile     string
	ContainerImage string
	RunScript      string
}

// Languages is the fixed, unmodifiable language table.
var Languages = map[models.Language]LanguageSpec{
	models.LanguagePython: {
		SourceFile:     "main.py",
		ContainerImage: "python:3.12-alpine",
		RunScript:      `python3 -I /workspace/main.py "$@"`,
	},
	models.LanguageJavaScript: {
		SourceFile:     "main.js",
		ContainerImage: "node:22-alpine",
		RunScript:      `node /workspace/main.js "$@"`,
	},
	models.LanguageRust: {
		SourceFile:     "main.rs",
		ContainerImage: "rust:1.76-alpine",
		RunScript:      `rustc /workspace/main.rs -O -o /tmp/app && /tmp/app "$@"`,
	},
	models.LanguageC: {
		SourceFile:     "main.c",
		ContainerImage: "gcc:14",
		RunScript:      `gcc /workspace/main.c -O2 -o /tmp/app && /tmp/app "$@"`,
	},
}

// RunSpec is the backend-neutral description of a single sandboxed run
// (spec.md §4.11).
type RunSpec struct {
	JobID        string
	TenantID     string
	Language     models.Language
	Code         string
	Args         []string
	Stdin        string
	Limits       models.ExecutionLimits
	AllowNetwork bool
}

// Result is a completed sandbox run's outcome.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	TimedOut   bool
}

// Backend executes one RunSpec and returns its Result. Implementations
// must reject specs whose source exceeds limits.MaxFileSizeBytes.
//
//go:generate mockgen -destination=../../testutil/mocks/sandbox_backend_mock.go -package=mocks github.com/relaygate/core/internal/engine/sandbox Backend
type Backend interface {
	Execute(ctx context.Context, spec RunSpec) (Result, error)
}

// ErrSourceTooLarge is returned when the submitted code exceeds the
// run's MaxFileSizeBytes limit.
type ErrSourceTooLarge struct {
	Size  int
	Limit int64
}

func (e *ErrSourceTooLarge) Error() string {
	return fmt.Sprintf("sandbox: source is %d bytes, exceeds limit of %d", e.Size, e.Limit)
}

// checkSourceSize implements the common precondition shared by every
// backend (spec.md §4.11).
func checkSourceSize(code string, limits models.ExecutionLimits) error {
	if int64(len(code)) > limits.MaxFileSizeBytes {
		return &ErrSourceTooLarge{Size: len(code), Limit: limits.MaxFileSizeBytes}
	}
	return nil
}

// workDirName builds the isolated working directory name convention
// from spec.md §4.11: "{prefix}-{id}-{ns_epoch}".
func workDirName(prefix, id string) string {
	return fmt.Sprintf("%s-%s-%d", prefix, id, time.Now().UnixNano())
}

// capOutput enforces the per-stream output cap, silently dropping
// excess bytes (spec.md §4.11).
func capOutput(b []byte, limit int64) string {
	if limit > 0 && int64(len(b)) > limit {
		b = b[:limit]
	}
	return string(b)
}
