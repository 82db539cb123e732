package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// interpreted lists languages the process backend runs directly
// against the host interpreter, without a compile step.
var interpreted = map[string][]string{
	"python":     {"python3", "-I"},
	"javascript": {"node"},
}

// compiled lists languages the process backend compiles first, along
// with the compiler invocation producing a binary at the given path.
var compiled = map[string]func(sourcePath, binPath string) *exec.Cmd{
	"rust": func(sourcePath, binPath string) *exec.Cmd {
		return exec.Command("rustc", sourcePath, "-O", "-o", binPath)
	},
	"c": func(sourcePath, binPath string) *exec.Cmd {
		return exec.Command("gcc", sourcePath, "-O2", "-o", binPath)
	},
}

// ProcessBackend runs requests directly on the host, for local
// development only: no filesystem isolation and no resource limits
// (spec.md §4.11). Compiled languages share a binary cache keyed by
// hash(source_name, code).
type ProcessBackend struct {
	workDirRoot string
	cacheDir    string

	mu    sync.Mutex
	cache map[string]string // cacheKey -> compiled binary path
}

// NewProcessBackend builds a ProcessBackend.
func NewProcessBackend(workDirRoot, cacheDir string) *ProcessBackend {
	return &ProcessBackend{
		workDirRoot: workDirRoot,
		cacheDir:    cacheDir,
		cache:       make(map[string]string),
	}
}

// Execute implements Backend.
func (b *ProcessBackend) Execute(ctx context.Context, spec RunSpec) (Result, error) {
	ctx, span := tracer.Start(ctx, "sandbox.ProcessBackend.Execute", trace.WithAttributes(
		attribute.String("language", string(spec.Language)),
		attribute.String("tenant", spec.TenantID),
	))
	defer span.End()

	if err := checkSourceSize(spec.Code, spec.Limits); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	langSpec, ok := Languages[spec.Language]
	if !ok {
		err := fmt.Errorf("sandbox: unsupported language %q", spec.Language)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	workDir := filepath.Join(b.workDirRoot, workDirName("run", spec.JobID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		err = fmt.Errorf("sandbox: create work dir: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, langSpec.SourceFile)
	if err := os.WriteFile(sourcePath, []byte(spec.Code), 0o644); err != nil {
		err = fmt.Errorf("sandbox: write source: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	timeout := time.Duration(spec.Limits.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if interp, ok := interpreted[string(spec.Language)]; ok {
		args := append(append([]string{}, interp[1:]...), sourcePath)
		args = append(args, spec.Args...)
		cmd = exec.CommandContext(runCtx, interp[0], args...)
	} else if compiler, ok := compiled[string(spec.Language)]; ok {
		binPath, err := b.compile(runCtx, langSpec.SourceFile, spec.Code, sourcePath, compiler)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
		cmd = exec.CommandContext(runCtx, binPath, spec.Args...)
	} else {
		err := fmt.Errorf("sandbox: no process runner for %q", spec.Language)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	cmd.Stdin = bytes.NewReader([]byte(spec.Stdin))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		span.SetAttributes(attribute.Bool("timed_out", true))
		span.SetStatus(codes.Ok, "")
		return Result{ExitCode: -1, TimedOut: true, DurationMS: duration}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			err = fmt.Errorf("sandbox: run process: %w", err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
	}

	span.SetAttributes(attribute.Int("exit_code", exitCode), attribute.Int64("duration_ms", duration))
	span.SetStatus(codes.Ok, "")
	return Result{
		Stdout:     capOutput(stdout.Bytes(), spec.Limits.MaxOutputBytes),
		Stderr:     capOutput(stderr.Bytes(), spec.Limits.MaxOutputBytes),
		ExitCode:   exitCode,
		DurationMS: duration,
	}, nil
}

// compile builds (or reuses from cache) a binary for a compiled
// language, keyed by hash(source_name, code) per spec.md §4.11.
func (b *ProcessBackend) compile(ctx context.Context, sourceName, code, sourcePath string, compiler func(sourcePath, binPath string) *exec.Cmd) (string, error) {
	key := cacheKey(sourceName, code)

	b.mu.Lock()
	if binPath, ok := b.cache[key]; ok {
		if _, err := os.Stat(binPath); err == nil {
			b.mu.Unlock()
			return binPath, nil
		}
	}
	b.mu.Unlock()

	if err := os.MkdirAll(b.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("sandbox: create cache dir: %w", err)
	}
	binPath := filepath.Join(b.cacheDir, key)

	cmd := compiler(sourcePath, binPath)
	cmd = exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("sandbox: compile %s: %w: %s", sourceName, err, stderr.String())
	}

	b.mu.Lock()
	b.cache[key] = binPath
	b.mu.Unlock()
	return binPath, nil
}

func cacheKey(sourceName, code string) string {
	h := sha256.Sum256([]byte(sourceName + "\x00" + code))
	return hex.EncodeToString(h[:])
}
