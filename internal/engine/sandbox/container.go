package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engine.sandbox")

// ContainerBackend runs each request in a fresh, hardened container
// (spec.md §4.11): no network unless explicitly allowed for the
// tenant, read-only root filesystem, a small noexec tmpfs at /tmp, a
// read-only bind-mounted workspace, every capability dropped, and
// resource ceilings drawn from the run's normalized limits.
type ContainerBackend struct {
	workDirRoot          string
	networkAllowedTenants map[string]struct{}
}

// NewContainerBackend builds a ContainerBackend. workDirRoot is where
// per-run isolated directories are created; networkAllowedTenants is
// the set of tenant ids permitted to request network access.
func NewContainerBackend(workDirRoot string, networkAllowedTenants []string) *ContainerBackend {
	allowed := make(map[string]struct{}, len(networkAllowedTenants))
	for _, t := range networkAllowedTenants {
		allowed[t] = struct{}{}
	}
	return &ContainerBackend{workDirRoot: workDirRoot, networkAllowedTenants: allowed}
}

func (b *ContainerBackend) networkAllowed(tenantID string) bool {
	_, ok := b.networkAllowedTenants[tenantID]
	return ok
}

// Execute implements Backend.
func (b *ContainerBackend) Execute(ctx context.Context, spec RunSpec) (Result, error) {
	ctx, span := tracer.Start(ctx, "sandbox.ContainerBackend.Execute", trace.WithAttributes(
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

	if err := os.WriteFile(filepath.Join(workDir, langSpec.SourceFile), []byte(spec.Code), 0o644); err != nil {
		err = fmt.Errorf("sandbox: write source: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if err := os.WriteFile(filepath.Join(workDir, "stdin"), []byte(spec.Stdin), 0o644); err != nil {
		err = fmt.Errorf("sandbox: write stdin: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	networkMode := container.NetworkMode("none")
	if spec.AllowNetwork && b.networkAllowed(spec.TenantID) {
		networkMode = "bridge"
	}

	nanoCPUs := int64(spec.Limits.CPUCores * 1e9)
	memBytes := spec.Limits.MemoryMB * 1024 * 1024
	pidsLimit := spec.Limits.MaxProcesses

	req := testcontainers.ContainerRequest{
		Image:      langSpec.ContainerImage,
		Entrypoint: []string{"sh", "-c"},
		Cmd:        append([]string{langSpec.RunScript + ` < /workspace/stdin`, "sh"}, spec.Args...),
		WaitingFor: wait.ForExit(),
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.ReadonlyRootfs = true
			hc.Tmpfs = map[string]string{"/tmp": "size=67108864,nosuid,nodev,noexec"}
			hc.Binds = []string{workDir + ":/workspace:ro"}
			hc.CapDrop = []string{"ALL"}
			hc.SecurityOpt = []string{"no-new-privileges"}
			hc.NetworkMode = networkMode
			hc.Init = boolPtr(true)
			hc.Resources = container.Resources{
				NanoCPUs:  nanoCPUs,
				Memory:    memBytes,
				PidsLimit: &pidsLimit,
				Ulimits: []*units.Ulimit{
					{Name: "nproc", Soft: pidsLimit, Hard: pidsLimit},
					{Name: "fsize", Soft: spec.Limits.MaxFileSizeBytes, Hard: spec.Limits.MaxFileSizeBytes},
				},
			}
		},
	}

	timeout := time.Duration(spec.Limits.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	c, err := testcontainers.GenericContainer(runCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			span.SetAttributes(attribute.Bool("timed_out", true))
			span.SetStatus(codes.Ok, "")
			return Result{ExitCode: -1, TimedOut: true, DurationMS: time.Since(start).Milliseconds()}, nil
		}
		err = fmt.Errorf("sandbox: start container: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	defer func() {
		_ = c.Terminate(context.Background())
	}()

	state, err := waitForExit(runCtx, c)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			span.SetAttributes(attribute.Bool("timed_out", true))
			span.SetStatus(codes.Ok, "")
			return Result{ExitCode: -1, TimedOut: true, DurationMS: duration}, nil
		}
		err = fmt.Errorf("sandbox: wait for exit: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	logs, err := c.Logs(context.Background())
	var stdout, stderr bytes.Buffer
	if err == nil {
		defer logs.Close()
		_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)
	}

	span.SetAttributes(attribute.Int("exit_code", state), attribute.Int64("duration_ms", duration))
	span.SetStatus(codes.Ok, "")
	return Result{
		Stdout:     capOutput(stdout.Bytes(), spec.Limits.MaxOutputBytes),
		Stderr:     capOutput(stderr.Bytes(), spec.Limits.MaxOutputBytes),
		ExitCode:   state,
		DurationMS: duration,
	}, nil
}

// waitForExit polls the container state until it reports a terminal
// exit code, since testcontainers-go's generic wait strategies don't
// return the code directly.
func waitForExit(ctx context.Context, c testcontainers.Container) (int, error) {
	for {
		state, err := c.State(ctx)
		if err != nil {
			return 0, err
		}
		if !state.Running {
			return state.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func boolPtr(b bool) *bool { return &b }
