// Package worker implements the N-worker pool draining the scheduler
// queue (spec.md §4.10): each worker claims jobs serially through the
// queue's shared, mutex-guarded receiver, runs the sandboxed
// execution (fanning out across test cases when present), and
// finalizes the store record.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/relaygate/core/internal/engine/metrics"
	"github.com/relaygate/core/internal/engine/models"
	"github.com/relaygate/core/internal/engine/queue"
	"github.com/relaygate/core/internal/engine/sandbox"
	"github.com/relaygate/core/internal/engine/store"
	"github.com/relaygate/core/internal/platform/logging"
)

// Pool runs Count workers against a shared Queue.
type Pool struct {
	Count   int
	Queue   *queue.Queue
	Store   *store.Store
	Backend sandbox.Backend
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	wg sync.WaitGroup
}

// Start launches the worker pool. It returns immediately; workers run
// until the queue is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.Count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited (the queue was closed and
// drained).
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, index int) {
	defer p.wg.Done()
	for {
		job, ok := p.Queue.Receive()
		if !ok {
			return
		}
		p.handle(ctx, index, job)
	}
}

// handle implements spec.md §4.10's per-job worker loop, steps 3-7.
func (p *Pool) handle(ctx context.Context, workerIndex int, job models.QueuedJob) {
	p.Metrics.Claim()
	p.Store.MarkRunning(job.ID)
	p.Store.AppendEvent(job.ID, "running", fmt.Sprintf("worker-%d claimed job", workerIndex))

	if len(job.Request.TestCases) > 0 {
		p.runTestCases(ctx, job)
		return
	}
	p.runSingle(ctx, job)
}

func (p *Pool) runSingle(ctx context.Context, job models.QueuedJob) {
	result, err := p.Backend.Execute(ctx, sandbox.RunSpec{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		Language:     job.Request.Language,
		Code:         job.Request.Code,
		Args:         job.Request.Args,
		Stdin:        job.Request.Stdin,
		Limits:       job.Limits,
		AllowNetwork: job.Request.AllowNetwork,
	})
	if err != nil {
		p.finishSandboxError(job.ID, err)
		return
	}

	status := statusFor(result)
	output := &models.Output{
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitCode:   result.ExitCode,
		DurationMS: result.DurationMS,
		TimedOut:   result.TimedOut,
	}
	p.finish(job.ID, status, output, nil)
}

// runTestCases implements spec.md §4.10 step 4: clone the request per
// test case, running each serially with its own stdin, stopping at
// the first timeout.
func (p *Pool) runTestCases(ctx context.Context, job models.QueuedJob) {
	results := make([]models.TestResult, 0, len(job.Request.TestCases))
	var finalStatus models.Status = models.StatusSucceeded

	for _, tc := range job.Request.TestCases {
		result, err := p.Backend.Execute(ctx, sandbox.RunSpec{
			JobID:        job.ID,
			TenantID:     job.TenantID,
			Language:     job.Request.Language,
			Code:         job.Request.Code,
			Args:         job.Request.Args,
			Stdin:        tc.Stdin,
			Limits:       job.Limits,
			AllowNetwork: job.Request.AllowNetwork,
		})
		if err != nil {
			p.finishSandboxError(job.ID, err)
			return
		}

		var passed *bool
		if tc.ExpectedStdout != nil {
			ok := strings.TrimSpace(result.Stdout) == strings.TrimSpace(*tc.ExpectedStdout)
			passed = &ok
		}
		results = append(results, models.TestResult{
			Stdin:      tc.Stdin,
			Stdout:     result.Stdout,
			Stderr:     result.Stderr,
			Passed:     passed,
			ExitCode:   result.ExitCode,
			DurationMS: result.DurationMS,
		})

		if result.TimedOut {
			finalStatus = models.StatusTimedOut
			break
		}
		if result.ExitCode != 0 {
			finalStatus = models.StatusFailed
		}
	}

	p.finish(job.ID, finalStatus, nil, results)
}

func statusFor(result sandbox.Result) models.Status {
	if result.TimedOut {
		return models.StatusTimedOut
	}
	if result.ExitCode == 0 {
		return models.StatusSucceeded
	}
	return models.StatusFailed
}

func (p *Pool) finish(id string, status models.Status, output *models.Output, testResults []models.TestResult) {
	switch status {
	case models.StatusTimedOut:
		p.Metrics.TimedOutRun()
	case models.StatusFailed:
		p.Metrics.FailedRun()
	}
	p.Metrics.Finish()
	if _, err := p.Store.MarkFinished(id, status, output, testResults, ""); err != nil && p.Logger != nil {
		p.Logger.Warn("mark finished failed", logging.String("id", id), logging.String("error", err.Error()))
	}
}

func (p *Pool) finishSandboxError(id string, err error) {
	p.Store.AppendEvent(id, "sandbox_error", err.Error())
	p.Metrics.FailedRun()
	p.Metrics.Finish()
	if _, storeErr := p.Store.MarkFinished(id, models.StatusFailed, nil, nil, err.Error()); storeErr != nil && p.Logger != nil {
		p.Logger.Warn("mark finished failed", logging.String("id", id), logging.String("error", storeErr.Error()))
	}
}
