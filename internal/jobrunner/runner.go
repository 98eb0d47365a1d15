package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cityworks/roadimport/internal/apierror"
	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/metrics"
	"github.com/cityworks/roadimport/internal/versionstore"
)

// ProgressFunc reports a task's progress; the Runner throttles the
// underlying Spanner writes, so tasks are free to call it as often as
// convenient (e.g. once per feature batch).
type ProgressFunc func(percent int, message string)

// Task is the work a job of a given type performs. Cancellation is
// cooperative: a Task must check ctx between feature batches.
type Task func(ctx context.Context, job versionstore.ImportJob, progress ProgressFunc) error

// Runner dispatches ImportJob rows to registered Tasks across a bounded
// worker pool, writing coalesced progress and final status back to the
// Version Store.
type Runner struct {
	Versions        *versionstore.Client
	Tasks           map[domain.JobType]Task
	NumWorkers      int
	WallClockBudget time.Duration // 0 means no deadline beyond ctx's own

	queue    chan string
	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	startErr chan error
}

// NewRunner builds a Runner whose queue is ready to accept Enqueue calls
// immediately, even before Start has been called.
func NewRunner(versions *versionstore.Client, tasks map[domain.JobType]Task, numWorkers int, wallClockBudget time.Duration) *Runner {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	return &Runner{
		Versions:        versions,
		Tasks:           tasks,
		NumWorkers:      numWorkers,
		WallClockBudget: wallClockBudget,
		queue:           make(chan string, 64),
		mu:              sync.Mutex{},
		cancels:         make(map[string]context.CancelFunc),
		startErr:        nil,
	}
}

// Start launches the worker pool; it blocks until ctx is cancelled and
// the queue drains. Run it in its own goroutine from cmd/server.
func (r *Runner) Start(ctx context.Context) []error {
	if r.NumWorkers <= 0 {
		r.NumWorkers = 1
	}
	if r.queue == nil {
		r.queue = make(chan string, 64)
	}
	if r.cancels == nil {
		r.cancels = make(map[string]context.CancelFunc)
	}

	pool := Pool[string]{}

	return pool.Start(ctx, r.queue, r.NumWorkers, r)
}

// Enqueue submits a pending job for dispatch. Submitting more than one
// non-terminal job per version is rejected upstream by
// versionstore.CreateJob, not here.
func (r *Runner) Enqueue(jobID string) {
	metrics.JobQueueDepth.Inc()
	r.queue <- jobID
}

// Cancel requests cooperative cancellation of a running job. It is a
// no-op if the job isn't currently running on this process (it already
// finished, or it belongs to a different server instance).
func (r *Runner) Cancel(jobID string) {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Work implements jobrunner.Worker[string]: it's the single per-worker
// loop the generic Pool drives.
func (r *Runner) Work(ctx context.Context, id int, wg *sync.WaitGroup, jobs <-chan string, errChan chan<- error) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-jobs:
			if !ok {
				return
			}
			metrics.JobQueueDepth.Dec()
			if err := r.runOne(ctx, jobID); err != nil {
				errChan <- err
			}
		}
	}
}

func (r *Runner) runOne(ctx context.Context, jobID string) error {
	job, err := r.Versions.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jobrunner: fetching job %q: %w", jobID, err)
	}

	task, ok := r.Tasks[domain.JobType(job.Type)]
	if !ok {
		return fmt.Errorf("jobrunner: no task registered for job type %q", job.Type)
	}

	metrics.JobsStartedTotal.WithLabelValues(job.Type).Inc()
	timer := metrics.NewTimer()

	jobCtx := ctx
	var cancel context.CancelFunc
	if r.WallClockBudget > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, r.WallClockBudget)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
		cancel()
	}()

	throttle := newProgressThrottle()
	report := func(percent int, message string) {
		if !throttle.allow(percent) {
			return
		}
		if err := r.Versions.UpdateJobProgress(ctx, jobID, percent, message); err != nil {
			slog.ErrorContext(ctx, "jobrunner: writing progress failed", "jobId", jobID, "error", err)
		}
	}

	taskErr := task(jobCtx, job, report)

	timer.ObserveDurationVec(metrics.JobDuration, job.Type)

	switch {
	case taskErr == nil:
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, "completed").Inc()

		return r.Versions.FinalizeJob(ctx, jobID, domain.JobStatusCompleted, "")
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		msg := apierror.New(apierror.CodeTimedOut, "job exceeded its wall-clock budget").Error()
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, "timed_out").Inc()

		return r.Versions.FinalizeJob(ctx, jobID, domain.JobStatusFailed, msg)
	case errors.Is(jobCtx.Err(), context.Canceled):
		msg := apierror.New(apierror.CodeCancelled, "job was cancelled").Error()
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, "cancelled").Inc()

		return r.Versions.FinalizeJob(ctx, jobID, domain.JobStatusFailed, msg)
	default:
		metrics.JobsFinishedTotal.WithLabelValues(job.Type, "failed").Inc()

		return r.Versions.FinalizeJob(ctx, jobID, domain.JobStatusFailed, taskErr.Error())
	}
}
