// internal/jobs/runner.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

// Handler runs one job. Returning an error the runner classifies as
// retryable puts the job back in the queue.
type Handler func(ctx context.Context, job *models.Job) error

type RunnerOptions struct {
	Workers      int
	PollInterval time.Duration
	Backoff      Backoff
}

// Runner claims due jobs and runs them on a fixed pool of workers.
type Runner struct {
	store    store.JobStore
	queue    *Queue
	opts     RunnerOptions
	now      func() time.Time
	handlers map[string]Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(st store.JobStore, opts RunnerOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	return &Runner{
		store:    st,
		queue:    NewQueue(st),
		opts:     opts,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job method. It must be called before Start.
func (r *Runner) Register(method string, h Handler) {
	r.handlers[method] = h
}

// Start launches the workers in the background.
func (r *Runner) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	logrus.WithField("workers", r.opts.Workers).Info("Job runner started")
}

// Stop cancels the workers and waits for running jobs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	t := time.NewTicker(r.opts.PollInterval)
	defer t.Stop()
	for {
		// Drain everything due before sleeping again.
		for {
			ran, err := r.RunOnce(ctx)
			if err != nil {
				logrus.WithError(err).WithField("worker", id).Error("Job runner error")
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce claims the most urgent due job and runs it. It reports whether a
// job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.store.ClaimNextJob(ctx, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"method":  job.Method,
		"attempt": job.Attempts,
	})

	h, ok := r.handlers[job.Method]
	if !ok {
		return true, r.finish(ctx, job, models.JobStateFailed, fmt.Errorf("no handler for method %q", job.Method))
	}

	runErr := r.run(ctx, h, job)
	if runErr == nil {
		log.Debug("Job done")
		return true, r.finish(ctx, job, models.JobStateDone, nil)
	}

	retry, after := Classify(runErr, r.opts.Backoff)
	if retry && job.Attempts < job.MaxAttempts {
		log.WithError(runErr).WithField("retry_in", after).Warn("Job failed, retrying")
		job.LastError = runErr.Error()
		return true, r.queue.Requeue(ctx, job, r.now().Add(after))
	}

	log.WithError(runErr).Error("Job failed")
	return true, r.finish(ctx, job, models.JobStateFailed, runErr)
}

func (r *Runner) run(ctx context.Context, h Handler, job *models.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return h(ctx, job)
}

func (r *Runner) finish(ctx context.Context, job *models.Job, state models.JobState, runErr error) error {
	now := r.now()
	job.State = state
	job.FinishedAt = &now
	if runErr != nil {
		job.LastError = runErr.Error()
	}
	if err := r.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}
