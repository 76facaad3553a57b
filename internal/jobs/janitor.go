// internal/jobs/janitor.go
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/store"
)

// Janitor repairs the job table: hung jobs, jobs killed by a concurrency
// conflict and duplicate pending jobs.
type Janitor struct {
	store     store.JobStore
	queue     *Queue
	hungAfter time.Duration
	now       func() time.Time
}

func NewJanitor(st store.JobStore, hungAfter time.Duration) *Janitor {
	if hungAfter <= 0 {
		hungAfter = 30 * time.Minute
	}
	return &Janitor{store: st, queue: NewQueue(st), hungAfter: hungAfter, now: time.Now}
}

// Run executes every routine. A failing routine is logged and does not stop
// the others; the joined errors are returned.
func (j *Janitor) Run(ctx context.Context) error {
	routines := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"requeue_hung", j.RequeueHung},
		{"requeue_conflicts", j.RequeueConflicts},
		{"dedup_pending", j.DedupPending},
	}

	var errs []error
	for _, r := range routines {
		n, err := r.fn(ctx)
		log := logrus.WithField("routine", r.name)
		if err != nil {
			log.WithError(err).Error("Janitor routine failed")
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		if n > 0 {
			log.WithField("count", n).Info("Janitor routine done")
		}
	}
	return errors.Join(errs...)
}

// RequeueHung puts back jobs started longer than the hung threshold ago.
func (j *Janitor) RequeueHung(ctx context.Context) (int, error) {
	now := j.now()
	hung, err := j.store.StartedBefore(ctx, now.Add(-j.hungAfter))
	if err != nil {
		return 0, err
	}
	for i := range hung {
		if err := j.queue.Requeue(ctx, &hung[i], now); err != nil {
			return i, err
		}
	}
	return len(hung), nil
}

// RequeueConflicts gives failed jobs whose last error was a concurrency
// conflict a fresh set of attempts.
func (j *Janitor) RequeueConflicts(ctx context.Context) (int, error) {
	failed, err := j.store.FailedJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range failed {
		if !conflictMessage(failed[i].LastError) {
			continue
		}
		failed[i].Attempts = 0
		if err := j.queue.Requeue(ctx, &failed[i], j.now()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DedupPending deletes pending jobs sharing a description, keeping the oldest.
func (j *Janitor) DedupPending(ctx context.Context) (int, error) {
	pending, err := j.store.PendingJobs(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(pending))
	var drop []uuid.UUID
	for _, job := range pending {
		if seen[job.Description] {
			drop = append(drop, job.ID)
			continue
		}
		seen[job.Description] = true
	}
	if len(drop) == 0 {
		return 0, nil
	}
	if err := j.store.DeleteJobs(ctx, drop); err != nil {
		return 0, err
	}
	return len(drop), nil
}
