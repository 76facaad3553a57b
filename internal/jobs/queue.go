// internal/jobs/queue.go

// Package jobs is the task queue of the sync layer: a persisted job table,
// a worker pool draining it and a janitor keeping it healthy.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

// Job methods understood by the sync service.
const (
	MethodProcessNotification = "process_notification"
	MethodChangePrice         = "change_price"
	MethodRecomputeStocks     = "recompute_stocks_product"
	MethodRecomputePrices     = "recompute_prices_product"
	MethodAddToListing        = "add_to_listing"
	MethodImportOffers        = "import_offers"
	MethodRefreshPrice        = "refresh_price"
)

const (
	DefaultPriority    = 10
	DefaultMaxAttempts = 5
)

// Spec describes a job to enqueue. Description must be deterministic for the
// unit of work, it is what duplicate detection keys on.
type Spec struct {
	Description string
	Method      string
	Args        models.JSONB
	Priority    int
	NotBefore   time.Time
	MaxAttempts int
}

type Queue struct {
	store       store.JobStore
	now         func() time.Time
	maxAttempts int
}

func NewQueue(st store.JobStore) *Queue {
	return &Queue{store: st, now: time.Now, maxAttempts: DefaultMaxAttempts}
}

// WithMaxAttempts sets the attempt cap for jobs enqueued without one.
func (q *Queue) WithMaxAttempts(n int) *Queue {
	if n > 0 {
		q.maxAttempts = n
	}
	return q
}

// Enqueue stores a pending job, or returns the pending job that already
// carries the same description.
func (q *Queue) Enqueue(ctx context.Context, spec Spec) (*models.Job, error) {
	if spec.Description == "" || spec.Method == "" {
		return nil, errors.New("job description and method are required")
	}

	existing, err := q.store.PendingJobByDescription(ctx, spec.Description)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up pending job: %w", err)
	}

	job := &models.Job{
		Description: spec.Description,
		Method:      spec.Method,
		Args:        spec.Args,
		Priority:    spec.Priority,
		NotBefore:   spec.NotBefore,
		MaxAttempts: spec.MaxAttempts,
		State:       models.JobStatePending,
	}
	if job.Priority == 0 {
		job.Priority = DefaultPriority
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.maxAttempts
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = q.now()
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", spec.Description, err)
	}

	logrus.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"method":   job.Method,
		"priority": job.Priority,
	}).Debug("Job enqueued")
	return job, nil
}

// Requeue puts a job back to pending, due at notBefore.
func (q *Queue) Requeue(ctx context.Context, job *models.Job, notBefore time.Time) error {
	job.State = models.JobStatePending
	job.NotBefore = notBefore
	job.StartedAt = nil
	job.FinishedAt = nil
	if err := q.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return nil
}

// Description builds the deduplication key of a job acting on one record.
func Description(method string, id uuid.UUID) string {
	return method + ":" + id.String()
}

// UUIDArg reads a uuid argument of a job.
func UUIDArg(job *models.Job, key string) (uuid.UUID, error) {
	raw, ok := job.Args[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("job %s: missing %s argument", job.ID, key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job %s: invalid %s argument: %w", job.ID, key, err)
	}
	return id, nil
}
