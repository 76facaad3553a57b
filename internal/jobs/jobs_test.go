package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

type RunnerTestSuite struct {
	suite.Suite
	ctx    context.Context
	mem    *store.Memory
	queue  *Queue
	runner *Runner
	now    time.Time
}

func (s *RunnerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = store.NewMemory()
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.queue = NewQueue(s.mem)
	s.queue.now = func() time.Time { return s.now }

	s.runner = NewRunner(s.mem, RunnerOptions{Backoff: Backoff{Min: time.Minute, Max: time.Minute}})
	s.runner.now = func() time.Time { return s.now }
	s.runner.queue.now = s.runner.now
}

func (s *RunnerTestSuite) enqueue(method string) *models.Job {
	job, err := s.queue.Enqueue(s.ctx, Spec{Description: method + ":1", Method: method})
	s.Require().NoError(err)
	return job
}

func (s *RunnerTestSuite) only() models.Job {
	jobs := s.mem.Jobs()
	s.Require().Len(jobs, 1)
	return jobs[0]
}

func (s *RunnerTestSuite) TestEnqueueSuppressesDuplicates() {
	first := s.enqueue(MethodChangePrice)
	second := s.enqueue(MethodChangePrice)

	s.Equal(first.ID, second.ID)
	job := s.only()
	s.Equal(DefaultPriority, job.Priority)
	s.Equal(DefaultMaxAttempts, job.MaxAttempts)
	s.Equal(s.now, job.NotBefore)
}

func (s *RunnerTestSuite) TestEnqueueUsesQueueAttemptCap() {
	s.queue.WithMaxAttempts(2).WithMaxAttempts(0)
	job := s.enqueue(MethodRefreshPrice)
	s.Equal(2, job.MaxAttempts)

	explicit, err := s.queue.Enqueue(s.ctx, Spec{Description: "x:1", Method: MethodRefreshPrice, MaxAttempts: 9})
	s.Require().NoError(err)
	s.Equal(9, explicit.MaxAttempts)
}

func (s *RunnerTestSuite) TestEnqueueRequiresDescription() {
	_, err := s.queue.Enqueue(s.ctx, Spec{Method: MethodChangePrice})
	s.Error(err)
}

func (s *RunnerTestSuite) TestRunOnceDone() {
	var seen string
	s.runner.Register(MethodChangePrice, func(ctx context.Context, job *models.Job) error {
		seen = job.Description
		return nil
	})
	s.enqueue(MethodChangePrice)

	ran, err := s.runner.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.True(ran)
	s.Equal("change_price:1", seen)
	s.Equal(models.JobStateDone, s.only().State)

	ran, err = s.runner.RunOnce(s.ctx)
	s.NoError(err)
	s.False(ran)
}

func (s *RunnerTestSuite) TestRunOnceRespectsNotBefore() {
	_, err := s.queue.Enqueue(s.ctx, Spec{Description: "later", Method: MethodChangePrice, NotBefore: s.now.Add(time.Hour)})
	s.Require().NoError(err)

	ran, err := s.runner.RunOnce(s.ctx)
	s.NoError(err)
	s.False(ran)
}

func (s *RunnerTestSuite) TestThrottlingIsRetried() {
	s.runner.Register(MethodImportOffers, func(ctx context.Context, job *models.Job) error {
		return fmt.Errorf("import: %w", &marketplace.ThrottledError{Status: 429})
	})
	s.enqueue(MethodImportOffers)

	_, err := s.runner.RunOnce(s.ctx)
	s.Require().NoError(err)

	job := s.only()
	s.Equal(models.JobStatePending, job.State)
	s.Equal(1, job.Attempts)
	s.Equal(s.now.Add(time.Minute), job.NotBefore)
	s.Contains(job.LastError, "throttled")
}

func (s *RunnerTestSuite) TestRetriesStopAtMaxAttempts() {
	s.runner.Register(MethodImportOffers, func(ctx context.Context, job *models.Job) error {
		return &marketplace.ThrottledError{Status: 503}
	})
	_, err := s.queue.Enqueue(s.ctx, Spec{Description: "once", Method: MethodImportOffers, MaxAttempts: 1})
	s.Require().NoError(err)

	_, err = s.runner.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.JobStateFailed, s.only().State)
}

func (s *RunnerTestSuite) TestConfigurationErrorsFail() {
	s.runner.Register(MethodChangePrice, func(ctx context.Context, job *models.Job) error {
		return errors.New("no default shipping template")
	})
	s.enqueue(MethodChangePrice)

	_, err := s.runner.RunOnce(s.ctx)
	s.Require().NoError(err)

	job := s.only()
	s.Equal(models.JobStateFailed, job.State)
	s.NotNil(job.FinishedAt)
	s.Equal("no default shipping template", job.LastError)
}

func (s *RunnerTestSuite) TestUnknownMethodFails() {
	s.enqueue("nope")

	ran, err := s.runner.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.True(ran)
	s.Equal(models.JobStateFailed, s.only().State)
}

func (s *RunnerTestSuite) TestPanicFailsJob() {
	s.runner.Register(MethodChangePrice, func(ctx context.Context, job *models.Job) error {
		panic("boom")
	})
	s.enqueue(MethodChangePrice)

	_, err := s.runner.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Contains(s.only().LastError, "boom")
}

func (s *RunnerTestSuite) TestStartStop() {
	done := make(chan struct{})
	s.runner.now = time.Now
	s.runner.opts.PollInterval = 10 * time.Millisecond
	s.runner.Register(MethodChangePrice, func(ctx context.Context, job *models.Job) error {
		close(done)
		return nil
	})
	s.enqueue(MethodChangePrice)

	s.runner.Start(s.ctx)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("job never ran")
	}
	s.runner.Stop()
	s.Eventually(func() bool { return s.only().State == models.JobStateDone }, time.Second, 10*time.Millisecond)
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func TestClassify(t *testing.T) {
	b := Backoff{Min: 10 * time.Second, Max: 10 * time.Second}

	tests := []struct {
		name  string
		err   error
		retry bool
		after time.Duration
	}{
		{"nil", nil, false, 0},
		{"plain", errors.New("bad input"), false, 0},
		{"serialization", &pgconn.PgError{Code: "40001"}, true, 10 * time.Second},
		{"deadlock wrapped", fmt.Errorf("save: %w", &pgconn.PgError{Code: "40P01"}), true, 10 * time.Second},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, 0},
		{"serialization text", errors.New("ERROR: could not serialize access due to concurrent update"), true, 10 * time.Second},
		{"throttled", &marketplace.ThrottledError{Status: 429}, true, 10 * time.Second},
		{"throttled longer", &marketplace.ThrottledError{Status: 429, RetryAfter: time.Minute}, true, time.Minute},
		{"explicit", &RetryableError{Err: errors.New("x"), After: 3 * time.Second}, true, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, after := Classify(tt.err, b)
			assert.Equal(t, tt.retry, retry)
			assert.Equal(t, tt.after, after)
		})
	}
}

func TestBackoffStaysInWindow(t *testing.T) {
	b := Backoff{Min: time.Minute, Max: 5 * time.Minute}
	for i := 0; i < 100; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, b.Min)
		assert.Less(t, d, b.Max)
	}

	err := Retry(errors.New("conflict"), b)
	var r *RetryableError
	require.True(t, errors.As(err, &r))
	assert.GreaterOrEqual(t, r.After, b.Min)
}

func TestJanitor(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	long := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)

	hung := &models.Job{Description: "hung", Method: MethodChangePrice, State: models.JobStateStarted, StartedAt: &long}
	busy := &models.Job{Description: "busy", Method: MethodChangePrice, State: models.JobStateStarted, StartedAt: &recent}
	conflict := &models.Job{Description: "conflict", Method: MethodChangePrice, State: models.JobStateFailed, Attempts: 5,
		LastError: "ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"}
	broken := &models.Job{Description: "broken", Method: MethodChangePrice, State: models.JobStateFailed, LastError: "missing cost basis"}
	dupA := &models.Job{Description: "dup", Method: MethodChangePrice, State: models.JobStatePending}
	dupB := &models.Job{Description: "dup", Method: MethodChangePrice, State: models.JobStatePending}

	mem := store.NewMemory()
	mem.Seed(hung, busy, conflict, broken, dupA, dupB)

	j := NewJanitor(mem, 30*time.Minute)
	j.now = func() time.Time { return now }
	j.queue.now = j.now
	require.NoError(t, j.Run(ctx))

	states := map[string]models.JobState{}
	var dups int
	for _, job := range mem.Jobs() {
		if job.Description == "dup" {
			dups++
			assert.Equal(t, dupA.ID, job.ID)
			continue
		}
		states[job.Description] = job.State
		if job.Description == "conflict" {
			assert.Zero(t, job.Attempts)
		}
	}
	assert.Equal(t, 1, dups)
	assert.Equal(t, models.JobStatePending, states["hung"])
	assert.Equal(t, models.JobStateStarted, states["busy"])
	assert.Equal(t, models.JobStatePending, states["conflict"])
	assert.Equal(t, models.JobStateFailed, states["broken"])
}

type failingJobStore struct {
	store.JobStore
}

func (failingJobStore) StartedBefore(context.Context, time.Time) ([]models.Job, error) {
	return nil, errors.New("connection reset")
}

func TestJanitorRoutinesAreIsolated(t *testing.T) {
	mem := store.NewMemory()
	a := &models.Job{Description: "dup", Method: MethodChangePrice, State: models.JobStatePending}
	b := &models.Job{Description: "dup", Method: MethodChangePrice, State: models.JobStatePending}
	mem.Seed(a, b)

	j := NewJanitor(failingJobStore{JobStore: mem}, time.Minute)
	err := j.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "requeue_hung")
	assert.Len(t, mem.Jobs(), 1)
}

func TestUUIDArg(t *testing.T) {
	id := uuid.New()
	job := &models.Job{Args: models.JSONB{"listing_id": id.String(), "bad": "nope"}}

	got, err := UUIDArg(job, "listing_id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = UUIDArg(job, "bad")
	assert.Error(t, err)
	_, err = UUIDArg(job, "missing")
	assert.Error(t, err)

	assert.Equal(t, "change_price:"+id.String(), Description(MethodChangePrice, id))
}
