// internal/jobs/errors.go
package jobs

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/javajoker/marketsync/internal/marketplace"
)

// RetryableError asks the runner to try the job again after After.
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.After, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Backoff is the window retry delays are drawn from.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

var DefaultBackoff = Backoff{Min: time.Minute, Max: 5 * time.Minute}

// Next draws a delay uniformly from the window so competing retries spread out.
func (b Backoff) Next() time.Duration {
	if b.Max <= b.Min {
		return b.Min
	}
	return b.Min + time.Duration(rand.Int63n(int64(b.Max-b.Min)))
}

// Retry wraps err as retryable with a delay drawn from b.
func Retry(err error, b Backoff) error {
	return &RetryableError{Err: err, After: b.Next()}
}

// Postgres SQLSTATE codes for conflicts between concurrent transactions.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

var conflictMessages = []string{
	"could not serialize access",
	"deadlock detected",
}

// IsConcurrencyConflict reports whether err comes from a serialization
// failure or a deadlock between transactions.
func IsConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return conflictMessage(err.Error())
}

func conflictMessage(msg string) bool {
	for _, m := range conflictMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Classify decides whether a failed job is retried, and when.
func Classify(err error, b Backoff) (retry bool, after time.Duration) {
	if err == nil {
		return false, 0
	}

	var r *RetryableError
	if errors.As(err, &r) {
		return true, r.After
	}

	var throttled *marketplace.ThrottledError
	if errors.As(err, &throttled) {
		after = b.Next()
		if throttled.RetryAfter > after {
			after = throttled.RetryAfter
		}
		return true, after
	}

	if IsConcurrencyConflict(err) {
		return true, b.Next()
	}
	return false, 0
}
