// internal/listing/events.go
package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/models"
)

type EventKind string

const (
	EventPriceChanged        EventKind = "price_changed"
	EventStockChanged        EventKind = "stock_changed"
	EventMarginConfigChanged EventKind = "margin_config_changed"
	EventProductStockChanged EventKind = "product_stock_changed"
)

// Event is a side effect requested by a write. Writes return events instead of
// triggering work themselves; the Dispatcher turns them into feeds and jobs.
type Event struct {
	Kind      EventKind
	ListingID uuid.UUID
	ProductID uuid.UUID
}

// Priority of stock recomputation jobs, ahead of the default.
const stockPriority = 5

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec jobs.Spec) (*models.Job, error)
}

type Dispatcher struct {
	service *Service
	queue   Enqueuer
}

// Dispatch handles every event once. Price and stock changes of the same
// listing collapse into a single feed request.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) error {
	var errs []error
	fed := make(map[uuid.UUID]bool)
	queued := make(map[string]bool)

	enqueue := func(spec jobs.Spec) {
		if queued[spec.Description] {
			return
		}
		queued[spec.Description] = true
		if _, err := d.queue.Enqueue(ctx, spec); err != nil {
			errs = append(errs, err)
		}
	}

	for _, ev := range events {
		switch ev.Kind {
		case EventPriceChanged, EventStockChanged:
			if fed[ev.ListingID] {
				continue
			}
			fed[ev.ListingID] = true
			if err := d.service.OnPriceOrStockChange(ctx, ev.ListingID); err != nil {
				errs = append(errs, fmt.Errorf("listing %s: %w", ev.ListingID, err))
			}
		case EventMarginConfigChanged:
			enqueue(jobs.Spec{
				Description: jobs.Description(jobs.MethodChangePrice, ev.ListingID),
				Method:      jobs.MethodChangePrice,
				Args:        models.JSONB{"listing_id": ev.ListingID.String()},
			})
		case EventProductStockChanged:
			enqueue(jobs.Spec{
				Description: jobs.Description(jobs.MethodRecomputeStocks, ev.ProductID),
				Method:      jobs.MethodRecomputeStocks,
				Args:        models.JSONB{"product_id": ev.ProductID.String()},
				Priority:    stockPriority,
			})
		default:
			logrus.WithField("kind", ev.Kind).Warn("Unknown listing event")
		}
	}
	return errors.Join(errs...)
}
