// internal/services/sync_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/feeds"
	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/listing"
	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/notifications"
	"github.com/javajoker/marketsync/internal/offers"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/repricing"
	"github.com/javajoker/marketsync/internal/stock"
	"github.com/javajoker/marketsync/internal/store"
)

type SyncOptions struct {
	DefaultFeePercent float64
	CosineThreshold   float64
	FeedBatchSize     int
	MaxJobAttempts    int
}

// SyncService owns the domain services and the job handlers that drive them.
type SyncService struct {
	store         store.Store
	adapter       marketplace.Adapter
	queue         *jobs.Queue
	propagator    *stock.Propagator
	reconciler    *offers.Reconciler
	engine        *repricing.Engine
	listings      *listing.Service
	notifications *notifications.Service
	exporter      *feeds.Exporter
}

func NewSyncService(st store.Store, rules pricing.RulesProvider, adapter marketplace.Adapter, archiver feeds.Archiver, opts SyncOptions) *SyncService {
	fee := decimal.NewFromFloat(opts.DefaultFeePercent)
	if fee.IsZero() {
		fee = decimal.NewFromInt(pricing.DefaultFeePercent)
	}
	queue := jobs.NewQueue(st).WithMaxAttempts(opts.MaxJobAttempts)
	prop := stock.NewPropagator(st, nil)
	calc := pricing.NewCalculator(rules)

	listings := listing.NewService(st, prop, calc, adapter, queue, listing.Options{
		DefaultFeePercent: fee,
		CosineThreshold:   opts.CosineThreshold,
	})

	return &SyncService{
		store:         st,
		adapter:       adapter,
		queue:         queue,
		propagator:    prop,
		reconciler:    offers.NewReconciler(st),
		engine:        repricing.NewEngine(st, prop, calc, listings, fee),
		listings:      listings,
		notifications: notifications.NewService(st, queue),
		exporter:      feeds.NewExporter(st, adapter, archiver, opts.FeedBatchSize),
	}
}

func (s *SyncService) Queue() *jobs.Queue { return s.queue }
func (s *SyncService) Listings() *listing.Service { return s.listings }
func (s *SyncService) Repricing() *repricing.Engine { return s.engine }
func (s *SyncService) Reconciler() *offers.Reconciler { return s.reconciler }
func (s *SyncService) Notifications() *notifications.Service { return s.notifications }
func (s *SyncService) Exporter() *feeds.Exporter { return s.exporter }
func (s *SyncService) Store() store.Store { return s.store }

// PropagatePrices reprices every listing of the products related to productID.
// A failing listing does not stop the others.
func (s *SyncService) PropagatePrices(ctx context.Context, productID uuid.UUID) (int, error) {
	related, err := s.propagator.RelatedProducts(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to walk related products: %w", err)
	}

	var errs []error
	changed := 0
	for _, id := range related {
		listings, err := s.store.ListingsForProduct(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load listings of product %s: %w", id, err))
			continue
		}
		for _, l := range listings {
			decision, err := s.engine.Reprice(ctx, l.ID, false)
			if err != nil {
				logrus.WithError(err).WithField("listing_id", l.ID).Warn("Repricing failed")
				errs = append(errs, fmt.Errorf("listing %s: %w", l.ID, err))
				continue
			}
			if decision.Outcome == repricing.OutcomeChanged {
				changed++
			}
		}
	}
	return changed, errors.Join(errs...)
}

// PollOffers asks the marketplace for the listing's current offers and feeds
// the answer through the notification intake.
func (s *SyncService) PollOffers(ctx context.Context, listingID uuid.UUID) (int, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return 0, fmt.Errorf("failed to load listing: %w", err)
	}
	if l.Retired() || l.ASIN == "" || l.Marketplace == nil {
		return 0, nil
	}

	docs, err := s.adapter.GetOffers(ctx, l.Marketplace.Code, []string{l.ASIN})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch offers: %w", err)
	}
	for _, doc := range docs {
		if _, err := s.notifications.Ingest(ctx, l.AccountID, "", doc); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}

// RegisterHandlers binds every job method to the runner.
func (s *SyncService) RegisterHandlers(r *jobs.Runner) {
	r.Register(jobs.MethodProcessNotification, s.handleProcessNotification)
	r.Register(jobs.MethodChangePrice, s.handleChangePrice)
	r.Register(jobs.MethodRecomputeStocks, s.handleRecomputeStocks)
	r.Register(jobs.MethodRecomputePrices, s.handleRecomputePrices)
	r.Register(jobs.MethodAddToListing, s.handleAddToListing)
	r.Register(jobs.MethodImportOffers, s.handleImportOffers)
	r.Register(jobs.MethodRefreshPrice, s.handleRefreshPrice)
}

func (s *SyncService) handleProcessNotification(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "notification_id")
	if err != nil {
		return err
	}
	result, err := s.reconciler.Process(ctx, id)
	if err != nil {
		return err
	}
	for _, listingID := range result.Listings {
		_, err := s.queue.Enqueue(ctx, jobs.Spec{
			Description: jobs.Description(jobs.MethodChangePrice, listingID),
			Method:      jobs.MethodChangePrice,
			Args:        models.JSONB{"listing_id": listingID.String()},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) handleChangePrice(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "listing_id")
	if err != nil {
		return err
	}
	decision, err := s.engine.Reprice(ctx, id, false)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"listing_id": id,
		"outcome":    decision.Outcome,
		"strategy":   decision.Strategy,
		"new_price":  decision.NewPrice.String(),
	}).Debug("Repriced listing")
	return nil
}

func (s *SyncService) handleRecomputeStocks(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "product_id")
	if err != nil {
		return err
	}
	if _, err := s.listings.PropagateStock(ctx, id); err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, jobs.Spec{
		Description: jobs.Description(jobs.MethodRecomputePrices, id),
		Method:      jobs.MethodRecomputePrices,
		Args:        models.JSONB{"product_id": id.String()},
	})
	return err
}

func (s *SyncService) handleRecomputePrices(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "product_id")
	if err != nil {
		return err
	}
	_, err = s.PropagatePrices(ctx, id)
	return err
}

func (s *SyncService) handleAddToListing(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "product_id")
	if err != nil {
		return err
	}
	_, err = s.listings.CreateListingRequest(ctx, listing.ListingRequest{
		ProductID:              id,
		RequireTitleSimilarity: true,
	})
	return err
}

func (s *SyncService) handleImportOffers(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "listing_id")
	if err != nil {
		return err
	}
	_, err = s.PollOffers(ctx, id)
	return err
}

func (s *SyncService) handleRefreshPrice(ctx context.Context, job *models.Job) error {
	id, err := jobs.UUIDArg(job, "listing_id")
	if err != nil {
		return err
	}
	_, err = s.listings.RefreshPrice(ctx, id)
	return err
}
