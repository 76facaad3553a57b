// internal/store/store.go

// Package store is the persistence boundary of the sync layer. Domain packages
// depend on the narrow interfaces below; GormStore backs them with Postgres and
// Memory backs them in tests and offline runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/marketsync/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Page selects a window of a listing query. Page is 1-based.
type Page struct {
	Page  int
	Limit int
}

func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

type CatalogStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetMarketplace(ctx context.Context, id uuid.UUID) (*models.Marketplace, error)
	FindMarketplace(ctx context.Context, accountID uuid.UUID, code string) (*models.Marketplace, error)
	ListMarketplaces(ctx context.Context, accountID uuid.UUID) ([]models.Marketplace, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	BomLines(ctx context.Context, parentID uuid.UUID) ([]models.BomLine, error)
	ParentBomLines(ctx context.Context, componentID uuid.UUID) ([]models.BomLine, error)
	Suppliers(ctx context.Context, productID uuid.UUID) ([]models.SupplierInfo, error)
	CreateSupplier(ctx context.Context, supplier *models.SupplierInfo) error
	// PurchaseLines returns the product's lines in the given state by planned date, earliest first.
	PurchaseLines(ctx context.Context, productID uuid.UUID, state models.PurchaseState) ([]models.PurchaseLine, error)
	BrandBanned(ctx context.Context, accountID uuid.UUID, brand string) (bool, error)
	GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error)
	SaveOperator(ctx context.Context, operator *models.Operator) error
}

type ListingStore interface {
	// GetListing loads the listing with its product and marketplace.
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	// ListingsForProduct returns the product's listings that are not retired.
	ListingsForProduct(ctx context.Context, productID uuid.UUID) ([]models.Listing, error)
	FindListingsByASIN(ctx context.Context, accountID uuid.UUID, marketplaceCode, asin string) ([]models.Listing, error)
	ListListings(ctx context.Context, accountID uuid.UUID, page Page) ([]models.Listing, int64, error)
	CreateListing(ctx context.Context, listing *models.Listing) error
	SaveListing(ctx context.Context, listing *models.Listing) error
}

type OfferStore interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*models.OfferNotification, error)
	NotificationsByID(ctx context.Context, notificationID string) ([]models.OfferNotification, error)
	CreateNotification(ctx context.Context, n *models.OfferNotification) error
	SaveNotification(ctx context.Context, n *models.OfferNotification) error
	DeleteNotifications(ctx context.Context, ids []uuid.UUID) error
	SnapshotExists(ctx context.Context, listingID uuid.UUID, offerDate time.Time) (bool, error)
	CreateSnapshot(ctx context.Context, snapshot *models.OfferSnapshot) error
	// LatestSnapshots returns up to limit snapshots with their offers, newest first.
	LatestSnapshots(ctx context.Context, listingID uuid.UUID, limit int) ([]models.OfferSnapshot, error)
	LiveOffers(ctx context.Context, listingID uuid.UUID) ([]models.Offer, error)
	ReplaceLiveOffers(ctx context.Context, listingID uuid.UUID, offers []models.Offer) error
}

type FeedStore interface {
	CreateFeedRequest(ctx context.Context, req *models.FeedRequest) error
	// PendingFeedRequests returns unlaunched requests, oldest first.
	PendingFeedRequests(ctx context.Context, limit int) ([]models.FeedRequest, error)
	MarkFeedRequestsLaunched(ctx context.Context, ids []uuid.UUID, feedID string, at time.Time) error
	ListFeedRequests(ctx context.Context, launched *bool, page Page) ([]models.FeedRequest, int64, error)
	CreateProductToCreate(ctx context.Context, report *models.ProductToCreate) error
	DeleteProductToCreate(ctx context.Context, productID uuid.UUID) error
	ProductsToCreate(ctx context.Context, accountID uuid.UUID) ([]models.ProductToCreate, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	PendingJobByDescription(ctx context.Context, description string) (*models.Job, error)
	// ClaimNextJob moves the most urgent due pending job to started and returns it.
	ClaimNextJob(ctx context.Context, now time.Time) (*models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, state models.JobState, page Page) ([]models.Job, int64, error)
	StartedBefore(ctx context.Context, t time.Time) ([]models.Job, error)
	FailedJobs(ctx context.Context) ([]models.Job, error)
	// PendingJobs returns pending jobs, oldest first.
	PendingJobs(ctx context.Context) ([]models.Job, error)
	DeleteJobs(ctx context.Context, ids []uuid.UUID) error
}

type Store interface {
	CatalogStore
	ListingStore
	OfferStore
	FeedStore
	JobStore

	// Transaction runs fn against a store bound to one transaction.
	Transaction(ctx context.Context, fn func(Store) error) error
}
