// internal/store/gorm.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/marketsync/internal/database"
	"github.com/javajoker/marketsync/internal/models"
)

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Catalog

func (s *GormStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (s *GormStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (s *GormStore) GetMarketplace(ctx context.Context, id uuid.UUID) (*models.Marketplace, error) {
	var m models.Marketplace
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *GormStore) FindMarketplace(ctx context.Context, accountID uuid.UUID, code string) (*models.Marketplace, error) {
	var m models.Marketplace
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND code = ?", accountID, code).
		First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *GormStore) ListMarketplaces(ctx context.Context, accountID uuid.UUID) ([]models.Marketplace, error) {
	var ms []models.Marketplace
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("code asc").
		Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list marketplaces: %w", err)
	}
	return ms, nil
}

func (s *GormStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) BomLines(ctx context.Context, parentID uuid.UUID) ([]models.BomLine, error) {
	var lines []models.BomLine
	if err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at asc").
		Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load bom lines: %w", err)
	}
	return lines, nil
}

func (s *GormStore) ParentBomLines(ctx context.Context, componentID uuid.UUID) ([]models.BomLine, error) {
	var lines []models.BomLine
	if err := s.db.WithContext(ctx).
		Where("component_id = ?", componentID).
		Order("created_at asc").
		Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load parent bom lines: %w", err)
	}
	return lines, nil
}

func (s *GormStore) Suppliers(ctx context.Context, productID uuid.UUID) ([]models.SupplierInfo, error) {
	var suppliers []models.SupplierInfo
	if err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("price asc").
		Find(&suppliers).Error; err != nil {
		return nil, fmt.Errorf("failed to load suppliers: %w", err)
	}
	return suppliers, nil
}

func (s *GormStore) CreateSupplier(ctx context.Context, supplier *models.SupplierInfo) error {
	return s.db.WithContext(ctx).Create(supplier).Error
}

func (s *GormStore) PurchaseLines(ctx context.Context, productID uuid.UUID, state models.PurchaseState) ([]models.PurchaseLine, error) {
	var lines []models.PurchaseLine
	if err := s.db.WithContext(ctx).
		Where("product_id = ? AND state = ?", productID, state).
		Order("date_planned asc").
		Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load purchase lines: %w", err)
	}
	return lines, nil
}

func (s *GormStore) BrandBanned(ctx context.Context, accountID uuid.UUID, brand string) (bool, error) {
	if strings.TrimSpace(brand) == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.BrandBan{}).
		Where("account_id = ? AND lower(brand) = lower(?)", accountID, brand).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check brand ban: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&op).Error; err != nil {
		return nil, translate(err)
	}
	return &op, nil
}

func (s *GormStore) SaveOperator(ctx context.Context, operator *models.Operator) error {
	return s.db.WithContext(ctx).Save(operator).Error
}

// Listings

func (s *GormStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	if err := s.db.WithContext(ctx).
		Preload("Product").
		Preload("Marketplace").
		First(&l, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (s *GormStore) ListingsForProduct(ctx context.Context, productID uuid.UUID) ([]models.Listing, error) {
	var listings []models.Listing
	if err := s.db.WithContext(ctx).
		Preload("Product").
		Preload("Marketplace").
		Where("product_id = ? AND status <> ?", productID, models.ListingStatusRetired).
		Order("created_at asc").
		Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}
	return listings, nil
}

func (s *GormStore) FindListingsByASIN(ctx context.Context, accountID uuid.UUID, marketplaceCode, asin string) ([]models.Listing, error) {
	var listings []models.Listing
	if err := s.db.WithContext(ctx).
		Preload("Product").
		Preload("Marketplace").
		Joins("JOIN marketplaces ON marketplaces.id = listings.marketplace_id").
		Where("listings.account_id = ? AND listings.asin = ? AND marketplaces.code = ? AND listings.status <> ?",
			accountID, asin, marketplaceCode, models.ListingStatusRetired).
		Order("listings.created_at asc").
		Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to match listings: %w", err)
	}
	return listings, nil
}

func (s *GormStore) ListListings(ctx context.Context, accountID uuid.UUID, page Page) ([]models.Listing, int64, error) {
	var (
		listings []models.Listing
		total    int64
	)
	query := s.db.WithContext(ctx).Model(&models.Listing{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}
	if err := query.Order("created_at desc").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&listings).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, total, nil
}

func (s *GormStore) CreateListing(ctx context.Context, listing *models.Listing) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(listing).Error
}

func (s *GormStore) SaveListing(ctx context.Context, listing *models.Listing) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Save(listing).Error
}

// Offers

func (s *GormStore) GetNotification(ctx context.Context, id uuid.UUID) (*models.OfferNotification, error) {
	var n models.OfferNotification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &n, nil
}

func (s *GormStore) NotificationsByID(ctx context.Context, notificationID string) ([]models.OfferNotification, error) {
	var ns []models.OfferNotification
	if err := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at asc").
		Find(&ns).Error; err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	return ns, nil
}

func (s *GormStore) CreateNotification(ctx context.Context, n *models.OfferNotification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *GormStore) SaveNotification(ctx context.Context, n *models.OfferNotification) error {
	return s.db.WithContext(ctx).Save(n).Error
}

func (s *GormStore) DeleteNotifications(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.OfferNotification{}).Error
}

func (s *GormStore) SnapshotExists(ctx context.Context, listingID uuid.UUID, offerDate time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.OfferSnapshot{}).
		Where("listing_id = ? AND offer_date = ?", listingID, offerDate).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up snapshot: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) CreateSnapshot(ctx context.Context, snapshot *models.OfferSnapshot) error {
	return s.db.WithContext(ctx).Create(snapshot).Error
}

func (s *GormStore) LatestSnapshots(ctx context.Context, listingID uuid.UUID, limit int) ([]models.OfferSnapshot, error) {
	var snapshots []models.OfferSnapshot
	if err := s.db.WithContext(ctx).
		Preload("Offers").
		Where("listing_id = ?", listingID).
		Order("offer_date desc").
		Limit(limit).
		Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	return snapshots, nil
}

func (s *GormStore) LiveOffers(ctx context.Context, listingID uuid.UUID) ([]models.Offer, error) {
	var offers []models.Offer
	if err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("price asc").
		Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("failed to load live offers: %w", err)
	}
	return offers, nil
}

func (s *GormStore) ReplaceLiveOffers(ctx context.Context, listingID uuid.UUID, offers []models.Offer) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("listing_id = ?", listingID).Delete(&models.Offer{}).Error; err != nil {
			return fmt.Errorf("failed to drop live offers: %w", err)
		}
		if len(offers) == 0 {
			return nil
		}
		return tx.Create(&offers).Error
	})
}

// Feeds

func (s *GormStore) CreateFeedRequest(ctx context.Context, req *models.FeedRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

func (s *GormStore) PendingFeedRequests(ctx context.Context, limit int) ([]models.FeedRequest, error) {
	var reqs []models.FeedRequest
	if err := s.db.WithContext(ctx).
		Where("launched = ?", false).
		Order("created_at asc").
		Limit(limit).
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending feed requests: %w", err)
	}
	return reqs, nil
}

func (s *GormStore) MarkFeedRequestsLaunched(ctx context.Context, ids []uuid.UUID, feedID string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.FeedRequest{}).
		Where("id IN ? AND launched = ?", ids, false).
		Updates(map[string]interface{}{
			"launched":    true,
			"launched_at": at,
			"feed_id":     feedID,
		}).Error
}

func (s *GormStore) ListFeedRequests(ctx context.Context, launched *bool, page Page) ([]models.FeedRequest, int64, error) {
	var (
		reqs  []models.FeedRequest
		total int64
	)
	query := s.db.WithContext(ctx).Model(&models.FeedRequest{})
	if launched != nil {
		query = query.Where("launched = ?", *launched)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count feed requests: %w", err)
	}
	if err := query.Order("created_at desc").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&reqs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list feed requests: %w", err)
	}
	return reqs, total, nil
}

func (s *GormStore) CreateProductToCreate(ctx context.Context, report *models.ProductToCreate) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s *GormStore) DeleteProductToCreate(ctx context.Context, productID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("product_id = ?", productID).Delete(&models.ProductToCreate{}).Error
}

func (s *GormStore) ProductsToCreate(ctx context.Context, accountID uuid.UUID) ([]models.ProductToCreate, error) {
	var reports []models.ProductToCreate
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc").
		Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to load products to create: %w", err)
	}
	return reports, nil
}

// Jobs

func (s *GormStore) CreateJob(ctx context.Context, job *models.Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *GormStore) PendingJobByDescription(ctx context.Context, description string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).
		Where("description = ? AND state = ?", description, models.JobStatePending).
		Order("created_at asc").
		First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *GormStore) ClaimNextJob(ctx context.Context, now time.Time) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND not_before <= ?", models.JobStatePending, now).
			Order("priority asc, not_before asc, created_at asc").
			First(&job).Error; err != nil {
			return err
		}
		job.State = models.JobStateStarted
		job.Attempts++
		job.StartedAt = &now
		return tx.Save(&job).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *GormStore) SaveJob(ctx context.Context, job *models.Job) error {
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *GormStore) ListJobs(ctx context.Context, state models.JobState, page Page) ([]models.Job, int64, error) {
	var (
		jobs  []models.Job
		total int64
	)
	query := s.db.WithContext(ctx).Model(&models.Job{})
	if state != "" {
		query = query.Where("state = ?", state)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	if err := query.Order("created_at desc").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *GormStore) StartedBefore(ctx context.Context, t time.Time) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).
		Where("state = ? AND started_at < ?", models.JobStateStarted, t).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load started jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) FailedJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).
		Where("state = ?", models.JobStateFailed).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load failed jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) PendingJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).
		Where("state = ?", models.JobStatePending).
		Order("created_at asc").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending jobs: %w", err)
	}
	return jobs, nil
}

func (s *GormStore) DeleteJobs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Job{}).Error
}
