// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/marketsync/internal/models"
)

// Memory is a process-local Store. Records keep insertion order, which stands
// in for creation-time ordering. Transaction gives no isolation or rollback.
type Memory struct {
	mu sync.RWMutex

	accounts      []models.Account
	marketplaces  []models.Marketplace
	products      []models.Product
	bomLines      []models.BomLine
	suppliers     []models.SupplierInfo
	purchases     []models.PurchaseLine
	bans          []models.BrandBan
	operators     []models.Operator
	listings      []models.Listing
	notifications []models.OfferNotification
	snapshots     []models.OfferSnapshot
	offers        []models.Offer
	feeds         []models.FeedRequest
	reports       []models.ProductToCreate
	jobs          []models.Job
}

func NewMemory() *Memory {
	return &Memory{}
}

func stamp(b *models.BaseModel) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Seed inserts records of any supported model type.
func (m *Memory) Seed(records ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		switch v := r.(type) {
		case *models.Account:
			stamp(&v.BaseModel)
			m.accounts = append(m.accounts, *v)
		case *models.Marketplace:
			stamp(&v.BaseModel)
			m.marketplaces = append(m.marketplaces, *v)
		case *models.Product:
			stamp(&v.BaseModel)
			p := *v
			p.BomLines, p.Suppliers, p.Listings = nil, nil, nil
			m.products = append(m.products, p)
		case *models.BomLine:
			stamp(&v.BaseModel)
			m.bomLines = append(m.bomLines, *v)
		case *models.SupplierInfo:
			stamp(&v.BaseModel)
			m.suppliers = append(m.suppliers, *v)
		case *models.PurchaseLine:
			stamp(&v.BaseModel)
			m.purchases = append(m.purchases, *v)
		case *models.BrandBan:
			stamp(&v.BaseModel)
			m.bans = append(m.bans, *v)
		case *models.Operator:
			stamp(&v.BaseModel)
			m.operators = append(m.operators, *v)
		case *models.Listing:
			stamp(&v.BaseModel)
			m.listings = append(m.listings, bareListing(*v))
		case *models.OfferSnapshot:
			stampSnapshot(v)
			m.snapshots = append(m.snapshots, copySnapshot(*v))
		case *models.Job:
			stamp(&v.BaseModel)
			m.jobs = append(m.jobs, *v)
		default:
			panic(fmt.Sprintf("store: cannot seed %T", r))
		}
	}
}

func (m *Memory) Transaction(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func bareListing(l models.Listing) models.Listing {
	l.Product, l.Marketplace, l.Offers = nil, nil, nil
	return l
}

func copySnapshot(s models.OfferSnapshot) models.OfferSnapshot {
	offers := make([]models.SnapshotOffer, len(s.Offers))
	copy(offers, s.Offers)
	s.Offers = offers
	return s
}

func stampSnapshot(s *models.OfferSnapshot) {
	stamp(&s.BaseModel)
	for i := range s.Offers {
		stamp(&s.Offers[i].BaseModel)
		s.Offers[i].SnapshotID = s.ID
	}
}

// Catalog

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Account(nil), m.accounts...), nil
}

func (m *Memory) GetMarketplace(ctx context.Context, id uuid.UUID) (*models.Marketplace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marketplace(id)
}

func (m *Memory) marketplace(id uuid.UUID) (*models.Marketplace, error) {
	for _, mk := range m.marketplaces {
		if mk.ID == id {
			return &mk, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindMarketplace(ctx context.Context, accountID uuid.UUID, code string) (*models.Marketplace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mk := range m.marketplaces {
		if mk.AccountID == accountID && mk.Code == code {
			return &mk, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListMarketplaces(ctx context.Context, accountID uuid.UUID) ([]models.Marketplace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Marketplace
	for _, mk := range m.marketplaces {
		if mk.AccountID == accountID {
			out = append(out, mk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.product(id)
}

func (m *Memory) product(id uuid.UUID) (*models.Product, error) {
	for _, p := range m.products {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) BomLines(ctx context.Context, parentID uuid.UUID) ([]models.BomLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.BomLine
	for _, l := range m.bomLines {
		if l.ParentID == parentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) ParentBomLines(ctx context.Context, componentID uuid.UUID) ([]models.BomLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.BomLine
	for _, l := range m.bomLines {
		if l.ComponentID == componentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) Suppliers(ctx context.Context, productID uuid.UUID) ([]models.SupplierInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SupplierInfo
	for _, s := range m.suppliers {
		if s.ProductID == productID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (m *Memory) CreateSupplier(ctx context.Context, supplier *models.SupplierInfo) error {
	m.Seed(supplier)
	return nil
}

func (m *Memory) PurchaseLines(ctx context.Context, productID uuid.UUID, state models.PurchaseState) ([]models.PurchaseLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PurchaseLine
	for _, l := range m.purchases {
		if l.ProductID == productID && l.State == state {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DatePlanned.Before(out[j].DatePlanned) })
	return out, nil
}

func (m *Memory) BrandBanned(ctx context.Context, accountID uuid.UUID, brand string) (bool, error) {
	if strings.TrimSpace(brand) == "" {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bans {
		if b.AccountID == accountID && strings.EqualFold(b.Brand, brand) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.operators {
		if o.Username == username {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SaveOperator(ctx context.Context, operator *models.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&operator.BaseModel)
	for i := range m.operators {
		if m.operators[i].ID == operator.ID {
			m.operators[i] = *operator
			return nil
		}
	}
	m.operators = append(m.operators, *operator)
	return nil
}

// Listings

func (m *Memory) hydrate(l models.Listing) models.Listing {
	if p, err := m.product(l.ProductID); err == nil {
		l.Product = p
	}
	if mk, err := m.marketplace(l.MarketplaceID); err == nil {
		l.Marketplace = mk
	}
	return l
}

func (m *Memory) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listings {
		if l.ID == id {
			out := m.hydrate(l)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListingsForProduct(ctx context.Context, productID uuid.UUID) ([]models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Listing
	for _, l := range m.listings {
		if l.ProductID == productID && !l.Retired() {
			out = append(out, m.hydrate(l))
		}
	}
	return out, nil
}

func (m *Memory) FindListingsByASIN(ctx context.Context, accountID uuid.UUID, marketplaceCode, asin string) ([]models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Listing
	for _, l := range m.listings {
		if l.AccountID != accountID || l.ASIN != asin || l.Retired() {
			continue
		}
		mk, err := m.marketplace(l.MarketplaceID)
		if err != nil || mk.Code != marketplaceCode {
			continue
		}
		out = append(out, m.hydrate(l))
	}
	return out, nil
}

func (m *Memory) ListListings(ctx context.Context, accountID uuid.UUID, page Page) ([]models.Listing, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []models.Listing
	for i := len(m.listings) - 1; i >= 0; i-- {
		if m.listings[i].AccountID == accountID {
			all = append(all, m.listings[i])
		}
	}
	return window(all, page), int64(len(all)), nil
}

func window[T any](all []T, page Page) []T {
	start := page.Offset()
	if start >= len(all) {
		return []T{}
	}
	end := len(all)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	return all[start:end]
}

func (m *Memory) CreateListing(ctx context.Context, listing *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&listing.BaseModel)
	m.listings = append(m.listings, bareListing(*listing))
	return nil
}

func (m *Memory) SaveListing(ctx context.Context, listing *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&listing.BaseModel)
	for i := range m.listings {
		if m.listings[i].ID == listing.ID {
			m.listings[i] = bareListing(*listing)
			return nil
		}
	}
	m.listings = append(m.listings, bareListing(*listing))
	return nil
}

// Offers

func (m *Memory) GetNotification(ctx context.Context, id uuid.UUID) (*models.OfferNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.ID == id {
			return &n, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) NotificationsByID(ctx context.Context, notificationID string) ([]models.OfferNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OfferNotification
	for _, n := range m.notifications {
		if n.NotificationID == notificationID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) CreateNotification(ctx context.Context, n *models.OfferNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&n.BaseModel)
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) SaveNotification(ctx context.Context, n *models.OfferNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&n.BaseModel)
	for i := range m.notifications {
		if m.notifications[i].ID == n.ID {
			m.notifications[i] = *n
			return nil
		}
	}
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) DeleteNotifications(ctx context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := idSet(ids)
	kept := m.notifications[:0]
	for _, n := range m.notifications {
		if !drop[n.ID] {
			kept = append(kept, n)
		}
	}
	m.notifications = kept
	return nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (m *Memory) SnapshotExists(ctx context.Context, listingID uuid.UUID, offerDate time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		if s.ListingID == listingID && s.OfferDate.Equal(offerDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateSnapshot(ctx context.Context, snapshot *models.OfferSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.ListingID == snapshot.ListingID && s.OfferDate.Equal(snapshot.OfferDate) {
			return fmt.Errorf("duplicate snapshot for listing %s at %s", snapshot.ListingID, snapshot.OfferDate)
		}
	}
	stampSnapshot(snapshot)
	m.snapshots = append(m.snapshots, copySnapshot(*snapshot))
	return nil
}

func (m *Memory) LatestSnapshots(ctx context.Context, listingID uuid.UUID, limit int) ([]models.OfferSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.OfferSnapshot
	for _, s := range m.snapshots {
		if s.ListingID == listingID {
			out = append(out, copySnapshot(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OfferDate.After(out[j].OfferDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LiveOffers(ctx context.Context, listingID uuid.UUID) ([]models.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Offer
	for _, o := range m.offers {
		if o.ListingID == listingID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) ReplaceLiveOffers(ctx context.Context, listingID uuid.UUID, offers []models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.offers[:0]
	for _, o := range m.offers {
		if o.ListingID != listingID {
			kept = append(kept, o)
		}
	}
	for i := range offers {
		stamp(&offers[i].BaseModel)
		kept = append(kept, offers[i])
	}
	m.offers = kept
	return nil
}

// Feeds

func (m *Memory) CreateFeedRequest(ctx context.Context, req *models.FeedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&req.BaseModel)
	m.feeds = append(m.feeds, *req)
	return nil
}

func (m *Memory) PendingFeedRequests(ctx context.Context, limit int) ([]models.FeedRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FeedRequest
	for _, f := range m.feeds {
		if !f.Launched {
			out = append(out, f)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkFeedRequestsLaunched(ctx context.Context, ids []uuid.UUID, feedID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := idSet(ids)
	for i := range m.feeds {
		if set[m.feeds[i].ID] && !m.feeds[i].Launched {
			launchedAt := at
			m.feeds[i].Launched = true
			m.feeds[i].LaunchedAt = &launchedAt
			m.feeds[i].FeedID = feedID
		}
	}
	return nil
}

func (m *Memory) ListFeedRequests(ctx context.Context, launched *bool, page Page) ([]models.FeedRequest, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []models.FeedRequest
	for i := len(m.feeds) - 1; i >= 0; i-- {
		if launched == nil || m.feeds[i].Launched == *launched {
			all = append(all, m.feeds[i])
		}
	}
	return window(all, page), int64(len(all)), nil
}

func (m *Memory) CreateProductToCreate(ctx context.Context, report *models.ProductToCreate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&report.BaseModel)
	m.reports = append(m.reports, *report)
	return nil
}

func (m *Memory) DeleteProductToCreate(ctx context.Context, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.reports[:0]
	for _, r := range m.reports {
		if r.ProductID != productID {
			kept = append(kept, r)
		}
	}
	m.reports = kept
	return nil
}

func (m *Memory) ProductsToCreate(ctx context.Context, accountID uuid.UUID) ([]models.ProductToCreate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ProductToCreate
	for _, r := range m.reports {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Jobs

func (m *Memory) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&job.BaseModel)
	m.jobs = append(m.jobs, *job)
	return nil
}

func (m *Memory) PendingJobByDescription(ctx context.Context, description string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.Description == description && j.State == models.JobStatePending {
			return &j, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ClaimNextJob(ctx context.Context, now time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := -1
	for i, j := range m.jobs {
		if j.State != models.JobStatePending || j.NotBefore.After(now) {
			continue
		}
		if best < 0 ||
			j.Priority < m.jobs[best].Priority ||
			(j.Priority == m.jobs[best].Priority && j.NotBefore.Before(m.jobs[best].NotBefore)) {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNotFound
	}
	startedAt := now
	m.jobs[best].State = models.JobStateStarted
	m.jobs[best].Attempts++
	m.jobs[best].StartedAt = &startedAt
	job := m.jobs[best]
	return &job, nil
}

func (m *Memory) SaveJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp(&job.BaseModel)
	for i := range m.jobs {
		if m.jobs[i].ID == job.ID {
			m.jobs[i] = *job
			return nil
		}
	}
	m.jobs = append(m.jobs, *job)
	return nil
}

func (m *Memory) ListJobs(ctx context.Context, state models.JobState, page Page) ([]models.Job, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []models.Job
	for i := len(m.jobs) - 1; i >= 0; i-- {
		if state == "" || m.jobs[i].State == state {
			all = append(all, m.jobs[i])
		}
	}
	return window(all, page), int64(len(all)), nil
}

func (m *Memory) StartedBefore(ctx context.Context, t time.Time) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if j.State == models.JobStateStarted && j.StartedAt != nil && j.StartedAt.Before(t) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *Memory) FailedJobs(ctx context.Context) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if j.State == models.JobStateFailed {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *Memory) PendingJobs(ctx context.Context) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if j.State == models.JobStatePending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *Memory) DeleteJobs(ctx context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := idSet(ids)
	kept := m.jobs[:0]
	for _, j := range m.jobs {
		if !drop[j.ID] {
			kept = append(kept, j)
		}
	}
	m.jobs = kept
	return nil
}

// FeedRequests returns every stored feed request in creation order.
func (m *Memory) FeedRequests() []models.FeedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.FeedRequest(nil), m.feeds...)
}

// Snapshots returns every stored snapshot in creation order.
func (m *Memory) Snapshots() []models.OfferSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.OfferSnapshot(nil), m.snapshots...)
}

// Jobs returns every stored job in creation order.
func (m *Memory) Jobs() []models.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Job(nil), m.jobs...)
}

var _ Store = (*Memory)(nil)
var _ Store = (*GormStore)(nil)
