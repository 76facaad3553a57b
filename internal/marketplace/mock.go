// internal/marketplace/mock.go
package marketplace

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/javajoker/marketsync/internal/models"
)

// SubmittedFeed is a feed the mock adapter accepted.
type SubmittedFeed struct {
	ID              string
	Type            models.FeedType
	MarketplaceCode string
	Document        []byte
}

// MockAdapter answers from data loaded with its setters and makes no network
// calls. It backs offline runs and tests.
type MockAdapter struct {
	mu        sync.Mutex
	catalog   map[string][]CatalogItem
	prices    map[string]*PriceInfo
	offers    map[string][]string
	submitted []SubmittedFeed
	// Err, when set, is returned by every call.
	Err error
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		catalog: make(map[string][]CatalogItem),
		prices:  make(map[string]*PriceInfo),
		offers:  make(map[string][]string),
	}
}

func key(marketplaceCode, id string) string {
	return marketplaceCode + "|" + id
}

func (m *MockAdapter) SetCatalog(externalCode, marketplaceCode string, items ...CatalogItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[key(marketplaceCode, externalCode)] = items
}

func (m *MockAdapter) SetPrice(marketplaceCode, sku string, info *PriceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[key(marketplaceCode, sku)] = info
}

func (m *MockAdapter) AddOffers(marketplaceCode, asin string, notifications ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(marketplaceCode, asin)
	m.offers[k] = append(m.offers[k], notifications...)
}

// Submitted returns the feeds accepted so far.
func (m *MockAdapter) Submitted() []SubmittedFeed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SubmittedFeed(nil), m.submitted...)
}

func (m *MockAdapter) GetOffers(ctx context.Context, marketplaceCode string, asins []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []string
	for _, asin := range asins {
		out = append(out, m.offers[key(marketplaceCode, asin)]...)
	}
	return out, nil
}

func (m *MockAdapter) GetPrice(ctx context.Context, marketplaceCode, sku string) (*PriceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	info, ok := m.prices[key(marketplaceCode, sku)]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

func (m *MockAdapter) GetCatalogMatches(ctx context.Context, externalCode, marketplaceCode string) ([]CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]CatalogItem(nil), m.catalog[key(marketplaceCode, externalCode)]...), nil
}

func (m *MockAdapter) SubmitFeed(ctx context.Context, feedType models.FeedType, marketplaceCode string, document []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	id := uuid.NewString()
	m.submitted = append(m.submitted, SubmittedFeed{
		ID:              id,
		Type:            feedType,
		MarketplaceCode: marketplaceCode,
		Document:        append([]byte(nil), document...),
	})
	return id, nil
}

var (
	_ Adapter = (*MockAdapter)(nil)
	_ Adapter = (*HTTPAdapter)(nil)
)
