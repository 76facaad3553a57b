// internal/marketplace/adapter.go

// Package marketplace contains the connectors the sync layer talks to the
// marketplace through. Offers, prices, catalog lookups and feed submission
// are the only capabilities the core relies on.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/marketsync/internal/models"
)

// CatalogItem is one catalog candidate for an external product code.
type CatalogItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// PriceInfo is what the marketplace currently shows for one of our listings.
type PriceInfo struct {
	Price         decimal.Decimal     `json:"price"`
	ShippingPrice decimal.Decimal     `json:"shipping_price"`
	Fee           decimal.NullDecimal `json:"fee"`
}

// Adapter abstracts all marketplace-specific logic.
type Adapter interface {
	// GetOffers returns raw any-offer-changed notification documents for the ASINs.
	GetOffers(ctx context.Context, marketplaceCode string, asins []string) ([]string, error)

	// GetPrice returns nil when the marketplace has no price for the SKU.
	GetPrice(ctx context.Context, marketplaceCode, sku string) (*PriceInfo, error)

	// GetCatalogMatches lists catalog entries for a barcode or other external code.
	GetCatalogMatches(ctx context.Context, externalCode, marketplaceCode string) ([]CatalogItem, error)

	// SubmitFeed uploads a feed document and returns the marketplace feed id.
	SubmitFeed(ctx context.Context, feedType models.FeedType, marketplaceCode string, document []byte) (string, error)
}

// ThrottledError means the marketplace refused the call for quota reasons.
// It is always worth retrying later.
type ThrottledError struct {
	Status     int
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("marketplace throttled (status %d), retry after %s", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("marketplace throttled (status %d)", e.Status)
}

func IsThrottled(err error) bool {
	var t *ThrottledError
	return errors.As(err, &t)
}

const (
	KindMock = "mock"
	KindHTTP = "http"
)

// NewAdapter builds the adapter named by kind.
func NewAdapter(kind string, opts HTTPAdapterOptions) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMock:
		return NewMockAdapter(), nil
	case KindHTTP:
		return NewHTTPAdapter(opts)
	default:
		return nil, fmt.Errorf("unknown marketplace adapter %q", kind)
	}
}
