// internal/listing/catalog.go
package listing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/stock"
	"github.com/javajoker/marketsync/internal/store"
)

type MatchStatus string

const (
	MatchMatched      MatchStatus = "matched"
	MatchNoCandidates MatchStatus = "no_candidates"
	MatchNoMatch      MatchStatus = "no_match"
)

type Match struct {
	Status MatchStatus `json:"status"`
	ASIN   string      `json:"asin,omitempty"`
	Title  string      `json:"title,omitempty"`
	Score  float64     `json:"score"`
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

func wordCounts(s string) map[string]int {
	counts := make(map[string]int)
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		counts[w]++
	}
	return counts
}

// CosineSimilarity compares the word frequency vectors of two titles.
func CosineSimilarity(a, b string) float64 {
	va, vb := wordCounts(a), wordCounts(b)
	var dot, na, nb float64
	for w, x := range va {
		dot += float64(x * vb[w])
		na += float64(x * x)
	}
	for _, y := range vb {
		nb += float64(y * y)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MatchToCatalog looks the product's barcode up in the marketplace catalog.
// With requireTitleSimilarity the best candidate must beat the cosine
// threshold, ties going to the lowest catalog id; without it the first
// candidate wins.
func (s *Service) MatchToCatalog(ctx context.Context, product *models.Product, marketplaceCode string, requireTitleSimilarity bool) (*Match, error) {
	if product.Barcode == "" {
		return &Match{Status: MatchNoCandidates}, nil
	}
	items, err := s.adapter.GetCatalogMatches(ctx, product.Barcode, marketplaceCode)
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog for %s: %w", product.Barcode, err)
	}
	if len(items) == 0 {
		return &Match{Status: MatchNoCandidates}, nil
	}
	if !requireTitleSimilarity {
		return &Match{Status: MatchMatched, ASIN: items[0].ID, Title: items[0].Title}, nil
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	best := &Match{Status: MatchNoMatch}
	for _, item := range items {
		score := CosineSimilarity(item.Title, product.Name)
		if score > s.opts.CosineThreshold && score > best.Score {
			best = &Match{Status: MatchMatched, ASIN: item.ID, Title: item.Title, Score: score}
		}
	}
	return best, nil
}

// ListingRequest asks to list a product on some marketplaces of its account.
type ListingRequest struct {
	ProductID uuid.UUID

	// MarketplaceCodes restricts the request; empty means every enabled
	// marketplace of the account.
	MarketplaceCodes       []string
	Margin                 decimal.NullDecimal
	RequireTitleSimilarity bool
}

type ListingRequestResult struct {
	Created []models.Listing        `json:"created"`
	Matches map[string]*Match       `json:"matches"`
	Report  *models.ProductToCreate `json:"report,omitempty"`
}

// CreateListingRequest creates a listing and queues an inventory loader row on
// every target marketplace the product is not listed on yet. A catalog
// identifier found on one marketplace is reused on the others. When no
// marketplace yields an identifier the product is reported for manual creation.
func (s *Service) CreateListingRequest(ctx context.Context, req ListingRequest) (*ListingRequestResult, error) {
	prod, err := s.store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	account, err := s.store.GetAccount(ctx, prod.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	marketplaces, err := s.targetMarketplaces(ctx, account, req.MarketplaceCodes)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListingsForProduct(ctx, prod.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}

	listed := make(map[uuid.UUID]bool, len(existing))
	asin := ""
	for _, l := range existing {
		listed[l.MarketplaceID] = true
		if asin == "" {
			asin = l.ASIN
		}
	}

	result := &ListingRequestResult{Matches: make(map[string]*Match)}
	tr := stock.NewTraversal()
	reason := "no catalog candidates"
	for i := range marketplaces {
		mk := &marketplaces[i]
		if listed[mk.ID] {
			continue
		}
		if asin == "" {
			m, err := s.MatchToCatalog(ctx, prod, mk.Code, req.RequireTitleSimilarity)
			if err != nil {
				return nil, err
			}
			result.Matches[mk.Code] = m
			if m.Status != MatchMatched {
				if m.Status == MatchNoMatch {
					reason = "no catalog candidate matched the product name"
				}
				continue
			}
			asin = m.ASIN
		}

		l, err := s.createListing(ctx, tr, account, prod, mk, asin, req.Margin)
		if err != nil {
			return nil, err
		}
		result.Created = append(result.Created, *l)
	}

	if len(result.Created) == 0 && asin == "" {
		report := &models.ProductToCreate{AccountID: account.ID, ProductID: prod.ID, Reason: reason}
		if err := s.store.CreateProductToCreate(ctx, report); err != nil {
			return nil, fmt.Errorf("failed to report product to create: %w", err)
		}
		result.Report = report
		logrus.WithFields(logrus.Fields{
			"product_id": prod.ID,
			"reason":     reason,
		}).Warn("Product needs manual creation")
	}
	return result, nil
}

func (s *Service) targetMarketplaces(ctx context.Context, account *models.Account, codes []string) ([]models.Marketplace, error) {
	all, err := s.store.ListMarketplaces(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load marketplaces: %w", err)
	}
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	var out []models.Marketplace
	for _, mk := range all {
		if len(codes) > 0 && !wanted[mk.Code] {
			continue
		}
		if len(codes) == 0 && !account.Enabled(mk.Code) {
			continue
		}
		out = append(out, mk)
	}
	return out, nil
}

func (s *Service) createListing(ctx context.Context, tr *stock.Traversal, account *models.Account, prod *models.Product, mk *models.Marketplace, asin string, margin decimal.NullDecimal) (*models.Listing, error) {
	l := &models.Listing{
		AccountID:     account.ID,
		ProductID:     prod.ID,
		MarketplaceID: mk.ID,
		SKU:           prod.SKU,
		ASIN:          asin,
		Currency:      mk.Currency,
		StockSync:     true,
		Status:        models.ListingStatusActive,
		Product:       prod,
		Marketplace:   mk,
	}

	terms := pricing.ResolveTerms(l, prod, account, s.opts.DefaultFeePercent)
	if !margin.Valid {
		margin = terms.MaxMargin
	}
	if !margin.Valid {
		return nil, fmt.Errorf("no margin given or configured for product %s", prod.ID)
	}
	cost, err := s.stock.CostBasis(ctx, tr, prod.ID)
	if err != nil {
		return nil, err
	}
	if l.Price, err = s.calc.PriceForListing(l, terms, cost, margin.Decimal); err != nil {
		return nil, err
	}
	if m := s.calc.MarginForListing(l, terms, cost, l.Price); m != nil {
		l.MarginAmount = decimal.NewNullDecimal(m.Amount)
		l.MarginPercent = decimal.NewNullDecimal(m.Percent)
	}
	if l.Stock, err = s.stock.AvailableQuantity(ctx, tr, account, prod.ID); err != nil {
		return nil, err
	}
	if l.HandlingTime, err = s.stock.HandlingTimeDays(ctx, tr, account, prod.ID); err != nil {
		return nil, err
	}

	handling := ""
	if l.HandlingTime != nil {
		handling = strconv.Itoa(*l.HandlingTime)
	}
	row := models.NewListingPayload{
		SKU:             prod.SKU,
		ProductID:       asin,
		ProductIDType:   "ASIN",
		Price:           mk.FormatPrice(l.Price),
		ItemCondition:   "11",
		Quantity:        "0",
		AddDelete:       "a",
		HandlingTime:    handling,
		MarketplaceCode: mk.Code,
	}

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateListing(ctx, l); err != nil {
			return fmt.Errorf("failed to create listing: %w", err)
		}
		if err := s.queueFeed(ctx, tx, l, mk.Code, row); err != nil {
			return err
		}
		if err := tx.DeleteProductToCreate(ctx, prod.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to clear product to create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id":  l.ID,
		"product_id":  prod.ID,
		"marketplace": mk.Code,
		"asin":        asin,
		"price":       l.Price.StringFixed(2),
	}).Info("Listing requested")
	return l, nil
}
