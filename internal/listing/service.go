// internal/listing/service.go

// Package listing is the write path of listings: every change of price,
// stock or margin settings goes through Service, which recomputes margins and
// hands the resulting events to the Dispatcher.
package listing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/stock"
	"github.com/javajoker/marketsync/internal/store"
)

// DefaultCosineThreshold is the title similarity a catalog candidate must exceed.
const DefaultCosineThreshold = 0.2

type Options struct {
	DefaultFeePercent decimal.Decimal
	CosineThreshold   float64
}

type Service struct {
	store      store.Store
	stock      *stock.Propagator
	calc       *pricing.Calculator
	adapter    marketplace.Adapter
	dispatcher *Dispatcher
	opts       Options
	now        func() time.Time
}

func NewService(st store.Store, prop *stock.Propagator, calc *pricing.Calculator, adapter marketplace.Adapter, queue Enqueuer, opts Options) *Service {
	if opts.DefaultFeePercent.IsZero() {
		opts.DefaultFeePercent = decimal.NewFromInt(pricing.DefaultFeePercent)
	}
	if opts.CosineThreshold <= 0 {
		opts.CosineThreshold = DefaultCosineThreshold
	}
	s := &Service{
		store:   st,
		stock:   prop,
		calc:    calc,
		adapter: adapter,
		opts:    opts,
		now:     time.Now,
	}
	s.dispatcher = &Dispatcher{service: s, queue: queue}
	return s
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Patch lists the fields a write changes. Nil fields are left alone.
type Patch struct {
	Price         *decimal.Decimal
	ShippingPrice *decimal.Decimal
	Stock         *int

	// HandlingTime is applied only when SetHandlingTime is true, so that a
	// nil handling time can be written.
	HandlingTime    *int
	SetHandlingTime bool

	MinMargin          *decimal.NullDecimal
	MaxMargin          *decimal.NullDecimal
	PriceStep          *decimal.NullDecimal
	StepType           *models.StepType
	ChangePrices       *models.Toggle
	StockSync          *bool
	ShippingTemplate   *string
	FeePercent         *decimal.NullDecimal
	TotalFee           *decimal.NullDecimal
	FirstPriceSearched *bool
}

func nullChanged(old decimal.NullDecimal, v *decimal.NullDecimal) bool {
	if v == nil {
		return false
	}
	if old.Valid != v.Valid {
		return true
	}
	return old.Valid && !old.Decimal.Equal(v.Decimal)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// UpdateListing applies p and returns the events the change requires. Margins
// are recomputed when price or shipping price move; an unknown cost leaves
// them null. Writing values equal to the stored ones produces no event.
func (s *Service) UpdateListing(ctx context.Context, id uuid.UUID, p Patch) (*models.Listing, []Event, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load listing: %w", err)
	}

	var (
		events        []Event
		priceChanged  bool
		stockChanged  bool
		marginChanged bool
	)

	if p.Price != nil && !p.Price.Equal(l.Price) {
		l.Price = *p.Price
		priceChanged = true
	}
	if p.ShippingPrice != nil && !p.ShippingPrice.Equal(l.ShippingPrice) {
		l.ShippingPrice = *p.ShippingPrice
		priceChanged = true
	}
	if p.Stock != nil && *p.Stock != l.Stock {
		l.Stock = *p.Stock
		stockChanged = true
	}
	if p.SetHandlingTime && !intPtrEqual(p.HandlingTime, l.HandlingTime) {
		l.HandlingTime = p.HandlingTime
		stockChanged = true
	}
	if nullChanged(l.MinMargin, p.MinMargin) {
		l.MinMargin = *p.MinMargin
		marginChanged = true
	}
	if nullChanged(l.MaxMargin, p.MaxMargin) {
		l.MaxMargin = *p.MaxMargin
		marginChanged = true
	}
	if p.ChangePrices != nil && *p.ChangePrices != l.ChangePrices {
		l.ChangePrices = *p.ChangePrices
		marginChanged = true
	}
	if p.PriceStep != nil {
		l.PriceStep = *p.PriceStep
	}
	if p.StepType != nil {
		l.StepType = *p.StepType
	}
	if p.StockSync != nil {
		l.StockSync = *p.StockSync
	}
	if p.ShippingTemplate != nil {
		l.ShippingTemplate = *p.ShippingTemplate
	}
	if p.FeePercent != nil {
		l.FeePercent = *p.FeePercent
	}
	if p.TotalFee != nil {
		l.TotalFee = *p.TotalFee
	}
	if p.FirstPriceSearched != nil {
		l.FirstPriceSearched = *p.FirstPriceSearched
	}

	if priceChanged || p.FeePercent != nil || p.ShippingTemplate != nil {
		if err := s.refreshMargin(ctx, l); err != nil {
			return nil, nil, err
		}
	}

	if err := s.store.SaveListing(ctx, l); err != nil {
		return nil, nil, fmt.Errorf("failed to save listing: %w", err)
	}

	if priceChanged {
		events = append(events, Event{Kind: EventPriceChanged, ListingID: l.ID, ProductID: l.ProductID})
	}
	if stockChanged {
		events = append(events, Event{Kind: EventStockChanged, ListingID: l.ID, ProductID: l.ProductID})
	}
	if marginChanged {
		events = append(events, Event{Kind: EventMarginConfigChanged, ListingID: l.ID, ProductID: l.ProductID})
	}
	return l, events, nil
}

// Write updates the listing and dispatches the resulting events.
func (s *Service) Write(ctx context.Context, id uuid.UUID, p Patch) (*models.Listing, error) {
	l, events, err := s.UpdateListing(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.Dispatch(ctx, events); err != nil {
		return l, fmt.Errorf("failed to dispatch listing events: %w", err)
	}
	return l, nil
}

// SetPrice writes an accepted repricing decision.
func (s *Service) SetPrice(ctx context.Context, l *models.Listing, price decimal.Decimal) error {
	updated, err := s.Write(ctx, l.ID, Patch{Price: &price})
	if updated != nil {
		*l = *updated
	}
	return err
}

func (s *Service) terms(ctx context.Context, l *models.Listing) (pricing.Terms, error) {
	if l.Product == nil {
		p, err := s.store.GetProduct(ctx, l.ProductID)
		if err != nil {
			return pricing.Terms{}, fmt.Errorf("failed to load product: %w", err)
		}
		l.Product = p
	}
	account, err := s.store.GetAccount(ctx, l.AccountID)
	if err != nil {
		return pricing.Terms{}, fmt.Errorf("failed to load account: %w", err)
	}
	return pricing.ResolveTerms(l, l.Product, account, s.opts.DefaultFeePercent), nil
}

func (s *Service) refreshMargin(ctx context.Context, l *models.Listing) error {
	terms, err := s.terms(ctx, l)
	if err != nil {
		return err
	}
	cost, err := s.stock.CostBasis(ctx, stock.NewTraversal(), l.ProductID)
	var missing *pricing.MissingCostError
	switch {
	case errors.As(err, &missing):
		l.MarginAmount, l.MarginPercent = decimal.NullDecimal{}, decimal.NullDecimal{}
		return nil
	case err != nil:
		return err
	}

	m := s.calc.MarginForListing(l, terms, cost, l.Price)
	if m == nil {
		l.MarginAmount, l.MarginPercent = decimal.NullDecimal{}, decimal.NullDecimal{}
		return nil
	}
	l.MarginAmount = decimal.NewNullDecimal(m.Amount)
	l.MarginPercent = decimal.NewNullDecimal(m.Percent)
	return nil
}

// OnPriceOrStockChange queues the feed pushing the listing's current state.
// Price goes out only with a positive quantity and a known positive handling
// time; otherwise a zero quantity is pushed alone.
func (s *Service) OnPriceOrStockChange(ctx context.Context, listingID uuid.UUID) error {
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return fmt.Errorf("failed to load listing: %w", err)
	}
	if l.Retired() {
		return nil
	}
	mk, err := s.marketplaceOf(ctx, l)
	if err != nil {
		return err
	}

	var payload models.FeedPayload
	if l.HandlingTime != nil && *l.HandlingTime > 0 && l.Stock > 0 {
		payload = models.StockPricePayload{
			SKU:             l.SKU,
			Quantity:        strconv.Itoa(l.Stock),
			Price:           mk.FormatPrice(l.Price),
			Currency:        l.Currency,
			HandlingTime:    strconv.Itoa(*l.HandlingTime),
			MarketplaceCode: mk.Code,
		}
	} else {
		payload = models.StockPayload{SKU: l.SKU, Quantity: "0", MarketplaceCode: mk.Code}
	}
	return s.queueFeed(ctx, s.store, l, mk.Code, payload)
}

func (s *Service) marketplaceOf(ctx context.Context, l *models.Listing) (*models.Marketplace, error) {
	if l.Marketplace != nil {
		return l.Marketplace, nil
	}
	mk, err := s.store.GetMarketplace(ctx, l.MarketplaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load marketplace: %w", err)
	}
	l.Marketplace = mk
	return mk, nil
}

func (s *Service) queueFeed(ctx context.Context, st store.FeedStore, l *models.Listing, code string, payload models.FeedPayload) error {
	req, err := models.NewFeedRequest(l.AccountID, code, payload)
	if err != nil {
		return err
	}
	listingID, productID := l.ID, l.ProductID
	req.ListingID = &listingID
	req.ProductID = &productID
	if err := st.CreateFeedRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to queue %s feed: %w", req.Type, err)
	}
	logrus.WithFields(logrus.Fields{
		"listing_id": l.ID,
		"feed_type":  req.Type,
	}).Debug("Feed request queued")
	return nil
}

// PropagateStock recomputes quantity and handling time of every listing of
// the products related to productID through their bill of materials. It
// returns how many listings changed.
func (s *Service) PropagateStock(ctx context.Context, productID uuid.UUID) (int, error) {
	related, err := s.stock.RelatedProducts(ctx, productID)
	if err != nil {
		return 0, err
	}

	traversals := make(map[uuid.UUID]*stock.Traversal)
	accounts := make(map[uuid.UUID]*models.Account)
	changed := 0
	for _, pid := range related {
		prod, err := s.store.GetProduct(ctx, pid)
		if err != nil {
			return changed, fmt.Errorf("failed to load product %s: %w", pid, err)
		}
		if !prod.StockSync {
			continue
		}
		listings, err := s.store.ListingsForProduct(ctx, pid)
		if err != nil {
			return changed, fmt.Errorf("failed to load listings of %s: %w", pid, err)
		}
		for i := range listings {
			l := &listings[i]
			if !l.StockSync {
				continue
			}
			account, ok := accounts[l.AccountID]
			if !ok {
				if account, err = s.store.GetAccount(ctx, l.AccountID); err != nil {
					return changed, fmt.Errorf("failed to load account: %w", err)
				}
				accounts[l.AccountID] = account
			}
			if !account.StockSync {
				continue
			}
			tr, ok := traversals[l.AccountID]
			if !ok {
				tr = stock.NewTraversal()
				traversals[l.AccountID] = tr
			}

			qty, err := s.stock.AvailableQuantity(ctx, tr, account, pid)
			if err != nil {
				return changed, err
			}
			lead, err := s.stock.HandlingTimeDays(ctx, tr, account, pid)
			if err != nil {
				return changed, err
			}

			_, events, err := s.UpdateListing(ctx, l.ID, Patch{Stock: &qty, HandlingTime: lead, SetHandlingTime: true})
			if err != nil {
				return changed, err
			}
			if len(events) == 0 {
				continue
			}
			changed++
			if err := s.dispatcher.Dispatch(ctx, events); err != nil {
				return changed, err
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"product_id": productID,
		"related":    len(related),
		"changed":    changed,
	}).Info("Stock propagated")
	return changed, nil
}

// RefreshPrice imports the price the marketplace shows for the listing. When
// the marketplace has none, the listing is priced at its max margin.
func (s *Service) RefreshPrice(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	mk, err := s.marketplaceOf(ctx, l)
	if err != nil {
		return nil, err
	}

	searched := true
	patch := Patch{FirstPriceSearched: &searched}

	info, err := s.adapter.GetPrice(ctx, mk.Code, l.SKU)
	if err != nil {
		return nil, fmt.Errorf("failed to get price of %s: %w", l.SKU, err)
	}
	if info != nil {
		patch.Price, patch.ShippingPrice = &info.Price, &info.ShippingPrice
		if info.Fee.Valid {
			fee := decimal.NewNullDecimal(pricing.FeePercent(info.Fee.Decimal, info.Price.Add(info.ShippingPrice)))
			patch.FeePercent, patch.TotalFee = &fee, &info.Fee
		}
	} else {
		price, err := s.maxMarginPrice(ctx, l)
		if err != nil {
			return nil, err
		}
		patch.Price = &price
	}
	return s.Write(ctx, id, patch)
}

func (s *Service) maxMarginPrice(ctx context.Context, l *models.Listing) (decimal.Decimal, error) {
	terms, err := s.terms(ctx, l)
	if err != nil {
		return decimal.Zero, err
	}
	if !terms.MaxMargin.Valid {
		return decimal.Zero, fmt.Errorf("listing %s has no max margin configured", l.ID)
	}
	cost, err := s.stock.CostBasis(ctx, stock.NewTraversal(), l.ProductID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.calc.PriceForListing(l, terms, cost, terms.MaxMargin.Decimal)
}

// Retire takes the listing off sale. Retiring twice is a no-op.
func (s *Service) Retire(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if l.Retired() {
		return l, nil
	}
	mk, err := s.marketplaceOf(ctx, l)
	if err != nil {
		return nil, err
	}

	now := s.now()
	l.Status = models.ListingStatusRetired
	l.RetiredAt = &now
	l.Stock = 0
	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.SaveListing(ctx, l); err != nil {
			return fmt.Errorf("failed to save listing: %w", err)
		}
		return s.queueFeed(ctx, tx, l, mk.Code, models.StockPayload{SKU: l.SKU, Quantity: "0", MarketplaceCode: mk.Code})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithField("listing_id", l.ID).Info("Listing retired")
	return l, nil
}

// Margin evaluates the listing at price, or at its current price when price
// is nil. A nil margin means the cost is unknown.
func (s *Service) Margin(ctx context.Context, id uuid.UUID, price *decimal.Decimal) (*pricing.Margin, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	terms, err := s.terms(ctx, l)
	if err != nil {
		return nil, err
	}
	cost, err := s.stock.CostBasis(ctx, stock.NewTraversal(), l.ProductID)
	var missing *pricing.MissingCostError
	if errors.As(err, &missing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at := l.Price
	if price != nil {
		at = *price
	}
	return s.calc.MarginForListing(l, terms, cost, at), nil
}

// Availability is what the propagator derives for a product.
type Availability struct {
	ProductID    uuid.UUID           `json:"product_id"`
	Quantity     int                 `json:"quantity"`
	HandlingTime *int                `json:"handling_time"`
	Cost         decimal.NullDecimal `json:"cost"`
}

func (s *Service) Availability(ctx context.Context, productID uuid.UUID) (*Availability, error) {
	prod, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	account, err := s.store.GetAccount(ctx, prod.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	tr := stock.NewTraversal()
	out := &Availability{ProductID: productID}
	if out.Quantity, err = s.stock.AvailableQuantity(ctx, tr, account, productID); err != nil {
		return nil, err
	}
	if out.HandlingTime, err = s.stock.HandlingTimeDays(ctx, tr, account, productID); err != nil {
		return nil, err
	}
	cost, err := s.stock.CostBasis(ctx, tr, productID)
	var missing *pricing.MissingCostError
	switch {
	case errors.As(err, &missing):
	case err != nil:
		return nil, err
	default:
		out.Cost = decimal.NewNullDecimal(cost)
	}
	return out, nil
}

// AddSupplier stores a supplier offer. Stock of the product is recomputed and
// an auto-exported offer queues a listing request for it.
func (s *Service) AddSupplier(ctx context.Context, supplier *models.SupplierInfo) error {
	prod, err := s.store.GetProduct(ctx, supplier.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}
	if err := s.store.CreateSupplier(ctx, supplier); err != nil {
		return fmt.Errorf("failed to create supplier offer: %w", err)
	}

	events := []Event{{Kind: EventProductStockChanged, ProductID: prod.ID}}
	if err := s.dispatcher.Dispatch(ctx, events); err != nil {
		return err
	}
	if !supplier.AutoExport || prod.Barcode == "" {
		return nil
	}
	_, err = s.dispatcher.queue.Enqueue(ctx, jobs.Spec{
		Description: jobs.Description(jobs.MethodAddToListing, prod.ID),
		Method:      jobs.MethodAddToListing,
		Args:        models.JSONB{"product_id": prod.ID.String()},
	})
	return err
}
