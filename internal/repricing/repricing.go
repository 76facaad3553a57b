// internal/repricing/repricing.go

// Package repricing decides new listing prices from the latest offer
// snapshots: undercut the buy box when we do not hold it, and follow
// competitors up when we do.
package repricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/stock"
	"github.com/javajoker/marketsync/internal/store"
)

type Outcome string

const (
	OutcomeChanged       Outcome = "changed"
	OutcomeNoChange      Outcome = "no_change"
	OutcomeNoData        Outcome = "no_data"
	OutcomeNotPermitted  Outcome = "not_permitted"
	OutcomeNotApplicable Outcome = "not_applicable"
)

// Decision is the result of one repricing attempt.
type Decision struct {
	ListingID uuid.UUID       `json:"listing_id"`
	Outcome   Outcome         `json:"outcome"`
	Strategy  string          `json:"strategy,omitempty"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Margin    *pricing.Margin `json:"margin,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

const (
	StrategyChase = "chase_buybox"
	StrategyRaise = "raise_with_buybox"
)

// PriceWriter applies an accepted price through the listing write path.
type PriceWriter interface {
	SetPrice(ctx context.Context, listing *models.Listing, price decimal.Decimal) error
}

// PriceChangeAllowed applies explicit-deny-wins precedence over the listing,
// product and account toggles: any deny blocks, otherwise any allow permits.
func PriceChangeAllowed(levels ...models.Toggle) bool {
	allowed := false
	for _, t := range levels {
		switch t {
		case models.ToggleDeny:
			return false
		case models.ToggleAllow:
			allowed = true
		}
	}
	return allowed
}

type Engine struct {
	store      store.Store
	stock      *stock.Propagator
	calc       *pricing.Calculator
	writer     PriceWriter
	defaultFee decimal.Decimal
}

func NewEngine(st store.Store, prop *stock.Propagator, calc *pricing.Calculator, writer PriceWriter, defaultFee decimal.Decimal) *Engine {
	return &Engine{
		store:      st,
		stock:      prop,
		calc:       calc,
		writer:     writer,
		defaultFee: defaultFee,
	}
}

// pricingContext is what both strategies evaluate a listing against.
type pricingContext struct {
	listing   *models.Listing
	terms     pricing.Terms
	cost      decimal.Decimal
	snapshots []models.OfferSnapshot
}

// Reprice runs the chase strategy and, when the listing holds the buy box,
// the raise strategy. force skips the permission gate.
func (e *Engine) Reprice(ctx context.Context, listingID uuid.UUID, force bool) (*Decision, error) {
	pc, decision, err := e.load(ctx, listingID, force)
	if err != nil || decision != nil {
		return decision, err
	}

	d, err := e.chase(ctx, pc)
	if err != nil {
		return nil, err
	}
	if d.Outcome == OutcomeChanged || !pc.listing.HasBuybox {
		return d, nil
	}
	return e.raise(ctx, pc)
}

// ChasePrice runs only the buy box chase strategy.
func (e *Engine) ChasePrice(ctx context.Context, listingID uuid.UUID, force bool) (*Decision, error) {
	pc, decision, err := e.load(ctx, listingID, force)
	if err != nil || decision != nil {
		return decision, err
	}
	return e.chase(ctx, pc)
}

// RaiseWithBuybox runs only the raise strategy.
func (e *Engine) RaiseWithBuybox(ctx context.Context, listingID uuid.UUID, force bool) (*Decision, error) {
	pc, decision, err := e.load(ctx, listingID, force)
	if err != nil || decision != nil {
		return decision, err
	}
	return e.raise(ctx, pc)
}

func (e *Engine) load(ctx context.Context, listingID uuid.UUID, force bool) (*pricingContext, *Decision, error) {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if l.Retired() {
		return nil, &Decision{ListingID: l.ID, Outcome: OutcomeNotApplicable, OldPrice: l.Price, NewPrice: l.Price, Reason: "listing retired"}, nil
	}
	if l.Product == nil {
		if l.Product, err = e.store.GetProduct(ctx, l.ProductID); err != nil {
			return nil, nil, fmt.Errorf("failed to load product: %w", err)
		}
	}
	account, err := e.store.GetAccount(ctx, l.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load account: %w", err)
	}

	if !force && !PriceChangeAllowed(l.ChangePrices, l.Product.ChangePrices, account.ChangePrices) {
		return nil, &Decision{ListingID: l.ID, Outcome: OutcomeNotPermitted, OldPrice: l.Price, NewPrice: l.Price}, nil
	}

	cost, err := e.stock.CostBasis(ctx, stock.NewTraversal(), l.ProductID)
	if err != nil {
		return nil, nil, err
	}

	snapshots, err := e.store.LatestSnapshots(ctx, l.ID, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	return &pricingContext{
		listing:   l,
		terms:     pricing.ResolveTerms(l, l.Product, account, e.defaultFee),
		cost:      cost,
		snapshots: snapshots,
	}, nil, nil
}

func (pc *pricingContext) decision(strategy string, outcome Outcome, reason string) *Decision {
	return &Decision{
		ListingID: pc.listing.ID,
		Outcome:   outcome,
		Strategy:  strategy,
		OldPrice:  pc.listing.Price,
		NewPrice:  pc.listing.Price,
		Reason:    reason,
	}
}

// step is the undercut amount: flat, or a percentage of the buy box total.
func step(terms pricing.Terms, buybox models.OfferData) decimal.Decimal {
	if terms.StepType == models.StepTypePercentage {
		return terms.Step.Mul(buybox.Total()).Div(decimal.NewFromInt(100))
	}
	return terms.Step
}

func (e *Engine) chase(ctx context.Context, pc *pricingContext) (*Decision, error) {
	l := pc.listing
	if l.HasBuybox {
		return pc.decision(StrategyChase, OutcomeNotApplicable, "listing holds the buy box"), nil
	}
	if len(pc.snapshots) == 0 {
		return pc.decision(StrategyChase, OutcomeNoData, "no offer snapshot"), nil
	}
	bb, ok := pc.snapshots[0].Buybox()
	if !ok || bb.Price.Sign() <= 0 {
		return pc.decision(StrategyChase, OutcomeNoData, "no buy box price"), nil
	}

	var target decimal.Decimal
	if bb.Total().LessThan(l.Total()) {
		target = bb.Total().Sub(l.ShippingPrice).Sub(step(pc.terms, bb))
	} else {
		target = l.Price.Sub(step(pc.terms, bb))
	}
	target = target.Round(2)
	if target.Sign() <= 0 {
		return pc.decision(StrategyChase, OutcomeNoChange, "target price not positive"), nil
	}

	margin := e.calc.MarginForListing(l, pc.terms, pc.cost, target)
	if margin == nil {
		return pc.decision(StrategyChase, OutcomeNoChange, "margin unknown"), nil
	}

	switch {
	case pc.terms.MaxMargin.Valid && margin.Percent.GreaterThanOrEqual(pc.terms.MaxMargin.Decimal):
		clamped, err := e.calc.PriceForListing(l, pc.terms, pc.cost, pc.terms.MaxMargin.Decimal)
		if err != nil {
			return nil, err
		}
		target = clamped
		margin = e.calc.MarginForListing(l, pc.terms, pc.cost, target)
	case pc.terms.MinMargin.Valid && margin.Percent.GreaterThanOrEqual(pc.terms.MinMargin.Decimal):
	default:
		d := pc.decision(StrategyChase, OutcomeNoChange, "margin below minimum")
		d.Margin = margin
		return d, nil
	}

	return e.apply(ctx, pc, StrategyChase, target, margin)
}

func (e *Engine) raise(ctx context.Context, pc *pricingContext) (*Decision, error) {
	l := pc.listing
	if len(pc.snapshots) < 2 {
		return pc.decision(StrategyRaise, OutcomeNoData, "fewer than two snapshots"), nil
	}
	current, previous := &pc.snapshots[0], &pc.snapshots[1]

	oursNow, ok := current.Ours()
	if !ok {
		return pc.decision(StrategyRaise, OutcomeNoData, "our offer missing from latest snapshot"), nil
	}
	oursBefore, ok := previous.Ours()
	if !ok {
		return pc.decision(StrategyRaise, OutcomeNoData, "our offer missing from previous snapshot"), nil
	}
	if oursBefore.Total().GreaterThan(oursNow.Total()) {
		return pc.decision(StrategyRaise, OutcomeNoChange, "our offer went down"), nil
	}

	competitorNow, ok := current.LowestCompetitorTotal()
	if !ok {
		return pc.decision(StrategyRaise, OutcomeNoData, "no competitor in latest snapshot"), nil
	}
	competitorBefore, ok := previous.LowestCompetitorTotal()
	if !ok {
		return pc.decision(StrategyRaise, OutcomeNoData, "no competitor in previous snapshot"), nil
	}
	delta := competitorNow.Sub(competitorBefore)
	if delta.Sign() <= 0 {
		return pc.decision(StrategyRaise, OutcomeNoChange, "competitors did not go up"), nil
	}

	target := l.Price.Add(delta).Sub(oursNow.Total().Sub(oursBefore.Total())).Round(2)
	if target.Sign() <= 0 {
		return pc.decision(StrategyRaise, OutcomeNoChange, "target price not positive"), nil
	}

	margin := e.calc.MarginForListing(l, pc.terms, pc.cost, target)
	if margin == nil || !pc.terms.MinMargin.Valid || !pc.terms.MaxMargin.Valid ||
		margin.Percent.LessThan(pc.terms.MinMargin.Decimal) || margin.Percent.GreaterThan(pc.terms.MaxMargin.Decimal) {
		d := pc.decision(StrategyRaise, OutcomeNoChange, "margin out of bounds")
		d.Margin = margin
		return d, nil
	}

	return e.apply(ctx, pc, StrategyRaise, target, margin)
}

func (e *Engine) apply(ctx context.Context, pc *pricingContext, strategy string, price decimal.Decimal, margin *pricing.Margin) (*Decision, error) {
	d := pc.decision(strategy, OutcomeNoChange, "price already applied")
	d.Margin = margin
	if price.Equal(pc.listing.Price) {
		return d, nil
	}

	if err := e.writer.SetPrice(ctx, pc.listing, price); err != nil {
		return nil, fmt.Errorf("failed to apply price: %w", err)
	}
	d.Outcome = OutcomeChanged
	d.NewPrice = price
	d.Reason = ""

	logrus.WithFields(logrus.Fields{
		"listing_id": pc.listing.ID,
		"strategy":   strategy,
		"old_price":  d.OldPrice.StringFixed(2),
		"new_price":  price.StringFixed(2),
		"margin":     margin.Percent.StringFixed(2),
	}).Info("Listing repriced")
	return d, nil
}
