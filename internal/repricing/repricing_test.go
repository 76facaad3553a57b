package repricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/stock"
	"github.com/javajoker/marketsync/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

type flatRules struct{}

func (flatRules) Taxes(string, string) []pricing.TaxRule { return nil }

func (flatRules) DefaultTemplate(string) (string, bool) { return "standard", true }

func (flatRules) CheapestShippingRate(string, decimal.Decimal, int) (decimal.Decimal, bool) {
	return decimal.NewFromInt(2), true
}

type recordingWriter struct {
	prices []decimal.Decimal
}

func (w *recordingWriter) SetPrice(_ context.Context, _ *models.Listing, price decimal.Decimal) error {
	w.prices = append(w.prices, price)
	return nil
}

type EngineTestSuite struct {
	suite.Suite
	ctx     context.Context
	mem     *store.Memory
	writer  *recordingWriter
	engine  *Engine
	account *models.Account
	product *models.Product
	mk      *models.Marketplace
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = store.NewMemory()
	s.writer = &recordingWriter{}
	s.engine = NewEngine(
		s.mem,
		stock.NewPropagator(s.mem, nil),
		pricing.NewCalculator(flatRules{}),
		s.writer,
		decimal.NewFromInt(pricing.DefaultFeePercent),
	)

	s.account = &models.Account{Name: "main", SellerID: "A2OURS", ChangePrices: models.ToggleAllow}
	s.mem.Seed(s.account)
	s.mk = &models.Marketplace{AccountID: s.account.ID, Code: "A13V1IB3VIYZZH", Country: "FR"}
	s.product = &models.Product{AccountID: s.account.ID, Name: "Widget"}
	s.mem.Seed(s.mk, s.product)
	s.mem.Seed(&models.SupplierInfo{ProductID: s.product.ID, Price: dec("10"), SupplierStock: 5, Delay: 2})
}

func (s *EngineTestSuite) listing(min, max string, hasBuybox bool) *models.Listing {
	l := &models.Listing{
		AccountID:     s.account.ID,
		ProductID:     s.product.ID,
		MarketplaceID: s.mk.ID,
		SKU:           "W-1",
		ASIN:          "B00TEST123",
		Price:         dec("17"),
		ShippingPrice: dec("3"),
		MinMargin:     nullDec(min),
		MaxMargin:     nullDec(max),
		PriceStep:     nullDec("0.50"),
		HasBuybox:     hasBuybox,
		Status:        models.ListingStatusActive,
	}
	s.mem.Seed(l)
	return l
}

func offer(seller, price, ship string, ours, buybox bool) models.SnapshotOffer {
	return models.SnapshotOffer{OfferData: models.OfferData{
		SellerID:      seller,
		Price:         dec(price),
		ShippingPrice: dec(ship),
		IsOurOffer:    ours,
		IsBuybox:      buybox,
	}}
}

func (s *EngineTestSuite) snapshot(l *models.Listing, at time.Time, offers ...models.SnapshotOffer) {
	s.mem.Seed(&models.OfferSnapshot{ListingID: l.ID, OfferDate: at, Offers: offers})
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func (s *EngineTestSuite) TestChaseAcceptsTargetWithinMargins() {
	l := s.listing("10", "40", false)
	s.snapshot(l, t0, offer("A1COMP", "16", "2", false, true), offer("A2OURS", "17", "3", true, false))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeChanged, d.Outcome)
	s.Equal(StrategyChase, d.Strategy)
	// 18.00 - 3.00 own shipping - 0.50 step
	s.Equal("14.50", d.NewPrice.StringFixed(2))
	s.Require().Len(s.writer.prices, 1)
	s.True(s.writer.prices[0].Equal(dec("14.50")))
}

func (s *EngineTestSuite) TestChaseClampsToMaxMarginPrice() {
	s.mem.Seed(&models.SupplierInfo{ProductID: s.product.ID, Price: dec("8"), SupplierStock: 5, Delay: 2})
	l := s.listing("10", "20", false)
	s.snapshot(l, t0, offer("A1COMP", "16", "2", false, true), offer("A2OURS", "17", "3", true, false))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeChanged, d.Outcome)
	// (8 + 1.60 + 2) / 0.85 - 3, not the raw 14.50 target
	s.Equal("10.65", d.NewPrice.StringFixed(2))
	pct, _ := d.Margin.Percent.Float64()
	s.InDelta(20, pct, 0.1)
}

func (s *EngineTestSuite) TestChaseStepsBelowOwnPriceWhenBuyboxIsDearer() {
	l := s.listing("10", "60", false)
	s.snapshot(l, t0, offer("A1COMP", "19", "3", false, true), offer("A2OURS", "17", "3", true, false))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeChanged, d.Outcome)
	s.Equal("16.50", d.NewPrice.StringFixed(2))
}

func (s *EngineTestSuite) TestChasePercentageStep() {
	l := s.listing("10", "60", false)
	l.StepType = models.StepTypePercentage
	l.PriceStep = nullDec("10")
	s.Require().NoError(s.mem.SaveListing(s.ctx, l))
	s.snapshot(l, t0, offer("A1COMP", "16", "2", false, true), offer("A2OURS", "17", "3", true, false))

	d, err := s.engine.ChasePrice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	// 18 - 3 - 10% of 18
	s.Equal("13.20", d.NewPrice.StringFixed(2))
}

func (s *EngineTestSuite) TestChaseBelowMinMargin() {
	l := s.listing("30", "40", false)
	s.snapshot(l, t0, offer("A1COMP", "16", "2", false, true), offer("A2OURS", "17", "3", true, false))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNoChange, d.Outcome)
	s.Empty(s.writer.prices)
}

func (s *EngineTestSuite) TestChaseWithoutBuyboxData() {
	l := s.listing("10", "40", false)

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNoData, d.Outcome)

	s.snapshot(l, t0, offer("A1COMP", "16", "2", false, false))
	d, err = s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNoData, d.Outcome)
	s.Empty(s.writer.prices)
}

func (s *EngineTestSuite) TestExplicitDenyWins() {
	l := s.listing("10", "40", false)
	l.ChangePrices = models.ToggleAllow
	s.Require().NoError(s.mem.SaveListing(s.ctx, l))
	denied := &models.Product{AccountID: s.account.ID, Name: "Denied", ChangePrices: models.ToggleDeny}
	s.mem.Seed(denied)
	s.mem.Seed(&models.SupplierInfo{ProductID: denied.ID, Price: dec("10"), SupplierStock: 5})
	l.ProductID = denied.ID
	s.Require().NoError(s.mem.SaveListing(s.ctx, l))
	s.snapshot(l, t0, offer("A1COMP", "16", "2", false, true), offer("A2OURS", "17", "3", true, false))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNotPermitted, d.Outcome)
	s.Empty(s.writer.prices)

	d, err = s.engine.Reprice(s.ctx, l.ID, true)
	s.Require().NoError(err)
	s.Equal(OutcomeChanged, d.Outcome)
}

func (s *EngineTestSuite) TestRaiseFollowsCompetitorUp() {
	l := s.listing("10", "80", true)
	s.snapshot(l, t0, offer("A1COMP", "18", "3", false, false), offer("A2OURS", "17", "3", true, true))
	s.snapshot(l, t0.Add(time.Hour), offer("A1COMP", "19", "3", false, false), offer("A2OURS", "17", "3", true, true))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeChanged, d.Outcome)
	s.Equal(StrategyRaise, d.Strategy)
	s.Equal("18.00", d.NewPrice.StringFixed(2))
}

func (s *EngineTestSuite) TestRaiseNetsOwnMovement() {
	l := s.listing("10", "80", true)
	s.snapshot(l, t0, offer("A1COMP", "18", "3", false, false), offer("A2OURS", "16.50", "3", true, true))
	s.snapshot(l, t0.Add(time.Hour), offer("A1COMP", "20", "3", false, false), offer("A2OURS", "17", "3", true, true))

	d, err := s.engine.RaiseWithBuybox(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeChanged, d.Outcome)
	// 17 + 2 competitor move - 0.50 own move
	s.Equal("18.50", d.NewPrice.StringFixed(2))
}

func (s *EngineTestSuite) TestRaiseOutOfBounds() {
	l := s.listing("10", "40", true)
	s.snapshot(l, t0, offer("A1COMP", "18", "3", false, false), offer("A2OURS", "17", "3", true, true))
	s.snapshot(l, t0.Add(time.Hour), offer("A1COMP", "19", "3", false, false), offer("A2OURS", "17", "3", true, true))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNoChange, d.Outcome)
	s.Empty(s.writer.prices)
}

func (s *EngineTestSuite) TestRaiseNeverAfterOwnDrop() {
	l := s.listing("10", "80", true)
	s.snapshot(l, t0, offer("A1COMP", "18", "3", false, false), offer("A2OURS", "18", "3", true, true))
	s.snapshot(l, t0.Add(time.Hour), offer("A1COMP", "19", "3", false, false), offer("A2OURS", "17", "3", true, true))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNoChange, d.Outcome)
}

func (s *EngineTestSuite) TestRaiseNeedsTwoSnapshots() {
	l := s.listing("10", "80", true)
	s.snapshot(l, t0, offer("A1COMP", "18", "3", false, false), offer("A2OURS", "17", "3", true, true))

	d, err := s.engine.Reprice(s.ctx, l.ID, false)
	s.Require().NoError(err)
	s.Equal(OutcomeNoData, d.Outcome)
	s.Equal(StrategyRaise, d.Strategy)
}

func (s *EngineTestSuite) TestRetiredListing() {
	l := s.listing("10", "40", false)
	l.Status = models.ListingStatusRetired
	s.Require().NoError(s.mem.SaveListing(s.ctx, l))

	d, err := s.engine.Reprice(s.ctx, l.ID, true)
	s.Require().NoError(err)
	s.Equal(OutcomeNotApplicable, d.Outcome)
}

func (s *EngineTestSuite) TestMissingCostIsAnError() {
	bare := &models.Product{AccountID: s.account.ID, Name: "No cost"}
	s.mem.Seed(bare)
	l := s.listing("10", "40", false)
	l.ProductID = bare.ID
	s.Require().NoError(s.mem.SaveListing(s.ctx, l))

	_, err := s.engine.Reprice(s.ctx, l.ID, false)
	var missing *pricing.MissingCostError
	s.ErrorAs(err, &missing)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestPriceChangeAllowed(t *testing.T) {
	tests := []struct {
		name                      string
		listing, product, account models.Toggle
		want                      bool
	}{
		{"all inherit", models.ToggleInherit, models.ToggleInherit, models.ToggleInherit, false},
		{"account allows", models.ToggleInherit, models.ToggleInherit, models.ToggleAllow, true},
		{"listing allows", models.ToggleAllow, models.ToggleInherit, models.ToggleInherit, true},
		{"product denies over allows", models.ToggleAllow, models.ToggleDeny, models.ToggleAllow, false},
		{"account denies over listing allow", models.ToggleAllow, models.ToggleInherit, models.ToggleDeny, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PriceChangeAllowed(tt.listing, tt.product, tt.account))
		})
	}
}
