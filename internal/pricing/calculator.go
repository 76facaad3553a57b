// internal/pricing/calculator.go
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketsync/internal/models"
)

// RulesProvider supplies taxes and shipping costs.
type RulesProvider interface {
	Taxes(taxClass, country string) []TaxRule
	DefaultTemplate(marketplaceCode string) (string, bool)
	CheapestShippingRate(template string, weight decimal.Decimal, qty int) (decimal.Decimal, bool)
}

// Terms are the effective pricing settings of a listing after falling back
// listing -> product -> account.
type Terms struct {
	MinMargin  decimal.NullDecimal
	MaxMargin  decimal.NullDecimal
	Step       decimal.Decimal
	StepType   models.StepType
	FeePercent decimal.Decimal
}

// ResolveTerms applies the fallback chain. The fee falls back listing ->
// account -> defaultFee.
func ResolveTerms(l *models.Listing, p *models.Product, a *models.Account, defaultFee decimal.Decimal) Terms {
	t := Terms{
		MinMargin:  firstValid(l.MinMargin, p.MinMargin, a.MinMargin),
		MaxMargin:  firstValid(l.MaxMargin, p.MaxMargin, a.MaxMargin),
		FeePercent: defaultFee,
		StepType:   models.StepTypePrice,
	}
	if step := firstValid(l.PriceStep, p.PriceStep, a.PriceStep); step.Valid {
		t.Step = step.Decimal
	}
	for _, st := range []models.StepType{l.StepType, p.StepType, a.StepType} {
		if st != "" {
			t.StepType = st
			break
		}
	}
	if fee := firstValid(l.FeePercent, a.DefaultFeePercent); fee.Valid {
		t.FeePercent = fee.Decimal
	}
	return t
}

func firstValid(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

// Calculator prices listings against the tax and shipping rules.
type Calculator struct {
	rules RulesProvider
}

func NewCalculator(rules RulesProvider) *Calculator {
	return &Calculator{rules: rules}
}

func (c *Calculator) taxes(l *models.Listing) []TaxRule {
	taxClass, country := "", ""
	if l.Product != nil {
		taxClass = l.Product.TaxClass
	}
	if l.Marketplace != nil {
		country = l.Marketplace.Country
	}
	return c.rules.Taxes(taxClass, country)
}

func weight(l *models.Listing) decimal.Decimal {
	if l.Product == nil {
		return decimal.Zero
	}
	return l.Product.Weight
}

func marketplaceCode(l *models.Listing) string {
	if l.Marketplace == nil {
		return ""
	}
	return l.Marketplace.Code
}

// ShippingCost is the cheapest carrier rate of the listing's shipping
// template, or of the marketplace default template when the listing has none.
func (c *Calculator) ShippingCost(l *models.Listing) (decimal.Decimal, error) {
	code := marketplaceCode(l)
	template := l.ShippingTemplate
	if template == "" {
		var ok bool
		if template, ok = c.rules.DefaultTemplate(code); !ok {
			return decimal.Zero, &ShippingConfigMissingError{Marketplace: code}
		}
	}
	rate, ok := c.rules.CheapestShippingRate(template, weight(l), 1)
	if !ok {
		return decimal.Zero, &ShippingConfigMissingError{Marketplace: code, Template: template}
	}
	return rate, nil
}

// PriceForListing returns the item price giving marginPct on the listing's
// marketplace, keeping its current shipping price.
func (c *Calculator) PriceForListing(l *models.Listing, terms Terms, cost, marginPct decimal.Decimal) (decimal.Decimal, error) {
	if cost.Sign() <= 0 {
		return decimal.Zero, &MissingCostError{ProductID: l.ProductID}
	}
	shipCost, err := c.ShippingCost(l)
	if err != nil {
		return decimal.Zero, err
	}
	return PriceForMargin(Inputs{
		Cost:          cost,
		FeePercent:    terms.FeePercent,
		ShippingCost:  shipCost,
		ShippingPrice: l.ShippingPrice,
		Taxes:         c.taxes(l),
	}, marginPct)
}

// MarginForListing evaluates price on the listing with its current shipping
// price. Nil means the margin is unknown. Missing shipping configuration counts
// as zero shipping cost here; only pricing treats it as fatal.
func (c *Calculator) MarginForListing(l *models.Listing, terms Terms, cost, price decimal.Decimal) *Margin {
	shipCost, err := c.ShippingCost(l)
	if err != nil {
		shipCost = decimal.Zero
	}
	return MarginForPrice(price, l.ShippingPrice, Inputs{
		Cost:         cost,
		FeePercent:   terms.FeePercent,
		ShippingCost: shipCost,
		Taxes:        c.taxes(l),
	})
}

// MinimumPrice returns the min-margin price when the current price sits below
// the min margin, and the current price otherwise.
func (c *Calculator) MinimumPrice(l *models.Listing, terms Terms, cost decimal.Decimal) (decimal.Decimal, error) {
	m := c.MarginForListing(l, terms, cost, l.Price)
	if m == nil || !terms.MinMargin.Valid || !m.Percent.LessThan(terms.MinMargin.Decimal) {
		return l.Price, nil
	}
	return c.PriceForListing(l, terms, cost, terms.MinMargin.Decimal)
}
