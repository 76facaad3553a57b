package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/marketsync/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func TestPriceForMarginRoundTrip(t *testing.T) {
	in := Inputs{
		Cost:         dec("10"),
		FeePercent:   dec("15"),
		ShippingCost: dec("2"),
	}

	price, err := PriceForMargin(in, dec("20"))
	require.NoError(t, err)
	assert.Equal(t, "16.47", price.StringFixed(2))

	m := MarginForPrice(price, decimal.Zero, in)
	require.NotNil(t, m)
	pct, _ := m.Percent.Float64()
	assert.InDelta(t, 20, pct, 0.1)
}

func TestPriceForMarginWithTaxesAndShippingPrice(t *testing.T) {
	in := Inputs{
		Cost:          dec("10"),
		FeePercent:    dec("15"),
		ShippingPrice: dec("3"),
		Taxes:         []TaxRule{{Name: "VAT", Rate: dec("20")}},
	}

	price, err := PriceForMargin(in, dec("20"))
	require.NoError(t, err)

	m := MarginForPrice(price, in.ShippingPrice, in)
	require.NotNil(t, m)
	pct, _ := m.Percent.Float64()
	assert.InDelta(t, 20, pct, 0.1)
}

func TestPriceForMarginMissingCost(t *testing.T) {
	_, err := PriceForMargin(Inputs{FeePercent: dec("15")}, dec("20"))

	var missing *MissingCostError
	assert.True(t, errors.As(err, &missing))
}

func TestPriceForMarginFeeEatsEverything(t *testing.T) {
	_, err := PriceForMargin(Inputs{Cost: dec("10"), FeePercent: dec("100")}, dec("20"))
	assert.Error(t, err)
}

func TestMarginForPriceUnknownCost(t *testing.T) {
	assert.Nil(t, MarginForPrice(dec("20"), decimal.Zero, Inputs{FeePercent: dec("15")}))
}

func TestComputeTax(t *testing.T) {
	tax := ComputeTax(dec("120"), []TaxRule{{Name: "VAT", Rate: dec("20")}})
	assert.True(t, tax.Equal(dec("20")), tax.String())

	assert.True(t, ComputeTax(dec("120"), nil).IsZero())
}

func TestFeePercent(t *testing.T) {
	assert.True(t, FeePercent(dec("3"), dec("20")).Equal(dec("15")))
	assert.True(t, FeePercent(dec("2.5"), dec("20")).Equal(dec("13")))
	assert.True(t, FeePercent(dec("3"), decimal.Zero).IsZero())
}

type fakeRules struct {
	defaults map[string]string
	rates    map[string]decimal.Decimal
	taxes    []TaxRule
}

func (f *fakeRules) Taxes(string, string) []TaxRule { return f.taxes }

func (f *fakeRules) DefaultTemplate(code string) (string, bool) {
	t, ok := f.defaults[code]
	return t, ok
}

func (f *fakeRules) CheapestShippingRate(template string, _ decimal.Decimal, _ int) (decimal.Decimal, bool) {
	r, ok := f.rates[template]
	return r, ok
}

func testListing() *models.Listing {
	return &models.Listing{
		Price:       dec("20"),
		Product:     &models.Product{Weight: dec("0.5")},
		Marketplace: &models.Marketplace{Code: "A13V1IB3VIYZZH", Country: "FR"},
	}
}

func TestCalculatorPriceForListing(t *testing.T) {
	calc := NewCalculator(&fakeRules{
		defaults: map[string]string{"A13V1IB3VIYZZH": "standard"},
		rates:    map[string]decimal.Decimal{"standard": dec("2")},
	})
	l := testListing()
	terms := Terms{FeePercent: dec("15")}

	price, err := calc.PriceForListing(l, terms, dec("10"), dec("20"))
	require.NoError(t, err)
	assert.Equal(t, "16.47", price.StringFixed(2))

	m := calc.MarginForListing(l, terms, dec("10"), price)
	require.NotNil(t, m)
	pct, _ := m.Percent.Float64()
	assert.InDelta(t, 20, pct, 0.1)
}

func TestCalculatorShippingConfigMissing(t *testing.T) {
	calc := NewCalculator(&fakeRules{})
	_, err := calc.PriceForListing(testListing(), Terms{FeePercent: dec("15")}, dec("10"), dec("20"))

	var missing *ShippingConfigMissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "A13V1IB3VIYZZH", missing.Marketplace)
	assert.Empty(t, missing.Template)

	calc = NewCalculator(&fakeRules{defaults: map[string]string{"A13V1IB3VIYZZH": "heavy"}})
	_, err = calc.PriceForListing(testListing(), Terms{FeePercent: dec("15")}, dec("10"), dec("20"))
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "heavy", missing.Template)
}

func TestCalculatorMissingCost(t *testing.T) {
	calc := NewCalculator(&fakeRules{})
	_, err := calc.PriceForListing(testListing(), Terms{}, decimal.Zero, dec("20"))

	var missing *MissingCostError
	assert.True(t, errors.As(err, &missing))
}

func TestResolveTerms(t *testing.T) {
	account := &models.Account{
		MinMargin:         nullDec("5"),
		MaxMargin:         nullDec("50"),
		PriceStep:         nullDec("0.10"),
		DefaultFeePercent: nullDec("12"),
	}
	product := &models.Product{MaxMargin: nullDec("40"), StepType: models.StepTypePercentage}
	listing := &models.Listing{MinMargin: nullDec("8")}

	terms := ResolveTerms(listing, product, account, dec("15"))
	assert.True(t, terms.MinMargin.Decimal.Equal(dec("8")))
	assert.True(t, terms.MaxMargin.Decimal.Equal(dec("40")))
	assert.True(t, terms.Step.Equal(dec("0.10")))
	assert.Equal(t, models.StepTypePercentage, terms.StepType)
	assert.True(t, terms.FeePercent.Equal(dec("12")))

	bare := ResolveTerms(&models.Listing{}, &models.Product{}, &models.Account{}, dec("15"))
	assert.False(t, bare.MinMargin.Valid)
	assert.Equal(t, models.StepTypePrice, bare.StepType)
	assert.True(t, bare.FeePercent.Equal(dec("15")))
}

func TestMinimumPrice(t *testing.T) {
	calc := NewCalculator(&fakeRules{
		defaults: map[string]string{"A13V1IB3VIYZZH": "standard"},
		rates:    map[string]decimal.Decimal{"standard": dec("2")},
	})
	terms := Terms{FeePercent: dec("15"), MinMargin: nullDec("20")}

	l := testListing()
	l.Price = dec("12")
	price, err := calc.MinimumPrice(l, terms, dec("10"))
	require.NoError(t, err)
	assert.Equal(t, "16.47", price.StringFixed(2))

	l.Price = dec("25")
	price, err = calc.MinimumPrice(l, terms, dec("10"))
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("25")))
}
