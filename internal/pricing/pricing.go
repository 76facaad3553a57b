// internal/pricing/pricing.go

// Package pricing turns a cost basis into a sale price for a target margin and
// back. All amounts are tax-included sale amounts in the listing currency.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultFeePercent is the marketplace fee assumed when neither the listing
// nor the account carries one.
const DefaultFeePercent = 15

var hundred = decimal.NewFromInt(100)

// TaxRule is a percentage tax included in the sale price.
type TaxRule struct {
	Name string
	Rate decimal.Decimal
}

// Inputs are the fixed terms a price or a margin is evaluated against.
type Inputs struct {
	Cost          decimal.Decimal
	FeePercent    decimal.Decimal
	ShippingCost  decimal.Decimal
	ShippingPrice decimal.Decimal
	Taxes         []TaxRule
}

// Margin is what is left of a sale after fee, taxes, cost and shipping cost.
type Margin struct {
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

// ComputeTax returns the tax portion included in amount.
func ComputeTax(amount decimal.Decimal, taxes []TaxRule) decimal.Decimal {
	total := decimal.Zero
	for _, t := range taxes {
		if t.Rate.Sign() <= 0 {
			continue
		}
		total = total.Add(amount.Mul(t.Rate).Div(hundred.Add(t.Rate)))
	}
	return total
}

// includedTaxShare is the fraction of a tax-included amount that goes to taxes.
func includedTaxShare(taxes []TaxRule) decimal.Decimal {
	return ComputeTax(decimal.NewFromInt(1), taxes)
}

// PriceForMargin returns the item price that yields marginPct over cost once
// fee and taxes are taken from the total (item price plus shipping price).
// The shipping price already charged separately is subtracted from the total.
func PriceForMargin(in Inputs, marginPct decimal.Decimal) (decimal.Decimal, error) {
	if in.Cost.Sign() <= 0 {
		return decimal.Zero, &MissingCostError{}
	}
	base := in.Cost.
		Add(in.Cost.Mul(marginPct).Div(hundred)).
		Add(in.ShippingCost)

	keep := decimal.NewFromInt(1).
		Sub(in.FeePercent.Div(hundred)).
		Sub(includedTaxShare(in.Taxes))
	if keep.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("fee %s%% and taxes leave nothing of the sale price", in.FeePercent)
	}

	total := base.Div(keep)
	return total.Sub(in.ShippingPrice).Round(2), nil
}

// MarginForPrice evaluates a sale at price plus shippingPrice. It returns nil
// when the cost is unknown, which callers must treat as "margin unknown".
func MarginForPrice(price, shippingPrice decimal.Decimal, in Inputs) *Margin {
	if in.Cost.Sign() <= 0 {
		return nil
	}
	total := price.Add(shippingPrice)
	fee := total.Mul(in.FeePercent).Div(hundred)
	taxes := ComputeTax(total, in.Taxes)
	amount := total.Sub(fee).Sub(taxes).Sub(in.Cost).Sub(in.ShippingCost)
	return &Margin{
		Amount:  amount.Round(2),
		Percent: amount.Div(in.Cost).Mul(hundred).Round(2),
	}
}

// FeePercent expresses a charged fee as a whole percentage of total.
func FeePercent(fee, total decimal.Decimal) decimal.Decimal {
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	return fee.Mul(hundred).Div(total).Round(0)
}
