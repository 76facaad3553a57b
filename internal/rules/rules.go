// internal/rules/rules.go

// Package rules loads the tax and shipping rules the pricing calculator
// evaluates listings against.
package rules

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/utils"
)

// DefaultTaxClass is used for products without a tax class.
const DefaultTaxClass = "standard"

// File is the YAML rules document.
type File struct {
	// TaxRates maps tax class -> country -> rules.
	TaxRates  map[string]map[string][]Tax `yaml:"taxes" validate:"dive,dive,dive"`
	Templates []Template                  `yaml:"shipping_templates" validate:"dive"`
}

type Tax struct {
	Name string  `yaml:"name" validate:"required"`
	Rate float64 `yaml:"rate" validate:"gte=0,lt=100"`
}

// Template is a named set of carriers. A marketplace's default template is
// used for listings that do not name one.
type Template struct {
	Name        string    `yaml:"name" validate:"required"`
	Marketplace string    `yaml:"marketplace"`
	Default     bool      `yaml:"default"`
	Carriers    []Carrier `yaml:"carriers" validate:"min=1,dive"`
}

type Carrier struct {
	Name  string `yaml:"name" validate:"required"`
	Rates []Rate `yaml:"rates" validate:"min=1,dive"`
}

// Rate is the price of a parcel up to MaxWeight.
type Rate struct {
	MaxWeight float64 `yaml:"max_weight" validate:"gt=0"`
	Price     float64 `yaml:"price" validate:"gte=0"`
}

// LoadFile loads and parses a YAML rules file from the given path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses and validates YAML rules.
func Parse(data []byte) (*File, error) {
	var f File

	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	applyDefaults(&f)

	if err := utils.ValidateStruct(&f); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	seen := make(map[string]bool, len(f.Templates))
	for _, t := range f.Templates {
		if seen[t.Name] {
			return nil, fmt.Errorf("invalid rules: duplicate shipping template %q", t.Name)
		}
		seen[t.Name] = true
	}

	return &f, nil
}

func applyDefaults(f *File) {
	if f.TaxRates == nil {
		f.TaxRates = map[string]map[string][]Tax{}
	}
	for i := range f.Templates {
		for j := range f.Templates[i].Carriers {
			rates := f.Templates[i].Carriers[j].Rates
			sort.SliceStable(rates, func(a, b int) bool {
				return rates[a].MaxWeight < rates[b].MaxWeight
			})
		}
	}
}

// Taxes returns the taxes of a tax class in a country.
func (f *File) Taxes(taxClass, country string) []pricing.TaxRule {
	if taxClass == "" {
		taxClass = DefaultTaxClass
	}
	var out []pricing.TaxRule
	for _, t := range f.TaxRates[taxClass][country] {
		out = append(out, pricing.TaxRule{Name: t.Name, Rate: decimal.NewFromFloat(t.Rate)})
	}
	return out
}

// ComputeTax returns the tax included in a tax-included amount.
func (f *File) ComputeTax(amount decimal.Decimal, taxClass, country string) decimal.Decimal {
	return pricing.ComputeTax(amount, f.Taxes(taxClass, country))
}

// DefaultTemplate returns the default shipping template of a marketplace.
func (f *File) DefaultTemplate(marketplaceCode string) (string, bool) {
	for _, t := range f.Templates {
		if t.Default && t.Marketplace == marketplaceCode {
			return t.Name, true
		}
	}
	return "", false
}

// CheapestShippingRate returns the cheapest carrier price for qty parcels of
// weight each. Carriers whose brackets stop below the total weight are skipped.
func (f *File) CheapestShippingRate(template string, weight decimal.Decimal, qty int) (decimal.Decimal, bool) {
	if qty < 1 {
		qty = 1
	}
	total, _ := weight.Mul(decimal.NewFromInt(int64(qty))).Float64()

	for _, t := range f.Templates {
		if t.Name != template {
			continue
		}
		var best decimal.Decimal
		found := false
		for _, c := range t.Carriers {
			for _, r := range c.Rates {
				if r.MaxWeight < total {
					continue
				}
				price := decimal.NewFromFloat(r.Price)
				if !found || price.LessThan(best) {
					best = price
					found = true
				}
				break
			}
		}
		return best, found
	}
	return decimal.Zero, false
}
