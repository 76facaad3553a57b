// internal/models/account.go
package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Account is one seller identity on a marketplace backend. It carries the
// last level of every listing setting that falls back listing -> product -> account.
type Account struct {
	BaseModel
	Name              string              `json:"name" gorm:"size:100;not null"`
	SellerID          string              `json:"seller_id" gorm:"size:50;not null;uniqueIndex"`
	MarketplaceCodes  pq.StringArray      `json:"marketplace_codes" gorm:"type:text[]"`
	ChangePrices      Toggle              `json:"change_prices" gorm:"type:varchar(1)"`
	GetSupplierStock  Toggle              `json:"get_supplier_stock" gorm:"type:varchar(1)"`
	StockSync         bool                `json:"stock_sync" gorm:"default:true"`
	MinMargin         decimal.NullDecimal `json:"min_margin" gorm:"type:decimal(8,2)"`
	MaxMargin         decimal.NullDecimal `json:"max_margin" gorm:"type:decimal(8,2)"`
	PriceStep         decimal.NullDecimal `json:"price_step" gorm:"type:decimal(10,2)"`
	StepType          StepType            `json:"step_type" gorm:"type:varchar(20);default:'price'"`
	DefaultFeePercent decimal.NullDecimal `json:"default_fee_percent" gorm:"type:decimal(5,2)"`

	// Relationships
	Marketplaces []Marketplace `json:"marketplaces,omitempty" gorm:"foreignKey:AccountID"`
}

// Enabled reports whether automatic listing requests target the marketplace.
// An empty code list enables every marketplace of the account.
func (a *Account) Enabled(code string) bool {
	if len(a.MarketplaceCodes) == 0 {
		return true
	}
	for _, c := range a.MarketplaceCodes {
		if c == code {
			return true
		}
	}
	return false
}

type Marketplace struct {
	BaseModel
	AccountID        uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index"`
	Code             string    `json:"code" gorm:"size:20;not null;index"`
	Country          string    `json:"country" gorm:"size:2"`
	Currency         string    `json:"currency" gorm:"size:3"`
	DecimalSeparator string    `json:"decimal_separator" gorm:"size:1;default:'.'"`
	Language         string    `json:"language" gorm:"size:10"`
}

// FormatPrice renders an amount with two decimals and the marketplace separator.
func (m *Marketplace) FormatPrice(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	if m.DecimalSeparator != "" && m.DecimalSeparator != "." {
		s = strings.Replace(s, ".", m.DecimalSeparator, 1)
	}
	return s
}

type BrandBan struct {
	BaseModel
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index:idx_brand_bans_account_brand"`
	Brand     string    `json:"brand" gorm:"size:100;not null;index:idx_brand_bans_account_brand"`
}
