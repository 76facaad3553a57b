// internal/models/listing.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing is a product published on one marketplace.
type Listing struct {
	BaseModel
	AccountID          uuid.UUID           `json:"account_id" gorm:"type:uuid;not null;index"`
	ProductID          uuid.UUID           `json:"product_id" gorm:"type:uuid;not null;index"`
	MarketplaceID      uuid.UUID           `json:"marketplace_id" gorm:"type:uuid;not null;index"`
	SKU                string              `json:"sku" gorm:"size:64;not null"`
	ASIN               string              `json:"asin" gorm:"size:20;index"`
	Price              decimal.Decimal     `json:"price" gorm:"type:decimal(12,2);default:0"`
	ShippingPrice      decimal.Decimal     `json:"shipping_price" gorm:"type:decimal(12,2);default:0"`
	Currency           string              `json:"currency" gorm:"size:3"`
	Stock              int                 `json:"stock" gorm:"default:0"`
	HandlingTime       *int                `json:"handling_time"`
	MinMargin          decimal.NullDecimal `json:"min_margin" gorm:"type:decimal(8,2)"`
	MaxMargin          decimal.NullDecimal `json:"max_margin" gorm:"type:decimal(8,2)"`
	PriceStep          decimal.NullDecimal `json:"price_step" gorm:"type:decimal(10,2)"`
	StepType           StepType            `json:"step_type" gorm:"type:varchar(20)"`
	ChangePrices       Toggle              `json:"change_prices" gorm:"type:varchar(1)"`
	StockSync          bool                `json:"stock_sync" gorm:"default:true"`
	FeePercent         decimal.NullDecimal `json:"fee_percent" gorm:"type:decimal(5,2)"`
	TotalFee           decimal.NullDecimal `json:"total_fee" gorm:"type:decimal(12,2)"`
	HasBuybox          bool                `json:"has_buybox" gorm:"default:false"`
	HasLowestPrice     bool                `json:"has_lowest_price" gorm:"default:false"`
	BuyboxPrice        decimal.NullDecimal `json:"buybox_price" gorm:"type:decimal(12,2)"`
	LowestPrice        decimal.NullDecimal `json:"lowest_price" gorm:"type:decimal(12,2)"`
	MarginAmount       decimal.NullDecimal `json:"margin_amount" gorm:"type:decimal(12,2)"`
	MarginPercent      decimal.NullDecimal `json:"margin_percent" gorm:"type:decimal(8,2)"`
	ShippingTemplate   string              `json:"shipping_template" gorm:"size:100"`
	Status             ListingStatus       `json:"status" gorm:"type:varchar(20);default:'active';index"`
	RetiredAt          *time.Time          `json:"retired_at"`
	FirstPriceSearched bool                `json:"first_price_searched" gorm:"default:false"`

	// Relationships
	Product     *Product     `json:"product,omitempty" gorm:"foreignKey:ProductID"`
	Marketplace *Marketplace `json:"marketplace,omitempty" gorm:"foreignKey:MarketplaceID"`
	Offers      []Offer      `json:"offers,omitempty" gorm:"foreignKey:ListingID"`
}

// Total is price plus shipping price.
func (l *Listing) Total() decimal.Decimal {
	return l.Price.Add(l.ShippingPrice)
}

func (l *Listing) Retired() bool {
	return l.Status == ListingStatusRetired
}
