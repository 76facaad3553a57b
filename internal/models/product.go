// internal/models/product.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	BaseModel
	AccountID        uuid.UUID           `json:"account_id" gorm:"type:uuid;not null;index"`
	Name             string              `json:"name" gorm:"size:255;not null"`
	SKU              string              `json:"sku" gorm:"size:64;index"`
	Barcode          string              `json:"barcode" gorm:"size:32;index"`
	Brand            string              `json:"brand" gorm:"size:100;index"`
	TaxClass         string              `json:"tax_class" gorm:"size:50;default:'standard'"`
	Weight           decimal.Decimal     `json:"weight" gorm:"type:decimal(10,3);default:0"`
	QtyAvailable     int                 `json:"qty_available" gorm:"default:0"`
	VirtualAvailable int                 `json:"virtual_available" gorm:"default:0"`
	GetSupplierStock Toggle              `json:"get_supplier_stock" gorm:"type:varchar(1)"`
	ChangePrices     Toggle              `json:"change_prices" gorm:"type:varchar(1)"`
	StockSync        bool                `json:"stock_sync" gorm:"default:true"`
	MinMargin        decimal.NullDecimal `json:"min_margin" gorm:"type:decimal(8,2)"`
	MaxMargin        decimal.NullDecimal `json:"max_margin" gorm:"type:decimal(8,2)"`
	PriceStep        decimal.NullDecimal `json:"price_step" gorm:"type:decimal(10,2)"`
	StepType         StepType            `json:"step_type" gorm:"type:varchar(20)"`

	// Relationships
	BomLines  []BomLine      `json:"bom_lines,omitempty" gorm:"foreignKey:ParentID"`
	Suppliers []SupplierInfo `json:"suppliers,omitempty" gorm:"foreignKey:ProductID"`
	Listings  []Listing      `json:"listings,omitempty" gorm:"foreignKey:ProductID"`
}

// BomLine says that one unit of Parent consumes Quantity units of Component.
type BomLine struct {
	BaseModel
	ParentID    uuid.UUID       `json:"parent_id" gorm:"type:uuid;not null;index"`
	ComponentID uuid.UUID       `json:"component_id" gorm:"type:uuid;not null;index"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(10,3);not null;default:1"`
}

// PerUnit returns the component quantity per parent unit, treating zero as one.
func (l BomLine) PerUnit() decimal.Decimal {
	if l.Quantity.Sign() <= 0 {
		return decimal.NewFromInt(1)
	}
	return l.Quantity
}

type SupplierInfo struct {
	BaseModel
	ProductID        uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	SupplierName     string          `json:"supplier_name" gorm:"size:100"`
	Price            decimal.Decimal `json:"price" gorm:"type:decimal(12,4);not null"`
	DateEnd          *time.Time      `json:"date_end"`
	SupplierStock    int             `json:"supplier_stock" gorm:"default:0"`
	Delay            int             `json:"delay" gorm:"default:1"`
	GetSupplierStock Toggle          `json:"get_supplier_stock" gorm:"type:varchar(1)"`
	AutoExport       bool            `json:"auto_export" gorm:"default:false"`
}

// Valid reports whether the supplier offer has not expired at t.
func (s SupplierInfo) Valid(t time.Time) bool {
	return s.DateEnd == nil || s.DateEnd.After(t)
}

type PurchaseLine struct {
	BaseModel
	ProductID   uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	PriceUnit   decimal.Decimal `json:"price_unit" gorm:"type:decimal(12,4)"`
	DatePlanned time.Time       `json:"date_planned" gorm:"index"`
	State       PurchaseState   `json:"state" gorm:"type:varchar(20);default:'draft'"`
}
