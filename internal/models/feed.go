// internal/models/feed.go
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeedRequest is one queued outbound change. Only the exporter touches it
// after creation, to mark it launched.
type FeedRequest struct {
	BaseModel
	AccountID       uuid.UUID  `json:"account_id" gorm:"type:uuid;not null;index"`
	Type            FeedType   `json:"type" gorm:"type:varchar(30);not null;index"`
	ListingID       *uuid.UUID `json:"listing_id,omitempty" gorm:"type:uuid;index"`
	ProductID       *uuid.UUID `json:"product_id,omitempty" gorm:"type:uuid;index"`
	MarketplaceCode string     `json:"marketplace_code" gorm:"size:20"`
	Payload         JSONB      `json:"payload" gorm:"type:jsonb"`
	Launched        bool       `json:"launched" gorm:"default:false;index"`
	LaunchedAt      *time.Time `json:"launched_at"`
	FeedID          string     `json:"feed_id,omitempty" gorm:"size:100"`
}

// FeedPayload is implemented by the typed row of every feed type.
type FeedPayload interface {
	FeedType() FeedType
}

// StockPayload updates quantity only.
type StockPayload struct {
	SKU             string `json:"sku"`
	Quantity        string `json:"quantity"`
	MarketplaceCode string `json:"id_mws"`
}

func (StockPayload) FeedType() FeedType { return FeedTypeUpdateStock }

// StockPricePayload updates quantity, price and handling time.
type StockPricePayload struct {
	SKU             string `json:"sku"`
	Quantity        string `json:"quantity"`
	Price           string `json:"price"`
	Currency        string `json:"currency"`
	HandlingTime    string `json:"handling-time"`
	MarketplaceCode string `json:"id_mws"`
}

func (StockPricePayload) FeedType() FeedType { return FeedTypeUpdateStockPrice }

// NewListingPayload is one row of an inventory loader submission.
type NewListingPayload struct {
	SKU             string `json:"sku"`
	ProductID       string `json:"product-id"`
	ProductIDType   string `json:"product-id-type"`
	Price           string `json:"price"`
	ItemCondition   string `json:"item-condition"`
	Quantity        string `json:"quantity"`
	AddDelete       string `json:"add-delete"`
	HandlingTime    string `json:"handling-time"`
	MarketplaceCode string `json:"id_mws"`
}

func (NewListingPayload) FeedType() FeedType { return FeedTypeAddProducts }

// NewFeedRequest builds a request whose type always matches its payload.
func NewFeedRequest(accountID uuid.UUID, marketplaceCode string, payload FeedPayload) (*FeedRequest, error) {
	doc, err := ToJSONB(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", payload.FeedType(), err)
	}
	return &FeedRequest{
		AccountID:       accountID,
		Type:            payload.FeedType(),
		MarketplaceCode: marketplaceCode,
		Payload:         doc,
	}, nil
}

// ProductToCreate records a product that matched no catalog entry on any
// marketplace and must be created by hand.
type ProductToCreate struct {
	BaseModel
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID `json:"product_id" gorm:"type:uuid;not null;index"`
	Reason    string    `json:"reason" gorm:"size:255"`
}
