// internal/models/offer.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferData is one seller's position on a listing at a point in time.
type OfferData struct {
	SellerID         string          `json:"seller_id" gorm:"size:50;not null"`
	Condition        string          `json:"condition" gorm:"size:20"`
	Price            decimal.Decimal `json:"price" gorm:"type:decimal(12,2);default:0"`
	Currency         string          `json:"currency" gorm:"size:3"`
	ShippingPrice    decimal.Decimal `json:"shipping_price" gorm:"type:decimal(12,2);default:0"`
	ShippingCurrency string          `json:"shipping_currency" gorm:"size:3"`
	FulfilledByMkt   bool            `json:"fulfilled_by_marketplace"`
	FeedbackRating   int             `json:"feedback_rating"`
	FeedbackCount    int             `json:"feedback_count"`
	ShipsFrom        string          `json:"ships_from" gorm:"size:2"`
	IsPrime          bool            `json:"is_prime"`
	IsBuybox         bool            `json:"is_buybox"`
	IsLowestPrice    bool            `json:"is_lowest_price"`
	IsOurOffer       bool            `json:"is_our_offer"`
}

// Total is price plus shipping price.
func (o OfferData) Total() decimal.Decimal {
	return o.Price.Add(o.ShippingPrice)
}

// Offer is a live offer. The live set of a listing always mirrors its latest snapshot.
type Offer struct {
	BaseModel
	ListingID uuid.UUID `json:"listing_id" gorm:"type:uuid;not null;index"`
	OfferDate time.Time `json:"offer_date" gorm:"not null"`
	OfferData
}

// OfferSnapshot is an immutable capture of every offer on a listing at OfferDate.
type OfferSnapshot struct {
	BaseModel
	ListingID      uuid.UUID           `json:"listing_id" gorm:"type:uuid;not null;uniqueIndex:idx_snapshot_listing_date"`
	OfferDate      time.Time           `json:"offer_date" gorm:"not null;uniqueIndex:idx_snapshot_listing_date"`
	NotificationID string              `json:"notification_id" gorm:"size:100"`
	LowestPrice    decimal.NullDecimal `json:"lowest_price" gorm:"type:decimal(12,2)"`

	Offers []SnapshotOffer `json:"offers" gorm:"foreignKey:SnapshotID"`
}

type SnapshotOffer struct {
	BaseModel
	SnapshotID uuid.UUID `json:"snapshot_id" gorm:"type:uuid;not null;index"`
	OfferData
}

// Ours returns our own offer in the snapshot, if any.
func (s *OfferSnapshot) Ours() (OfferData, bool) {
	for _, o := range s.Offers {
		if o.IsOurOffer {
			return o.OfferData, true
		}
	}
	return OfferData{}, false
}

// Buybox returns the buy box winner of the snapshot, if any.
func (s *OfferSnapshot) Buybox() (OfferData, bool) {
	for _, o := range s.Offers {
		if o.IsBuybox {
			return o.OfferData, true
		}
	}
	return OfferData{}, false
}

// LowestCompetitorTotal returns the lowest total among offers that are not ours.
func (s *OfferSnapshot) LowestCompetitorTotal() (decimal.Decimal, bool) {
	var lowest decimal.Decimal
	found := false
	for _, o := range s.Offers {
		if o.IsOurOffer {
			continue
		}
		if t := o.Total(); !found || t.LessThan(lowest) {
			lowest = t
			found = true
		}
	}
	return lowest, found
}

// OfferNotification is a raw offer-change message as received. Duplicate
// deliveries are stored as separate rows sharing NotificationID.
type OfferNotification struct {
	BaseModel
	AccountID      uuid.UUID  `json:"account_id" gorm:"type:uuid;not null;index"`
	NotificationID string     `json:"notification_id" gorm:"size:100;not null;index"`
	Body           string     `json:"-" gorm:"type:text"`
	Processed      bool       `json:"processed" gorm:"default:false;index"`
	ProcessedAt    *time.Time `json:"processed_at"`
	Error          string     `json:"error,omitempty" gorm:"type:text"`
}
