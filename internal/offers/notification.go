// internal/offers/notification.go
package offers

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MalformedNotificationError means the notification body lacks an element the
// reconciliation needs. Retrying it cannot succeed.
type MalformedNotificationError struct {
	Reason string
}

func (e *MalformedNotificationError) Error() string {
	return "malformed offer notification: " + e.Reason
}

func malformed(format string, args ...interface{}) error {
	return &MalformedNotificationError{Reason: fmt.Sprintf(format, args...)}
}

// Notification is a parsed any-offer-changed notification.
type Notification struct {
	MarketplaceID string
	ASIN          string
	ItemCondition string
	ChangedAt     time.Time
	// LowestLanded is the lowest landed price of the summary, if any.
	LowestLanded decimal.NullDecimal
	Offers       []NotifiedOffer
}

// NotifiedOffer is one seller's offer as it appears in the notification.
type NotifiedOffer struct {
	SellerID          string
	SubCondition      string
	Price             decimal.Decimal
	Currency          string
	ShippingPrice     decimal.Decimal
	ShippingCurrency  string
	FeedbackRating    int
	FeedbackCount     int
	FulfilledByMkt    bool
	IsBuybox          bool
	ShipsDomestically bool
	ShipsFrom         string
	IsPrime           bool
}

func (o NotifiedOffer) Total() decimal.Decimal {
	return o.Price.Add(o.ShippingPrice)
}

type xmlNotification struct {
	XMLName xml.Name    `xml:"Notification"`
	Payload *xmlPayload `xml:"NotificationPayload"`
}

type xmlPayload struct {
	Change *xmlOfferChanged `xml:"AnyOfferChangedNotification"`
}

type xmlOfferChanged struct {
	Trigger *xmlTrigger `xml:"OfferChangeTrigger"`
	Summary *xmlSummary `xml:"Summary"`
	Offers  []xmlOffer  `xml:"Offers>Offer"`
}

type xmlTrigger struct {
	MarketplaceID     string `xml:"MarketplaceId"`
	ASIN              string `xml:"ASIN"`
	ItemCondition     string `xml:"ItemCondition"`
	TimeOfOfferChange string `xml:"TimeOfOfferChange"`
}

type xmlSummary struct {
	LowestPrices []xmlLowestPrice `xml:"LowestPrices>LowestPrice"`
}

type xmlLowestPrice struct {
	Condition   string    `xml:"condition,attr"`
	LandedPrice *xmlMoney `xml:"LandedPrice"`
}

type xmlMoney struct {
	Amount       string `xml:"Amount"`
	CurrencyCode string `xml:"CurrencyCode"`
}

type xmlOffer struct {
	SellerID             string    `xml:"SellerId"`
	SubCondition         string    `xml:"SubCondition"`
	ListingPrice         *xmlMoney `xml:"ListingPrice"`
	Shipping             *xmlMoney `xml:"Shipping"`
	SellerFeedbackRating *struct {
		Positive int `xml:"SellerPositiveFeedbackRating"`
		Count    int `xml:"FeedbackCount"`
	} `xml:"SellerFeedbackRating"`
	IsFulfilledByAmazon bool   `xml:"IsFulfilledByAmazon"`
	IsBuyBoxWinner      bool   `xml:"IsBuyBoxWinner"`
	ShipsDomestically   bool   `xml:"ShipsDomestically"`
	ShipsFromCountry    string `xml:"ShipsFrom>Country"`
	PrimeInformation    *struct {
		IsPrime bool `xml:"IsPrime"`
	} `xml:"PrimeInformation"`
}

// ParseNotification decodes an any-offer-changed notification body. It fails
// with *MalformedNotificationError when the trigger, the marketplace, the ASIN
// or the change time is missing, or when an amount cannot be read.
func ParseNotification(body []byte) (*Notification, error) {
	var doc xmlNotification
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, malformed("invalid XML: %v", err)
	}
	if doc.Payload == nil || doc.Payload.Change == nil {
		return nil, malformed("missing AnyOfferChangedNotification")
	}
	change := doc.Payload.Change
	if change.Trigger == nil {
		return nil, malformed("missing OfferChangeTrigger")
	}

	t := change.Trigger
	n := &Notification{
		MarketplaceID: strings.TrimSpace(t.MarketplaceID),
		ASIN:          strings.TrimSpace(t.ASIN),
		ItemCondition: strings.TrimSpace(t.ItemCondition),
	}
	if n.MarketplaceID == "" {
		return nil, malformed("missing MarketplaceId")
	}
	if n.ASIN == "" {
		return nil, malformed("missing ASIN")
	}
	changedAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t.TimeOfOfferChange))
	if err != nil {
		return nil, malformed("invalid TimeOfOfferChange %q", t.TimeOfOfferChange)
	}
	n.ChangedAt = changedAt.UTC()

	if change.Summary != nil {
		for _, lp := range change.Summary.LowestPrices {
			if lp.LandedPrice == nil {
				continue
			}
			amount, err := parseAmount(lp.LandedPrice.Amount)
			if err != nil {
				return nil, err
			}
			if !n.LowestLanded.Valid || amount.LessThan(n.LowestLanded.Decimal) {
				n.LowestLanded = decimal.NewNullDecimal(amount)
			}
		}
	}

	for i, o := range change.Offers {
		sellerID := strings.TrimSpace(o.SellerID)
		if sellerID == "" {
			return nil, malformed("offer %d has no SellerId", i)
		}
		offer := NotifiedOffer{
			SellerID:          sellerID,
			SubCondition:      strings.TrimSpace(o.SubCondition),
			FulfilledByMkt:    o.IsFulfilledByAmazon,
			IsBuybox:          o.IsBuyBoxWinner,
			ShipsDomestically: o.ShipsDomestically,
			ShipsFrom:         strings.TrimSpace(o.ShipsFromCountry),
		}
		if o.ListingPrice != nil {
			if offer.Price, err = parseAmount(o.ListingPrice.Amount); err != nil {
				return nil, err
			}
			offer.Currency = strings.TrimSpace(o.ListingPrice.CurrencyCode)
		}
		if o.Shipping != nil {
			if offer.ShippingPrice, err = parseAmount(o.Shipping.Amount); err != nil {
				return nil, err
			}
			offer.ShippingCurrency = strings.TrimSpace(o.Shipping.CurrencyCode)
		}
		if fb := o.SellerFeedbackRating; fb != nil {
			offer.FeedbackRating = fb.Positive
			offer.FeedbackCount = fb.Count
		}
		if o.PrimeInformation != nil {
			offer.IsPrime = o.PrimeInformation.IsPrime
		}
		n.Offers = append(n.Offers, offer)
	}

	return n, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, malformed("invalid amount %q", s)
	}
	return d, nil
}
