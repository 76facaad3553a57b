// internal/offers/reconciler.go

// Package offers turns competitor offer notifications into offer snapshots
// and keeps each listing's live offers and buy box flags in line with its
// latest snapshot.
package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

// Result reports what processing a notification did. Processed is true when
// the notification is now marked processed, whether by this call or earlier.
type Result struct {
	Processed bool
	Duplicate bool
	Changed   bool
	Listings  []uuid.UUID
}

type Reconciler struct {
	store store.Store
	now   func() time.Time
}

func NewReconciler(st store.Store) *Reconciler {
	return &Reconciler{store: st, now: time.Now}
}

// Process reconciles one stored notification row. Copies delivered more than
// once are collapsed onto this row first, so a row that is gone was removed
// as a copy and is a duplicate. A malformed body leaves the row unprocessed
// with its error recorded.
func (r *Reconciler) Process(ctx context.Context, notificationRowID uuid.UUID) (*Result, error) {
	n, err := r.store.GetNotification(ctx, notificationRowID)
	if errors.Is(err, store.ErrNotFound) {
		logrus.WithField("row_id", notificationRowID).Debug("Notification copy already collapsed")
		return &Result{Processed: true, Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}

	done, err := r.dedup(ctx, n)
	if err != nil {
		return nil, err
	}
	if done {
		return &Result{Processed: true, Duplicate: true}, nil
	}

	parsed, err := ParseNotification([]byte(n.Body))
	if err != nil {
		n.Error = err.Error()
		if saveErr := r.store.SaveNotification(ctx, n); saveErr != nil {
			logrus.WithError(saveErr).WithField("notification_id", n.NotificationID).Error("Failed to record notification error")
		}
		return nil, err
	}

	account, err := r.store.GetAccount(ctx, n.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	listings, err := r.store.FindListingsByASIN(ctx, account.ID, parsed.MarketplaceID, parsed.ASIN)
	if err != nil {
		return nil, fmt.Errorf("failed to find listings: %w", err)
	}

	result := &Result{Processed: true}
	for i := range listings {
		created, err := r.materialize(ctx, account, &listings[i], n.NotificationID, parsed)
		if err != nil {
			return nil, err
		}
		if created {
			result.Changed = true
			result.Listings = append(result.Listings, listings[i].ID)
		}
	}

	if len(listings) == 0 {
		logrus.WithFields(logrus.Fields{
			"notification_id": n.NotificationID,
			"asin":            parsed.ASIN,
			"marketplace":     parsed.MarketplaceID,
		}).Debug("No listing matches offer notification")
	}

	now := r.now()
	n.Processed = true
	n.ProcessedAt = &now
	n.Error = ""
	if err := r.store.SaveNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to mark notification processed: %w", err)
	}
	return result, nil
}

// dedup removes every other stored copy of n. It reports true when n or any
// copy was already processed, in which case n is marked processed too.
func (r *Reconciler) dedup(ctx context.Context, n *models.OfferNotification) (bool, error) {
	copies, err := r.store.NotificationsByID(ctx, n.NotificationID)
	if err != nil {
		return false, fmt.Errorf("failed to load notification copies: %w", err)
	}

	processed := n.Processed
	var drop []uuid.UUID
	for _, c := range copies {
		if c.ID == n.ID {
			continue
		}
		if c.Processed {
			processed = true
		}
		drop = append(drop, c.ID)
	}
	if len(drop) > 0 {
		if err := r.store.DeleteNotifications(ctx, drop); err != nil {
			return false, fmt.Errorf("failed to delete duplicate notifications: %w", err)
		}
	}

	if processed && !n.Processed {
		now := r.now()
		n.Processed = true
		n.ProcessedAt = &now
		if err := r.store.SaveNotification(ctx, n); err != nil {
			return false, fmt.Errorf("failed to mark notification processed: %w", err)
		}
	}
	return processed, nil
}

// materialize stores the notification as a snapshot of the listing unless one
// already exists for the same change time.
func (r *Reconciler) materialize(ctx context.Context, account *models.Account, listing *models.Listing, notificationID string, n *Notification) (bool, error) {
	exists, err := r.store.SnapshotExists(ctx, listing.ID, n.ChangedAt)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot: %w", err)
	}
	if exists {
		return false, nil
	}

	snapshot := BuildSnapshot(account, listing, notificationID, n)
	err = r.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to create snapshot: %w", err)
		}
		return rebuildLiveOffers(ctx, tx, listing)
	})
	if err != nil {
		return false, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id":  listing.ID,
		"offer_date":  n.ChangedAt,
		"offers":      len(snapshot.Offers),
		"has_buybox":  listing.HasBuybox,
		"lowest_ours": listing.HasLowestPrice,
	}).Info("Offer snapshot stored")
	return true, nil
}

// BuildSnapshot tags each offer as ours, buy box and lowest price for the listing.
func BuildSnapshot(account *models.Account, listing *models.Listing, notificationID string, n *Notification) *models.OfferSnapshot {
	snapshot := &models.OfferSnapshot{
		ListingID:      listing.ID,
		OfferDate:      n.ChangedAt,
		NotificationID: notificationID,
		LowestPrice:    n.LowestLanded,
	}

	lowest := n.LowestLanded
	if !lowest.Valid {
		for _, o := range n.Offers {
			if t := o.Total(); !lowest.Valid || t.LessThan(lowest.Decimal) {
				lowest = decimal.NewNullDecimal(t)
			}
		}
	}

	country := ""
	if listing.Marketplace != nil {
		country = listing.Marketplace.Country
	}

	for _, o := range n.Offers {
		data := models.OfferData{
			SellerID:         o.SellerID,
			Condition:        o.SubCondition,
			Price:            o.Price,
			Currency:         o.Currency,
			ShippingPrice:    o.ShippingPrice,
			ShippingCurrency: o.ShippingCurrency,
			FulfilledByMkt:   o.FulfilledByMkt,
			FeedbackRating:   o.FeedbackRating,
			FeedbackCount:    o.FeedbackCount,
			ShipsFrom:        o.ShipsFrom,
			IsPrime:          o.IsPrime,
			IsBuybox:         o.IsBuybox,
			IsOurOffer:       o.SellerID == account.SellerID,
		}
		if o.ShipsDomestically && country != "" {
			data.ShipsFrom = country
		}
		if lowest.Valid && o.Total().Equal(lowest.Decimal) {
			data.IsLowestPrice = true
		}
		snapshot.Offers = append(snapshot.Offers, models.SnapshotOffer{OfferData: data})
	}
	return snapshot
}

// RebuildLiveOffers replaces the listing's live offers when they are older
// than its latest snapshot and refreshes the buy box fields from it.
func (r *Reconciler) RebuildLiveOffers(ctx context.Context, listing *models.Listing) error {
	return rebuildLiveOffers(ctx, r.store, listing)
}

func rebuildLiveOffers(ctx context.Context, st store.Store, listing *models.Listing) error {
	latest, err := st.LatestSnapshots(ctx, listing.ID, 1)
	if err != nil {
		return fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if len(latest) == 0 {
		return nil
	}
	snapshot := latest[0]

	live, err := st.LiveOffers(ctx, listing.ID)
	if err != nil {
		return fmt.Errorf("failed to load live offers: %w", err)
	}
	if stale(live, snapshot.OfferDate) {
		offers := make([]models.Offer, 0, len(snapshot.Offers))
		for _, o := range snapshot.Offers {
			offers = append(offers, models.Offer{
				ListingID: listing.ID,
				OfferDate: snapshot.OfferDate,
				OfferData: o.OfferData,
			})
		}
		if err := st.ReplaceLiveOffers(ctx, listing.ID, offers); err != nil {
			return fmt.Errorf("failed to replace live offers: %w", err)
		}
	}

	applySnapshot(listing, &snapshot)
	if err := st.SaveListing(ctx, listing); err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}
	return nil
}

func stale(live []models.Offer, latest time.Time) bool {
	if len(live) == 0 {
		return true
	}
	for _, o := range live {
		if o.OfferDate.Before(latest) {
			return true
		}
	}
	return false
}

// applySnapshot sets the buy box and lowest price fields of the listing. Both
// prices are landed totals.
func applySnapshot(listing *models.Listing, snapshot *models.OfferSnapshot) {
	bb, hasBB := snapshot.Buybox()
	listing.HasBuybox = hasBB && bb.IsOurOffer
	listing.BuyboxPrice = decimal.NullDecimal{}
	if hasBB {
		listing.BuyboxPrice = decimal.NewNullDecimal(bb.Total())
	}

	lowest := snapshot.LowestPrice
	listing.HasLowestPrice = false
	for _, o := range snapshot.Offers {
		if !snapshot.LowestPrice.Valid && (!lowest.Valid || o.Total().LessThan(lowest.Decimal)) {
			lowest = decimal.NewNullDecimal(o.Total())
		}
		if o.IsOurOffer && o.IsLowestPrice {
			listing.HasLowestPrice = true
		}
	}
	listing.LowestPrice = lowest
}

// IsMalformed reports whether err comes from an unreadable notification.
func IsMalformed(err error) bool {
	var m *MalformedNotificationError
	return errors.As(err, &m)
}
