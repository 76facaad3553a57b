package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/store"
)

const (
	frCode = "A13V1IB3VIYZZH"
	asin   = "B0WIDGET01"
)

type flatRules struct{}

func (flatRules) Taxes(string, string) []pricing.TaxRule { return nil }

func (flatRules) DefaultTemplate(string) (string, bool) { return "standard", true }

func (flatRules) CheapestShippingRate(string, decimal.Decimal, int) (decimal.Decimal, bool) {
	return decimal.NewFromInt(2), true
}

func offerNotification(changedAt string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Notification>
  <NotificationMetaData><NotificationType>AnyOfferChanged</NotificationType></NotificationMetaData>
  <NotificationPayload>
    <AnyOfferChangedNotification>
      <OfferChangeTrigger>
        <MarketplaceId>%s</MarketplaceId>
        <ASIN>%s</ASIN>
        <ItemCondition>new</ItemCondition>
        <TimeOfOfferChange>%s</TimeOfOfferChange>
      </OfferChangeTrigger>
      <Offers>
        <Offer>
          <SellerId>A3COMP</SellerId>
          <SubCondition>new</SubCondition>
          <SellerFeedbackRating>
            <SellerPositiveFeedbackRating>97</SellerPositiveFeedbackRating>
            <FeedbackCount>1520</FeedbackCount>
          </SellerFeedbackRating>
          <ListingPrice><Amount>18.00</Amount><CurrencyCode>EUR</CurrencyCode></ListingPrice>
          <Shipping><Amount>0.00</Amount><CurrencyCode>EUR</CurrencyCode></Shipping>
          <IsFulfilledByAmazon>false</IsFulfilledByAmazon>
          <IsBuyBoxWinner>true</IsBuyBoxWinner>
          <ShipsDomestically>true</ShipsDomestically>
          <PrimeInformation><IsPrime>false</IsPrime></PrimeInformation>
        </Offer>
      </Offers>
    </AnyOfferChangedNotification>
  </NotificationPayload>
</Notification>`, frCode, asin, changedAt)
}

type SyncServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	mem     *store.Memory
	adapter *marketplace.MockAdapter
	svc     *SyncService
	runner  *jobs.Runner
	account *models.Account
	mk      *models.Marketplace
	product *models.Product
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = store.NewMemory()
	s.adapter = marketplace.NewMockAdapter()
	s.svc = NewSyncService(s.mem, flatRules{}, s.adapter, nil, SyncOptions{})
	s.runner = jobs.NewRunner(s.mem, jobs.RunnerOptions{})
	s.svc.RegisterHandlers(s.runner)

	s.account = &models.Account{
		Name:      "main",
		SellerID:  "A2OURS",
		StockSync: true,
		MinMargin: decimal.NewNullDecimal(decimal.NewFromInt(5)),
		MaxMargin: decimal.NewNullDecimal(decimal.NewFromInt(20)),
	}
	s.mem.Seed(s.account)
	s.mk = &models.Marketplace{AccountID: s.account.ID, Code: frCode, Country: "FR", Currency: "EUR", DecimalSeparator: ","}
	s.product = &models.Product{
		AccountID:        s.account.ID,
		Name:             "Blue Widget 500ml",
		SKU:              "W-1",
		Barcode:          "3700000000017",
		StockSync:        true,
		QtyAvailable:     6,
		VirtualAvailable: 6,
	}
	s.mem.Seed(s.mk, s.product)
	s.mem.Seed(&models.SupplierInfo{ProductID: s.product.ID, Price: decimal.NewFromInt(10), SupplierStock: 5, Delay: 2})
}

func (s *SyncServiceTestSuite) listing() *models.Listing {
	handling := 2
	l := &models.Listing{
		AccountID:     s.account.ID,
		ProductID:     s.product.ID,
		MarketplaceID: s.mk.ID,
		SKU:           s.product.SKU,
		ASIN:          asin,
		Price:         decimal.NewFromInt(17),
		Currency:      "EUR",
		Stock:         3,
		HandlingTime:  &handling,
		StockSync:     true,
		Status:        models.ListingStatusActive,
	}
	s.mem.Seed(l)
	return l
}

func (s *SyncServiceTestSuite) enqueue(method, key string, id fmt.Stringer) {
	_, err := s.svc.Queue().Enqueue(s.ctx, jobs.Spec{
		Description: method + ":" + id.String(),
		Method:      method,
		Args:        models.JSONB{key: id.String()},
	})
	s.Require().NoError(err)
}

// drain runs jobs until none is due and returns them by method.
func (s *SyncServiceTestSuite) drain() map[string][]models.Job {
	for i := 0; i < 20; i++ {
		ran, err := s.runner.RunOnce(s.ctx)
		s.Require().NoError(err)
		if !ran {
			break
		}
	}
	out := make(map[string][]models.Job)
	for _, j := range s.mem.Jobs() {
		out[j.Method] = append(out[j.Method], j)
	}
	return out
}

func (s *SyncServiceTestSuite) TestNotificationFlowsIntoRepricing() {
	l := s.listing()

	_, err := s.svc.Notifications().Ingest(s.ctx, s.account.ID, "n-1", offerNotification("2024-03-01T10:15:30.123Z"))
	s.Require().NoError(err)

	byMethod := s.drain()
	s.Require().Len(byMethod[jobs.MethodProcessNotification], 1)
	s.Equal(models.JobStateDone, byMethod[jobs.MethodProcessNotification][0].State)

	s.Require().Len(byMethod[jobs.MethodChangePrice], 1)
	change := byMethod[jobs.MethodChangePrice][0]
	s.Equal(l.ID.String(), change.Args["listing_id"])
	s.Equal(models.JobStateDone, change.State)

	s.Len(s.mem.Snapshots(), 1)
}

func (s *SyncServiceTestSuite) TestRedeliveredNotificationJobsAllFinish() {
	s.listing()
	body := offerNotification("2024-03-01T10:15:30.123Z")

	for i := 0; i < 3; i++ {
		_, err := s.svc.Notifications().Ingest(s.ctx, s.account.ID, "n-dup", body)
		s.Require().NoError(err)
	}

	byMethod := s.drain()
	s.Require().Len(byMethod[jobs.MethodProcessNotification], 3)
	for _, j := range byMethod[jobs.MethodProcessNotification] {
		s.Equal(models.JobStateDone, j.State, j.LastError)
	}
	s.Len(byMethod[jobs.MethodChangePrice], 1)
	s.Len(s.mem.Snapshots(), 1)
	s.LessOrEqual(len(s.mem.FeedRequests()), 1)

	copies, err := s.mem.NotificationsByID(s.ctx, "n-dup")
	s.Require().NoError(err)
	s.Require().Len(copies, 1)
	s.True(copies[0].Processed)
}

func (s *SyncServiceTestSuite) TestStockRecomputeChainsPriceRecompute() {
	l := s.listing()
	s.enqueue(jobs.MethodRecomputeStocks, "product_id", s.product.ID)

	byMethod := s.drain()
	s.Require().Len(byMethod[jobs.MethodRecomputeStocks], 1)
	s.Equal(models.JobStateDone, byMethod[jobs.MethodRecomputeStocks][0].State)
	s.Require().Len(byMethod[jobs.MethodRecomputePrices], 1)
	s.Equal(models.JobStateDone, byMethod[jobs.MethodRecomputePrices][0].State)

	stored, err := s.mem.GetListing(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Equal(6, stored.Stock)
}

func (s *SyncServiceTestSuite) TestPropagatePricesWithoutSnapshotsChangesNothing() {
	s.listing()
	changed, err := s.svc.PropagatePrices(s.ctx, s.product.ID)
	s.Require().NoError(err)
	s.Zero(changed)
}

func (s *SyncServiceTestSuite) TestPollOffersIngestsDocuments() {
	l := s.listing()
	s.adapter.AddOffers(frCode, asin, offerNotification("2024-03-01T10:15:30.123Z"), offerNotification("2024-03-01T11:00:00.000Z"))

	n, err := s.svc.PollOffers(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Equal(2, n)

	byMethod := s.drain()
	s.Len(byMethod[jobs.MethodProcessNotification], 2)
	s.Len(s.mem.Snapshots(), 2)
}

func (s *SyncServiceTestSuite) TestPollOffersSkipsRetiredListing() {
	l := s.listing()
	_, err := s.svc.Listings().Retire(s.ctx, l.ID)
	s.Require().NoError(err)
	s.adapter.AddOffers(frCode, asin, offerNotification("2024-03-01T10:15:30.123Z"))

	n, err := s.svc.PollOffers(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *SyncServiceTestSuite) TestRefreshPriceJob() {
	l := s.listing()
	s.adapter.SetPrice(frCode, "W-1", &marketplace.PriceInfo{
		Price:         decimal.RequireFromString("18.50"),
		ShippingPrice: decimal.RequireFromString("2.40"),
	})
	s.enqueue(jobs.MethodRefreshPrice, "listing_id", l.ID)

	byMethod := s.drain()
	s.Equal(models.JobStateDone, byMethod[jobs.MethodRefreshPrice][0].State)

	stored, err := s.mem.GetListing(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Equal("18.5", stored.Price.String())
	s.True(stored.FirstPriceSearched)
}

func (s *SyncServiceTestSuite) TestAddToListingJobCreatesListing() {
	s.adapter.SetCatalog(s.product.Barcode, frCode, marketplace.CatalogItem{ID: "B0NEW00001", Title: "Blue Widget 500ml bottle"})
	s.enqueue(jobs.MethodAddToListing, "product_id", s.product.ID)

	byMethod := s.drain()
	s.Equal(models.JobStateDone, byMethod[jobs.MethodAddToListing][0].State)

	listings, err := s.mem.ListingsForProduct(s.ctx, s.product.ID)
	s.Require().NoError(err)
	s.Require().Len(listings, 1)
	s.Equal("B0NEW00001", listings[0].ASIN)
}

func (s *SyncServiceTestSuite) TestBadArgumentsFailTheJob() {
	_, err := s.svc.Queue().Enqueue(s.ctx, jobs.Spec{
		Description: "change_price:broken",
		Method:      jobs.MethodChangePrice,
		Args:        models.JSONB{"listing_id": "not-a-uuid"},
	})
	s.Require().NoError(err)

	byMethod := s.drain()
	s.Require().Len(byMethod[jobs.MethodChangePrice], 1)
	s.Equal(models.JobStateFailed, byMethod[jobs.MethodChangePrice][0].State)
	s.NotEmpty(byMethod[jobs.MethodChangePrice][0].LastError)
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}
