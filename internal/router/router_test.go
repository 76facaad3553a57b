package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/marketsync/internal/config"
	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/services"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

type flatRules struct{}

func (flatRules) Taxes(string, string) []pricing.TaxRule { return nil }

func (flatRules) DefaultTemplate(string) (string, bool) { return "standard", true }

func (flatRules) CheapestShippingRate(string, decimal.Decimal, int) (decimal.Decimal, bool) {
	return decimal.NewFromInt(2), true
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *utils.APIError `json:"error"`
	Meta    json.RawMessage `json:"meta"`
}

type RouterTestSuite struct {
	suite.Suite
	mem     *store.Memory
	adapter *marketplace.MockAdapter
	engine  *gin.Engine
	account *models.Account
	mk      *models.Marketplace
	product *models.Product
	listing *models.Listing
	admin   string
	viewer  string
}

func (s *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.mem = store.NewMemory()
	s.adapter = marketplace.NewMockAdapter()
	sync := services.NewSyncService(s.mem, flatRules{}, s.adapter, nil, services.SyncOptions{})

	cfg := &config.Config{
		Server: config.ServerConfig{RequestsPerSecond: 1000, Burst: 1000},
		JWT:    config.JWTConfig{SecretKey: "router-test", AccessTokenTTL: 1},
	}
	s.engine = Initialize(sync, cfg)

	s.account = &models.Account{
		Name:      "main",
		SellerID:  "A2OURS",
		StockSync: true,
		MinMargin: decimal.NewNullDecimal(decimal.NewFromInt(5)),
		MaxMargin: decimal.NewNullDecimal(decimal.NewFromInt(20)),
	}
	s.mem.Seed(s.account)
	s.mk = &models.Marketplace{AccountID: s.account.ID, Code: "A13V1IB3VIYZZH", Country: "FR", Currency: "EUR", DecimalSeparator: ","}
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

	handling := 2
	s.listing = &models.Listing{
		AccountID:     s.account.ID,
		ProductID:     s.product.ID,
		MarketplaceID: s.mk.ID,
		SKU:           "W-1",
		ASIN:          "B0WIDGET01",
		Price:         decimal.NewFromInt(17),
		Currency:      "EUR",
		Stock:         3,
		HandlingTime:  &handling,
		StockSync:     true,
		Status:        models.ListingStatusActive,
	}
	s.mem.Seed(s.listing)

	var err error
	s.admin, err = utils.GenerateJWT(uuid.New(), s.account.ID, "admin", string(models.OperatorRoleAdmin), 1)
	s.Require().NoError(err)
	s.viewer, err = utils.GenerateJWT(uuid.New(), s.account.ID, "viewer", string(models.OperatorRoleViewer), 1)
	s.Require().NoError(err)
}

func (s *RouterTestSuite) request(method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *RouterTestSuite) listingPath(suffix string) string {
	return "/v1/listings/" + s.listing.ID.String() + suffix
}

func (s *RouterTestSuite) TestHealth() {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "healthy")
}

func (s *RouterTestSuite) TestToken() {
	op := &models.Operator{AccountID: s.account.ID, Username: "ops", Role: models.OperatorRoleAdmin}
	s.Require().NoError(op.SetPassword("s3cret-pass"))
	s.mem.Seed(op)

	w, env := s.request(http.MethodPost, "/v1/auth/token", "", `{"username":"ops","password":"s3cret-pass"}`)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &data))
	claims, err := utils.ValidateJWT(data.Token)
	s.Require().NoError(err)
	s.Equal(s.account.ID.String(), claims.AccountID)

	w, _ = s.request(http.MethodPost, "/v1/auth/token", "", `{"username":"ops","password":"wrong"}`)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *RouterTestSuite) TestRequiresToken() {
	w, env := s.request(http.MethodGet, "/v1/listings", "", "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(env.Success)
}

func (s *RouterTestSuite) TestListAndGetListing() {
	w, env := s.request(http.MethodGet, "/v1/listings?page=1&limit=10", s.viewer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("1", w.Header().Get("X-Total-Count"))
	var list []models.Listing
	s.Require().NoError(json.Unmarshal(env.Data, &list))
	s.Require().Len(list, 1)
	s.Equal("W-1", list[0].SKU)

	w, env = s.request(http.MethodGet, s.listingPath(""), s.viewer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var l models.Listing
	s.Require().NoError(json.Unmarshal(env.Data, &l))
	s.Equal(s.listing.ID, l.ID)
}

func (s *RouterTestSuite) TestOtherAccountListingIsHidden() {
	other, err := utils.GenerateJWT(uuid.New(), uuid.New(), "stranger", string(models.OperatorRoleAdmin), 1)
	s.Require().NoError(err)

	w, _ := s.request(http.MethodGet, s.listingPath(""), other, "")
	s.Equal(http.StatusNotFound, w.Code)

	w, _ = s.request(http.MethodGet, "/v1/listings/not-a-uuid", other, "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestPatchListing() {
	w, _ := s.request(http.MethodPatch, s.listingPath(""), s.viewer, `{"price":"16.47"}`)
	s.Equal(http.StatusForbidden, w.Code)

	w, env := s.request(http.MethodPatch, s.listingPath(""), s.admin, `{"price":"16.47","min_margin":null}`)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var l models.Listing
	s.Require().NoError(json.Unmarshal(env.Data, &l))
	s.Equal("16.47", l.Price.StringFixed(2))
	s.False(l.MinMargin.Valid)

	feeds := s.mem.FeedRequests()
	s.Require().Len(feeds, 1)
	s.Equal(models.FeedTypeUpdateStockPrice, feeds[0].Type)
}

func (s *RouterTestSuite) TestPatchListingValidation() {
	w, env := s.request(http.MethodPatch, s.listingPath(""), s.admin, `{"max_margin":"150","change_prices":"maybe"}`)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Require().NotNil(env.Error)
	s.Equal("VALIDATION_ERROR", env.Error.Code)
}

func (s *RouterTestSuite) TestReprice() {
	w, env := s.request(http.MethodPost, s.listingPath("/reprice"), s.admin, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(string(env.Data), `"outcome":"not_permitted"`)
}

func (s *RouterTestSuite) TestMargin() {
	w, env := s.request(http.MethodGet, s.listingPath("/margin?price=16.47"), s.viewer, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var m pricing.Margin
	s.Require().NoError(json.Unmarshal(env.Data, &m))
	pct, _ := m.Percent.Float64()
	s.InDelta(20, pct, 0.01)

	w, _ = s.request(http.MethodGet, s.listingPath("/margin?price=abc"), s.viewer, "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestRetire() {
	w, env := s.request(http.MethodPost, s.listingPath("/retire"), s.admin, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var l models.Listing
	s.Require().NoError(json.Unmarshal(env.Data, &l))
	s.Equal(models.ListingStatusRetired, l.Status)
	s.Zero(l.Stock)
}

func (s *RouterTestSuite) TestAvailabilityAndPropagateStock() {
	path := "/v1/products/" + s.product.ID.String()

	w, env := s.request(http.MethodGet, path+"/availability", s.viewer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	var a struct {
		Quantity int `json:"quantity"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &a))
	s.Equal(6, a.Quantity)

	w, _ = s.request(http.MethodPost, path+"/propagate-stock", s.admin, "")
	s.Equal(http.StatusAccepted, w.Code)
	w, _ = s.request(http.MethodPost, path+"/propagate-stock", s.admin, "")
	s.Equal(http.StatusAccepted, w.Code)

	all := s.mem.Jobs()
	s.Require().Len(all, 1)
	s.Equal(jobs.MethodRecomputeStocks, all[0].Method)
	s.Equal(5, all[0].Priority)
}

func (s *RouterTestSuite) TestAddSupplierQueuesAutoExport() {
	path := "/v1/products/" + s.product.ID.String() + "/suppliers"
	w, _ := s.request(http.MethodPost, path, s.admin, `{"supplier_name":"Acme","price":"8.50","supplier_stock":4,"delay":3,"auto_export":true}`)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	methods := map[string]bool{}
	for _, j := range s.mem.Jobs() {
		methods[j.Method] = true
	}
	s.True(methods[jobs.MethodRecomputeStocks])
	s.True(methods[jobs.MethodAddToListing])
}

func (s *RouterTestSuite) TestListingRequest() {
	second := &models.Marketplace{AccountID: s.account.ID, Code: "A1PA6795UKMFR9", Country: "DE", Currency: "EUR", DecimalSeparator: ","}
	s.mem.Seed(second)

	body := `{"product_id":"` + s.product.ID.String() + `","marketplace_codes":["A1PA6795UKMFR9"]}`
	w, env := s.request(http.MethodPost, "/v1/listing-requests", s.admin, body)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.Contains(string(env.Data), "B0WIDGET01")

	w, _ = s.request(http.MethodPost, "/v1/listing-requests", s.admin, `{"product_id":"nope"}`)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestIngestNotification() {
	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", bytes.NewBufferString("<Notification/>"))
	req.Header.Set("Authorization", "Bearer "+s.viewer)
	req.Header.Set("X-Notification-Id", "n-42")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	s.Require().Equal(http.StatusAccepted, w.Code, w.Body.String())
	s.Contains(w.Body.String(), "n-42")

	all := s.mem.Jobs()
	s.Require().Len(all, 1)
	s.Equal(jobs.MethodProcessNotification, all[0].Method)

	w, _ = s.request(http.MethodPost, "/v1/notifications", s.viewer, "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestFeedExport() {
	w, _ := s.request(http.MethodPatch, s.listingPath(""), s.admin, `{"stock":4}`)
	s.Require().Equal(http.StatusOK, w.Code)

	w, env := s.request(http.MethodGet, "/v1/feed-requests?launched=false", s.viewer, "")
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("1", w.Header().Get("X-Total-Count"))

	w, env = s.request(http.MethodPost, "/v1/feed-requests/export", s.admin, "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Contains(string(env.Data), `"requests":1`)
	s.Len(s.adapter.Submitted(), 1)

	w, _ = s.request(http.MethodGet, "/v1/feed-requests?launched=maybe", s.viewer, "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestJobs() {
	w, _ := s.request(http.MethodGet, "/v1/jobs?state=pending", s.viewer, "")
	s.Equal(http.StatusOK, w.Code)

	w, env := s.request(http.MethodGet, "/v1/jobs?state=bogus", s.viewer, "")
	s.Equal(http.StatusBadRequest, w.Code)
	s.False(env.Success)
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
