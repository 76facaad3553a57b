// internal/handlers/listing.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketsync/internal/listing"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/repricing"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

type ListingHandler struct {
	store    store.Store
	listings *listing.Service
	engine   *repricing.Engine
}

func NewListingHandler(st store.Store, listings *listing.Service, engine *repricing.Engine) *ListingHandler {
	return &ListingHandler{
		store:    st,
		listings: listings,
		engine:   engine,
	}
}

type PatchListingRequest struct {
	Price            *decimal.Decimal      `json:"price" validate:"omitempty,gt=0"`
	ShippingPrice    *decimal.Decimal      `json:"shipping_price" validate:"omitempty,gte=0"`
	Stock            *int                  `json:"stock" validate:"omitempty,gte=0"`
	HandlingTime     *int                  `json:"handling_time" validate:"omitempty,gte=0,lte=30"`
	MinMargin        utils.NullableDecimal `json:"min_margin" validate:"omitempty,gte=0,lt=100"`
	MaxMargin        utils.NullableDecimal `json:"max_margin" validate:"omitempty,gte=0,lt=100"`
	PriceStep        utils.NullableDecimal `json:"price_step" validate:"omitempty,gte=0"`
	FeePercent       utils.NullableDecimal `json:"fee_percent" validate:"omitempty,gte=0,lt=100"`
	StepType         *models.StepType      `json:"step_type" validate:"omitempty,oneof=price percentage"`
	ChangePrices     *models.Toggle        `json:"change_prices" validate:"omitempty,toggle"`
	StockSync        *bool                 `json:"stock_sync"`
	ShippingTemplate *string               `json:"shipping_template" validate:"omitempty,max=100"`
}

func (r *PatchListingRequest) patch() listing.Patch {
	return listing.Patch{
		Price:            r.Price,
		ShippingPrice:    r.ShippingPrice,
		Stock:            r.Stock,
		HandlingTime:     r.HandlingTime,
		SetHandlingTime:  r.HandlingTime != nil,
		MinMargin:        r.MinMargin.Ptr(),
		MaxMargin:        r.MaxMargin.Ptr(),
		PriceStep:        r.PriceStep.Ptr(),
		FeePercent:       r.FeePercent.Ptr(),
		StepType:         r.StepType,
		ChangePrices:     r.ChangePrices,
		StockSync:        r.StockSync,
		ShippingTemplate: r.ShippingTemplate,
	}
}

type RepriceRequest struct {
	// Force bypasses the change-prices permission gate.
	Force bool `json:"force"`
}

// load fetches a listing of the caller's account.
func (h *ListingHandler) load(c *gin.Context) (*models.Listing, bool) {
	account, ok := accountID(c)
	if !ok {
		return nil, false
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return nil, false
	}
	l, err := h.store.GetListing(c.Request.Context(), id)
	if err != nil {
		respondError(c, "listing", err)
		return nil, false
	}
	if l.AccountID != account {
		utils.NotFoundResponse(c, "listing")
		return nil, false
	}
	return l, true
}

// GET /listings
func (h *ListingHandler) GetListings(c *gin.Context) {
	account, ok := accountID(c)
	if !ok {
		return
	}
	params := utils.GetPaginationParams(c)

	listings, total, err := h.store.ListListings(c.Request.Context(), account, params.StorePage())
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(listings, total, params))
}

// GET /listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	l, ok := h.load(c)
	if !ok {
		return
	}
	offers, err := h.store.LiveOffers(c.Request.Context(), l.ID)
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	l.Offers = offers
	utils.SuccessResponse(c, l)
}

// PATCH /listings/:id
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	l, ok := h.load(c)
	if !ok {
		return
	}
	var req PatchListingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	updated, err := h.listings.Write(c.Request.Context(), l.ID, req.patch())
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	utils.SuccessResponse(c, updated)
}

// POST /listings/:id/reprice
func (h *ListingHandler) Reprice(c *gin.Context) {
	l, ok := h.load(c)
	if !ok {
		return
	}
	var req RepriceRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	decision, err := h.engine.Reprice(c.Request.Context(), l.ID, req.Force)
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	utils.SuccessResponse(c, decision)
}

// POST /listings/:id/refresh-price
func (h *ListingHandler) RefreshPrice(c *gin.Context) {
	l, ok := h.load(c)
	if !ok {
		return
	}
	updated, err := h.listings.RefreshPrice(c.Request.Context(), l.ID)
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	utils.SuccessResponse(c, updated)
}

// GET /listings/:id/margin?price=
func (h *ListingHandler) GetMargin(c *gin.Context) {
	l, ok := h.load(c)
	if !ok {
		return
	}

	var price *decimal.Decimal
	if raw := c.Query("price"); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil || !p.IsPositive() {
			utils.BadRequestResponse(c, "Invalid price", nil)
			return
		}
		price = &p
	}

	margin, err := h.listings.Margin(c.Request.Context(), l.ID, price)
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	if margin == nil {
		utils.UnprocessableResponse(c, "Cost of the product is unknown")
		return
	}
	utils.SuccessResponse(c, margin)
}

// POST /listings/:id/retire
func (h *ListingHandler) RetireListing(c *gin.Context) {
	l, ok := h.load(c)
	if !ok {
		return
	}
	retired, err := h.listings.Retire(c.Request.Context(), l.ID)
	if err != nil {
		respondError(c, "listing", err)
		return
	}
	utils.SuccessResponse(c, retired)
}
