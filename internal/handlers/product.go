// internal/handlers/product.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketsync/internal/jobs"
	"github.com/javajoker/marketsync/internal/listing"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

// stockJobPriority runs stock recomputation ahead of repricing.
const stockJobPriority = 5

type ProductHandler struct {
	store    store.Store
	listings *listing.Service
	queue    listing.Enqueuer
}

func NewProductHandler(st store.Store, listings *listing.Service, queue listing.Enqueuer) *ProductHandler {
	return &ProductHandler{
		store:    st,
		listings: listings,
		queue:    queue,
	}
}

type CreateListingRequest struct {
	ProductID              string              `json:"product_id" validate:"required,uuid"`
	MarketplaceCodes       []string            `json:"marketplace_codes" validate:"omitempty,dive,marketplace_code"`
	Margin                 decimal.NullDecimal `json:"margin" validate:"omitempty,gte=0,lt=100"`
	RequireTitleSimilarity bool                `json:"require_title_similarity"`
}

type AddSupplierRequest struct {
	SupplierName     string          `json:"supplier_name" validate:"required,max=100"`
	Price            decimal.Decimal `json:"price" validate:"gt=0"`
	DateEnd          *time.Time      `json:"date_end"`
	SupplierStock    int             `json:"supplier_stock" validate:"gte=0"`
	Delay            int             `json:"delay" validate:"gte=0,lte=365"`
	GetSupplierStock models.Toggle   `json:"get_supplier_stock" validate:"toggle"`
	AutoExport       bool            `json:"auto_export"`
}

func (h *ProductHandler) load(c *gin.Context) (*models.Product, bool) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return nil, false
	}
	return h.loadByID(c, id)
}

// loadByID fetches a product of the caller's account.
func (h *ProductHandler) loadByID(c *gin.Context, id uuid.UUID) (*models.Product, bool) {
	account, ok := accountID(c)
	if !ok {
		return nil, false
	}
	prod, err := h.store.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, "product", err)
		return nil, false
	}
	if prod.AccountID != account {
		utils.NotFoundResponse(c, "product")
		return nil, false
	}
	return prod, true
}

// GET /products/:id/availability
func (h *ProductHandler) GetAvailability(c *gin.Context) {
	prod, ok := h.load(c)
	if !ok {
		return
	}
	availability, err := h.listings.Availability(c.Request.Context(), prod.ID)
	if err != nil {
		respondError(c, "product", err)
		return
	}
	utils.SuccessResponse(c, availability)
}

// POST /products/:id/propagate-stock
func (h *ProductHandler) PropagateStock(c *gin.Context) {
	prod, ok := h.load(c)
	if !ok {
		return
	}
	job, err := h.queue.Enqueue(c.Request.Context(), jobs.Spec{
		Description: jobs.Description(jobs.MethodRecomputeStocks, prod.ID),
		Method:      jobs.MethodRecomputeStocks,
		Args:        models.JSONB{"product_id": prod.ID.String()},
		Priority:    stockJobPriority,
	})
	if err != nil {
		respondError(c, "product", err)
		return
	}
	utils.AcceptedResponse(c, job)
}

// POST /products/:id/suppliers
func (h *ProductHandler) AddSupplier(c *gin.Context) {
	prod, ok := h.load(c)
	if !ok {
		return
	}
	var req AddSupplierRequest
	if !bindAndValidate(c, &req) {
		return
	}

	supplier := &models.SupplierInfo{
		ProductID:        prod.ID,
		SupplierName:     req.SupplierName,
		Price:            req.Price,
		DateEnd:          req.DateEnd,
		SupplierStock:    req.SupplierStock,
		Delay:            req.Delay,
		GetSupplierStock: req.GetSupplierStock,
		AutoExport:       req.AutoExport,
	}
	if err := h.listings.AddSupplier(c.Request.Context(), supplier); err != nil {
		respondError(c, "product", err)
		return
	}
	utils.CreatedResponse(c, supplier)
}

// POST /listing-requests
func (h *ProductHandler) CreateListingRequest(c *gin.Context) {
	var req CreateListingRequest
	if !bindAndValidate(c, &req) {
		return
	}
	prod, ok := h.loadByID(c, uuid.MustParse(req.ProductID))
	if !ok {
		return
	}

	result, err := h.listings.CreateListingRequest(c.Request.Context(), listing.ListingRequest{
		ProductID:              prod.ID,
		MarketplaceCodes:       req.MarketplaceCodes,
		Margin:                 req.Margin,
		RequireTitleSimilarity: req.RequireTitleSimilarity,
	})
	if err != nil {
		respondError(c, "product", err)
		return
	}
	if len(result.Created) == 0 {
		utils.SuccessResponse(c, result)
		return
	}
	utils.CreatedResponse(c, result)
}
