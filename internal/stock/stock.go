// internal/stock/stock.go

// Package stock derives available quantity, handling time and cost basis of
// products by walking their bill of materials.
package stock

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/pricing"
	"github.com/javajoker/marketsync/internal/store"
)

// Traversal is the state of one propagation pass. Allocate one per top-level
// call with NewTraversal and never share it between goroutines. Finished
// results are cached so siblings reached twice in the same pass are served
// without walking them again; a node re-entered while still in progress is a
// cycle and contributes nothing.
type Traversal struct {
	products map[uuid.UUID]*models.Product

	qtyVisiting  map[uuid.UUID]bool
	qty          map[uuid.UUID]int
	leadVisiting map[uuid.UUID]bool
	lead         map[uuid.UUID]*int
	costVisiting map[uuid.UUID]bool
	cost         map[uuid.UUID]decimal.Decimal
}

func NewTraversal() *Traversal {
	return &Traversal{
		products:     make(map[uuid.UUID]*models.Product),
		qtyVisiting:  make(map[uuid.UUID]bool),
		qty:          make(map[uuid.UUID]int),
		leadVisiting: make(map[uuid.UUID]bool),
		lead:         make(map[uuid.UUID]*int),
		costVisiting: make(map[uuid.UUID]bool),
		cost:         make(map[uuid.UUID]decimal.Decimal),
	}
}

type Propagator struct {
	catalog store.CatalogStore
	now     func() time.Time
}

// NewPropagator returns a propagator reading the catalog. A nil clock uses time.Now.
func NewPropagator(catalog store.CatalogStore, now func() time.Time) *Propagator {
	if now == nil {
		now = time.Now
	}
	return &Propagator{catalog: catalog, now: now}
}

func (p *Propagator) product(ctx context.Context, tr *Traversal, id uuid.UUID) (*models.Product, error) {
	if prod, ok := tr.products[id]; ok {
		return prod, nil
	}
	prod, err := p.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	tr.products[id] = prod
	return prod, nil
}

// AvailableQuantity is what the account can sell of a product right now: its
// own virtual available quantity plus what its BoM can build, falling back to
// supplier stock when that is below one. Banned brands always have zero.
func (p *Propagator) AvailableQuantity(ctx context.Context, tr *Traversal, account *models.Account, productID uuid.UUID) (int, error) {
	if q, ok := tr.qty[productID]; ok {
		return q, nil
	}
	if tr.qtyVisiting[productID] {
		return 0, nil
	}
	tr.qtyVisiting[productID] = true
	defer delete(tr.qtyVisiting, productID)

	prod, err := p.product(ctx, tr, productID)
	if err != nil {
		return 0, err
	}

	if prod.Brand != "" {
		banned, err := p.catalog.BrandBanned(ctx, account.ID, prod.Brand)
		if err != nil {
			return 0, fmt.Errorf("failed to check brand ban: %w", err)
		}
		if banned {
			tr.qty[productID] = 0
			return 0, nil
		}
	}

	qty := 0
	if prod.VirtualAvailable > 0 {
		qty = prod.VirtualAvailable
	}

	lines, err := p.catalog.BomLines(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to load BoM of %s: %w", productID, err)
	}
	if len(lines) > 0 {
		buildable := int64(-1)
		for _, line := range lines {
			c, err := p.AvailableQuantity(ctx, tr, account, line.ComponentID)
			if err != nil {
				return 0, err
			}
			n := decimal.NewFromInt(int64(c)).Div(line.PerUnit()).Floor().IntPart()
			if buildable < 0 || n < buildable {
				buildable = n
			}
		}
		if buildable > 0 {
			qty += int(buildable)
		}
	}

	if qty < 1 {
		supplier, err := p.bestSupplier(ctx, productID, false)
		if err != nil {
			return 0, err
		}
		if supplier != nil && supplierStockEnabled(account, prod, supplier) && supplier.SupplierStock > 0 {
			qty = supplier.SupplierStock
		}
	}

	tr.qty[productID] = qty
	return qty, nil
}

// supplierStockEnabled: an explicit no on the product or the supplier wins, an
// explicit yes on either is enough, and the account decides when both inherit.
func supplierStockEnabled(account *models.Account, prod *models.Product, s *models.SupplierInfo) bool {
	if prod.GetSupplierStock == models.ToggleDeny || s.GetSupplierStock == models.ToggleDeny {
		return false
	}
	if prod.GetSupplierStock == models.ToggleAllow || s.GetSupplierStock == models.ToggleAllow {
		return true
	}
	return account.GetSupplierStock == models.ToggleAllow
}

// bestSupplier returns the cheapest supplier offer that has not expired,
// optionally only among those with stock.
func (p *Propagator) bestSupplier(ctx context.Context, productID uuid.UUID, withStock bool) (*models.SupplierInfo, error) {
	suppliers, err := p.catalog.Suppliers(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suppliers of %s: %w", productID, err)
	}
	now := p.now()
	var best *models.SupplierInfo
	for i := range suppliers {
		s := &suppliers[i]
		if !s.Valid(now) || (withStock && s.SupplierStock <= 0) {
			continue
		}
		if best == nil || s.Price.LessThan(best.Price) {
			best = s
		}
	}
	return best, nil
}

// HandlingTimeDays is how many days the account needs before shipping the
// product. Nil means no basis exists and must not be read as zero.
func (p *Propagator) HandlingTimeDays(ctx context.Context, tr *Traversal, account *models.Account, productID uuid.UUID) (*int, error) {
	if d, ok := tr.lead[productID]; ok {
		return d, nil
	}
	if tr.leadVisiting[productID] {
		return nil, nil
	}
	tr.leadVisiting[productID] = true
	defer delete(tr.leadVisiting, productID)

	days, err := p.handlingTime(ctx, tr, account, productID)
	if err != nil {
		return nil, err
	}
	tr.lead[productID] = days
	return days, nil
}

func (p *Propagator) handlingTime(ctx context.Context, tr *Traversal, account *models.Account, productID uuid.UUID) (*int, error) {
	prod, err := p.product(ctx, tr, productID)
	if err != nil {
		return nil, err
	}
	qty, err := p.AvailableQuantity(ctx, tr, account, productID)
	if err != nil {
		return nil, err
	}
	if qty > 0 && prod.QtyAvailable > 0 {
		return intPtr(1), nil
	}

	if prod.QtyAvailable < 1 && prod.VirtualAvailable > 0 {
		days, err := p.purchaseLeadTime(ctx, prod)
		if err != nil {
			return nil, err
		}
		if days != nil {
			return days, nil
		}
	}

	supplier, err := p.bestSupplier(ctx, productID, true)
	if err != nil {
		return nil, err
	}
	if supplier != nil {
		return intPtr(max(1, supplier.Delay)), nil
	}

	lines, err := p.catalog.BomLines(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load BoM of %s: %w", productID, err)
	}
	var slowest *int
	for _, line := range lines {
		d, err := p.HandlingTimeDays(ctx, tr, account, line.ComponentID)
		if err != nil {
			return nil, err
		}
		if d != nil && (slowest == nil || *d > *slowest) {
			slowest = intPtr(*d)
		}
	}
	return slowest, nil
}

// purchaseLeadTime finds the earliest confirmed purchase whose cumulative
// quantity covers what is promised but not on hand.
func (p *Propagator) purchaseLeadTime(ctx context.Context, prod *models.Product) (*int, error) {
	lines, err := p.catalog.PurchaseLines(ctx, prod.ID, models.PurchaseStateConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase lines of %s: %w", prod.ID, err)
	}
	shortfall := prod.VirtualAvailable - prod.QtyAvailable
	incoming := 0
	now := p.now()
	for _, line := range lines {
		incoming += line.Quantity
		if incoming < shortfall {
			continue
		}
		days := int(math.Ceil(line.DatePlanned.Sub(now).Hours() / 24))
		return intPtr(max(1, days)), nil
	}
	return nil, nil
}

// CostBasis is the unit cost of a product: the latest confirmed purchase price
// when stock is promised, else the cheapest supplier with stock, else the sum
// of its components. It fails with *pricing.MissingCostError otherwise.
func (p *Propagator) CostBasis(ctx context.Context, tr *Traversal, productID uuid.UUID) (decimal.Decimal, error) {
	if c, ok := tr.cost[productID]; ok {
		return c, nil
	}
	if tr.costVisiting[productID] {
		return decimal.Zero, &pricing.MissingCostError{ProductID: productID}
	}
	tr.costVisiting[productID] = true
	defer delete(tr.costVisiting, productID)

	cost, err := p.costBasis(ctx, tr, productID)
	if err != nil {
		return decimal.Zero, err
	}
	tr.cost[productID] = cost
	return cost, nil
}

func (p *Propagator) costBasis(ctx context.Context, tr *Traversal, productID uuid.UUID) (decimal.Decimal, error) {
	prod, err := p.product(ctx, tr, productID)
	if err != nil {
		return decimal.Zero, err
	}

	if prod.VirtualAvailable > 0 {
		lines, err := p.catalog.PurchaseLines(ctx, productID, models.PurchaseStateConfirmed)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load purchase lines of %s: %w", productID, err)
		}
		if n := len(lines); n > 0 && lines[n-1].PriceUnit.Sign() > 0 {
			return lines[n-1].PriceUnit, nil
		}
	}

	supplier, err := p.bestSupplier(ctx, productID, true)
	if err != nil {
		return decimal.Zero, err
	}
	if supplier != nil && supplier.Price.Sign() > 0 {
		return supplier.Price, nil
	}

	bom, err := p.catalog.BomLines(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load BoM of %s: %w", productID, err)
	}
	if len(bom) == 0 {
		return decimal.Zero, &pricing.MissingCostError{ProductID: productID}
	}
	total := decimal.Zero
	for _, line := range bom {
		c, err := p.CostBasis(ctx, tr, line.ComponentID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(c.Mul(line.PerUnit()))
	}
	if total.Sign() <= 0 {
		return decimal.Zero, &pricing.MissingCostError{ProductID: productID}
	}
	return total, nil
}

// RelatedProducts returns the product and every product reachable from it
// through BoM lines in either direction, in discovery order.
func (p *Propagator) RelatedProducts(ctx context.Context, productID uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{productID: true}
	queue := []uuid.UUID{productID}
	var out []uuid.UUID

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)

		down, err := p.catalog.BomLines(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load BoM of %s: %w", id, err)
		}
		up, err := p.catalog.ParentBomLines(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load parents of %s: %w", id, err)
		}
		for _, l := range down {
			if !seen[l.ComponentID] {
				seen[l.ComponentID] = true
				queue = append(queue, l.ComponentID)
			}
		}
		for _, l := range up {
			if !seen[l.ParentID] {
				seen[l.ParentID] = true
				queue = append(queue, l.ParentID)
			}
		}
	}
	return out, nil
}

func intPtr(v int) *int {
	return &v
}
