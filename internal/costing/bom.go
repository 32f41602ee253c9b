package costing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ProductCost is the result of a BOM valuation.
type ProductCost struct {
	ProductID      int64           `json:"product_id"`
	AsOf           time.Time       `json:"as_of"`
	BaseCost       decimal.Decimal `json:"base_cost"`
	OverheadsAddon decimal.Decimal `json:"overheads_addon"`
	FinalCost      decimal.Decimal `json:"final_cost"`
}

// BOMOption configures a BOMResolver.
type BOMOption func(*BOMResolver)

// WithPriceResolver replaces the expense price policy.
func WithPriceResolver(p PriceResolver) BOMOption {
	return func(r *BOMResolver) {
		if p != nil {
			r.prices = p
		}
	}
}

// WithOverheadAllocator sets the addon policy applied by Compute.
func WithOverheadAllocator(a OverheadAllocator) BOMOption {
	return func(r *BOMResolver) {
		if a != nil {
			r.overheads = a
		}
	}
}

// WithStrictBOM makes a component without an active bom an error instead of
// a zero cost.
func WithStrictBOM(strict bool) BOMOption {
	return func(r *BOMResolver) { r.strict = strict }
}

// WithSeed supplies unit costs already resolved for the same day. The map
// is only read.
func WithSeed(seed map[int64]decimal.Decimal) BOMOption {
	return func(r *BOMResolver) { r.seed = seed }
}

// BOMResolver values products recursively through their active BOMs. A
// resolver belongs to one computation run and is not safe for concurrent use.
type BOMResolver struct {
	catalog   Catalog
	asOf      time.Time
	prices    PriceResolver
	overheads OverheadAllocator
	strict    bool
	seed      map[int64]decimal.Decimal
	memo      map[int64]decimal.Decimal
}

// NewBOMResolver constructs a resolver for the given day.
func NewBOMResolver(catalog Catalog, asOf time.Time, opts ...BOMOption) *BOMResolver {
	r := &BOMResolver{
		catalog:   catalog,
		asOf:      Day(asOf),
		prices:    ExpensePriceResolver{},
		overheads: NoOverheads{},
		memo:      make(map[int64]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compute returns base, addon and final unit cost of a product.
func (r *BOMResolver) Compute(ctx context.Context, productID int64) (ProductCost, error) {
	base, err := r.UnitCost(ctx, productID)
	if err != nil {
		return ProductCost{}, err
	}
	addon, err := r.overheads.Addon(ctx, productID, base, r.asOf)
	if err != nil {
		return ProductCost{}, err
	}
	addon = Money(addon)
	return ProductCost{
		ProductID:      productID,
		AsOf:           r.asOf,
		BaseCost:       base,
		OverheadsAddon: addon,
		FinalCost:      Money(base.Add(addon)),
	}, nil
}

// UnitCost returns the money-quantized cost of one unit of the product.
func (r *BOMResolver) UnitCost(ctx context.Context, productID int64) (decimal.Decimal, error) {
	return r.resolve(ctx, productID, nil)
}

// Known returns a copy of every unit cost resolved so far.
func (r *BOMResolver) Known() map[int64]decimal.Decimal {
	return maps.Clone(r.memo)
}

func (r *BOMResolver) resolve(ctx context.Context, productID int64, path []int64) (decimal.Decimal, error) {
	if cost, ok := r.memo[productID]; ok {
		return cost, nil
	}
	if cost, ok := r.seed[productID]; ok {
		return cost, nil
	}
	if slices.Contains(path, productID) {
		cycle := append(slices.Clone(path), productID)
		return decimal.Zero, &CycleError{Path: cycle}
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	path = append(path, productID)

	bom, found, err := r.activeBOM(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		if r.strict {
			return decimal.Zero, &MissingBOMError{ProductID: productID}
		}
		r.memo[productID] = decimal.Zero
		return decimal.Zero, nil
	}

	total := decimal.Zero
	for _, line := range bom.Lines {
		if err := line.Validate(); err != nil {
			return decimal.Zero, err
		}
		qty := Qty(line.Quantity)
		if qty.Sign() <= 0 {
			continue
		}
		if line.ExpenseID != 0 {
			exp, err := r.catalog.Expense(ctx, line.ExpenseID)
			if err != nil {
				return decimal.Zero, err
			}
			price, err := r.prices.UnitPrice(ctx, exp, line.Unit, r.asOf)
			if err != nil {
				return decimal.Zero, err
			}
			total = total.Add(price.Mul(qty))
			continue
		}
		unitCost, err := r.resolve(ctx, line.ComponentProductID, path)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(unitCost.Mul(qty))
	}
	cost := Money(total)
	r.memo[productID] = cost
	return cost, nil
}

func (r *BOMResolver) activeBOM(ctx context.Context, productID int64) (BillOfMaterial, bool, error) {
	return findActiveBOM(ctx, r.catalog, productID)
}

// findActiveBOM returns the single active bom of a product with lines in
// stored order.
func findActiveBOM(ctx context.Context, catalog Catalog, productID int64) (BillOfMaterial, bool, error) {
	boms, err := catalog.ActiveBOMs(ctx, productID)
	if err != nil {
		return BillOfMaterial{}, false, err
	}
	var active []BillOfMaterial
	for _, b := range boms {
		if b.Active {
			active = append(active, b)
		}
	}
	switch len(active) {
	case 0:
		return BillOfMaterial{}, false, nil
	case 1:
	default:
		return BillOfMaterial{}, false, fmt.Errorf("%w: product %d has %d", ErrAmbiguousBOM, productID, len(active))
	}
	bom := active[0]
	lines := slices.Clone(bom.Lines)
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Position != lines[j].Position {
			return lines[i].Position < lines[j].Position
		}
		return lines[i].ID < lines[j].ID
	})
	bom.Lines = lines
	return bom, true, nil
}
