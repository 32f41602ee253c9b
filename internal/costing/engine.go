package costing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource selects how BOM expense lines are priced.
type PriceSource string

const (
	PriceSourceExpense  PriceSource = "expense"
	PriceSourceDailyLog PriceSource = "daily_log"
)

// Options are the engine policies.
type Options struct {
	StrictBOM        bool
	RequireVolumeMap bool
	BudgetFallback   bool
	RequireClosedDay bool
	PriceSource      PriceSource
	Concurrency      int
	FailFast         bool
}

// Request asks for the snapshot of one product on one day. Volumes is the
// day's production map used for overhead shares and may be nil.
type Request struct {
	ProductID int64
	Day       time.Time
	Input     ProductionInput
	Volumes   Volumes
}

// Engine computes and persists cost snapshots.
type Engine struct {
	catalog    Catalog
	store      SnapshotStore
	opts       Options
	logger     *slog.Logger
	observer   Observer
	physical   *PhysicalResolver
	quantities *QuantityResolver
}

// NewEngine wires the engine.
func NewEngine(catalog Catalog, store SnapshotStore, opts Options, logger *slog.Logger, observer Observer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		catalog:    catalog,
		store:      store,
		opts:       opts,
		logger:     logger,
		observer:   observer,
		physical:   NewPhysicalResolver(catalog, logger, observer),
		quantities: NewQuantityResolver(catalog),
	}
}

// Options returns the configured policies.
func (e *Engine) Options() Options {
	return e.opts
}

// Compute builds the snapshot without persisting it.
func (e *Engine) Compute(ctx context.Context, req Request) (CostSnapshot, error) {
	if req.ProductID <= 0 {
		return CostSnapshot{}, fmt.Errorf("%w: product id required", ErrInvalidInput)
	}
	day := Day(req.Day)
	if _, err := e.catalog.Product(ctx, req.ProductID); err != nil {
		return CostSnapshot{}, err
	}
	produced, err := e.quantities.Resolve(ctx, req.ProductID, req.Input)
	if err != nil {
		return CostSnapshot{}, err
	}
	pool, err := CollectPool(ctx, e.catalog, day, e.poolOptions())
	if err != nil {
		return CostSnapshot{}, err
	}
	volumes, err := e.volumesFor(ctx, req.ProductID, produced, req.Volumes, pool)
	if err != nil {
		return CostSnapshot{}, err
	}
	return e.build(ctx, computation{
		productID: req.ProductID,
		day:       day,
		produced:  produced,
		input:     req.Input,
		pool:      pool,
		volumes:   volumes,
		resolver:  e.newResolver(day, nil),
	})
}

// Save computes the snapshot and upserts it. Nothing is written when the
// computation fails.
func (e *Engine) Save(ctx context.Context, req Request) (CostSnapshot, error) {
	snap, err := e.Compute(ctx, req)
	if err != nil {
		e.observer.ComputationFailed(ErrorKind(err))
		return CostSnapshot{}, err
	}
	if err := e.store.UpsertSnapshot(ctx, snap); err != nil {
		return CostSnapshot{}, err
	}
	e.logger.InfoContext(ctx, "cost snapshot saved",
		slog.Int64("product_id", snap.ProductID),
		slog.String("date", snap.Day.Format(DateLayout)),
		slog.String("total_cost", snap.TotalCost.StringFixed(MoneyPlaces)))
	return snap, nil
}

// PreviewBOM values a product through its BOM without persisting anything.
func (e *Engine) PreviewBOM(ctx context.Context, productID int64, day time.Time, markupPercent decimal.Decimal) (ProductCost, error) {
	if _, err := e.catalog.Product(ctx, productID); err != nil {
		return ProductCost{}, err
	}
	resolver := e.newResolver(Day(day), nil, WithOverheadAllocator(MarkupAllocator{Percent: markupPercent}))
	return resolver.Compute(ctx, productID)
}

type computation struct {
	productID int64
	day       time.Time
	produced  decimal.Decimal
	input     ProductionInput
	pool      Pool
	volumes   Volumes
	resolver  *BOMResolver
}

func (e *Engine) build(ctx context.Context, c computation) (CostSnapshot, error) {
	physical, err := e.physical.Resolve(ctx, c.productID, c.produced)
	if err != nil {
		return CostSnapshot{}, err
	}
	components, componentTotal, err := e.components(ctx, c.resolver, c.productID, c.produced)
	if err != nil {
		return CostSnapshot{}, err
	}
	alloc := Allocate(c.pool, c.produced, c.volumes.Total())

	total := SumMoney(physical.Total, alloc.Total, componentTotal)
	costPerUnit := Qty(divOrZero(total, c.produced))
	revenue := Money(c.input.Revenue)
	volume := decimal.Zero
	if c.input.PrimaryInputVolume.Valid {
		volume = Qty(c.input.PrimaryInputVolume.Decimal)
	}
	return CostSnapshot{
		ProductID:          c.productID,
		Day:                c.day,
		ProducedQty:        c.produced,
		PrimaryInputVolume: volume,
		PhysicalCost:       physical.Total,
		OverheadCost:       alloc.Total,
		ComponentCost:      componentTotal,
		TotalCost:          total,
		CostPerUnit:        costPerUnit,
		Revenue:            revenue,
		NetProfit:          Money(revenue.Sub(total)),
		Breakdown: Breakdown{
			Physical:   physical.Lines,
			Overhead:   alloc.Lines,
			Components: components,
		},
	}, nil
}

// components prices the sub-products consumed through the product's BOM.
func (e *Engine) components(ctx context.Context, resolver *BOMResolver, productID int64, produced decimal.Decimal) ([]ComponentLine, decimal.Decimal, error) {
	lines := []ComponentLine{}
	if produced.Sign() <= 0 {
		return lines, decimal.Zero, nil
	}
	bom, found, err := findActiveBOM(ctx, e.catalog, productID)
	if err != nil || !found {
		return lines, decimal.Zero, err
	}
	total := decimal.Zero
	for _, line := range bom.Lines {
		if err := line.Validate(); err != nil {
			return nil, decimal.Zero, err
		}
		perUnit := Qty(line.Quantity)
		if line.ComponentProductID == 0 || perUnit.Sign() <= 0 {
			continue
		}
		component, err := e.catalog.Product(ctx, line.ComponentProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		unitCost, err := resolver.resolve(ctx, component.ID, []int64{productID})
		if err != nil {
			return nil, decimal.Zero, err
		}
		consumed := Qty(produced.Mul(perUnit))
		amount := Money(consumed.Mul(unitCost))
		lines = append(lines, ComponentLine{
			ProductID:   component.ID,
			Name:        component.Name,
			Unit:        line.Unit,
			PerUnit:     perUnit,
			ConsumedQty: consumed,
			UnitCost:    unitCost,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	return lines, Money(total), nil
}

func (e *Engine) volumesFor(ctx context.Context, productID int64, produced decimal.Decimal, volumes Volumes, pool Pool) (Volumes, error) {
	if volumes != nil {
		return checkVolumes(productID, produced, volumes)
	}
	if e.opts.RequireVolumeMap {
		return nil, ErrVolumeMapRequired
	}
	if len(pool.Entries) > 0 && produced.Sign() > 0 {
		e.logger.WarnContext(ctx, "overhead volume map missing, product absorbs the full pool",
			slog.Int64("product_id", productID),
			slog.String("date", pool.Day.Format(DateLayout)))
	}
	return Volumes{productID: produced}, nil
}

// checkVolumes rejects a caller map that does not list the product at its
// resolved quantity. The share of a listed product never exceeds one.
func checkVolumes(productID int64, produced decimal.Decimal, volumes Volumes) (Volumes, error) {
	for id, qty := range volumes {
		if qty.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative volume for product %d", ErrInvalidInput, id)
		}
	}
	if produced.Sign() <= 0 {
		return volumes, nil
	}
	qty, ok := volumes[productID]
	if !ok || !Qty(qty).Equal(produced) {
		return nil, fmt.Errorf("%w: volume map must list product %d at %s", ErrInvalidInput, productID, produced.String())
	}
	return volumes, nil
}

func (e *Engine) newResolver(day time.Time, seed map[int64]decimal.Decimal, extra ...BOMOption) *BOMResolver {
	opts := []BOMOption{
		WithPriceResolver(e.priceResolver()),
		WithStrictBOM(e.opts.StrictBOM),
		WithSeed(seed),
	}
	return NewBOMResolver(e.catalog, day, append(opts, extra...)...)
}

func (e *Engine) priceResolver() PriceResolver {
	if e.opts.PriceSource == PriceSourceDailyLog {
		return DailyLogPriceResolver{Catalog: e.catalog, Fallback: ExpensePriceResolver{}}
	}
	return ExpensePriceResolver{}
}

func (e *Engine) poolOptions() PoolOptions {
	return PoolOptions{BudgetFallback: e.opts.BudgetFallback}
}
