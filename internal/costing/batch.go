package costing

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// BatchRequest is the production of every product for a day.
type BatchRequest struct {
	Day        time.Time
	Production map[int64]ProductionInput
	FailFast   bool
}

// BatchFailure records a product whose snapshot was not written.
type BatchFailure struct {
	ProductID int64  `json:"product_id"`
	Error     string `json:"error"`
	Err       error  `json:"-"`
}

// BatchResult summarizes a day run.
type BatchResult struct {
	RunID     string         `json:"run_id"`
	Day       time.Time      `json:"date"`
	Volumes   Volumes        `json:"volumes"`
	Pool      Pool           `json:"pool"`
	Snapshots []CostSnapshot `json:"snapshots"`
	Failures  []BatchFailure `json:"failures"`
}

func (r *BatchResult) fail(productID int64, err error) {
	r.Failures = append(r.Failures, BatchFailure{ProductID: productID, Error: err.Error(), Err: err})
}

// RunDay resolves every quantity first, collects the overhead pool once and
// then computes products level by level so component costs are reused.
// Without fail-fast a failing product is recorded and the rest are still
// saved.
func (e *Engine) RunDay(ctx context.Context, req BatchRequest) (BatchResult, error) {
	day := Day(req.Day)
	result := BatchResult{
		RunID:     uuid.NewString(),
		Day:       day,
		Volumes:   Volumes{},
		Snapshots: []CostSnapshot{},
		Failures:  []BatchFailure{},
	}
	failFast := req.FailFast || e.opts.FailFast
	logger := e.logger.With(slog.String("run_id", result.RunID), slog.String("date", day.Format(DateLayout)))

	if e.opts.RequireClosedDay {
		closed, err := e.catalog.DayClosed(ctx, day)
		if err != nil {
			return result, err
		}
		if !closed {
			return result, fmt.Errorf("%w: %s", ErrDayNotClosed, day.Format(DateLayout))
		}
	}

	ids := slices.Sorted(maps.Keys(req.Production))
	produced := make(map[int64]decimal.Decimal, len(ids))
	pending := make([]int64, 0, len(ids))
	for _, id := range ids {
		qty, err := e.resolveBatchQuantity(ctx, id, req.Production[id])
		if err != nil {
			e.observer.ComputationFailed(ErrorKind(err))
			if failFast {
				return result, fmt.Errorf("product %d: %w", id, err)
			}
			result.fail(id, err)
			continue
		}
		produced[id] = qty
		if qty.Sign() > 0 {
			result.Volumes[id] = qty
		}
		pending = append(pending, id)
	}

	pool, err := CollectPool(ctx, e.catalog, day, e.poolOptions())
	if err != nil {
		return result, err
	}
	result.Pool = pool

	var mu sync.Mutex
	computed := make(map[int64]CostSnapshot, len(pending))
	seed := map[int64]decimal.Decimal{}
	for _, level := range e.levels(ctx, pending) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency())
		learned := map[int64]decimal.Decimal{}
		levelSeed := seed
		for _, id := range level {
			g.Go(func() error {
				resolver := e.newResolver(day, levelSeed)
				snap, err := e.build(gctx, computation{
					productID: id,
					day:       day,
					produced:  produced[id],
					input:     req.Production[id],
					pool:      pool,
					volumes:   result.Volumes,
					resolver:  resolver,
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					e.observer.ComputationFailed(ErrorKind(err))
					if failFast {
						return fmt.Errorf("product %d: %w", id, err)
					}
					result.fail(id, err)
					return nil
				}
				computed[id] = snap
				maps.Copy(learned, resolver.Known())
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
		next := maps.Clone(seed)
		maps.Copy(next, learned)
		seed = next
	}

	for _, id := range pending {
		snap, ok := computed[id]
		if !ok {
			continue
		}
		if err := e.store.UpsertSnapshot(ctx, snap); err != nil {
			if failFast {
				return result, fmt.Errorf("product %d: %w", id, err)
			}
			result.fail(id, err)
			continue
		}
		result.Snapshots = append(result.Snapshots, snap)
	}
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].ProductID < result.Failures[j].ProductID })

	logger.InfoContext(ctx, "costing batch finished",
		slog.Int("saved", len(result.Snapshots)),
		slog.Int("failed", len(result.Failures)),
		slog.String("pool_total", pool.Total().StringFixed(MoneyPlaces)))
	return result, nil
}

func (e *Engine) resolveBatchQuantity(ctx context.Context, productID int64, in ProductionInput) (decimal.Decimal, error) {
	if _, err := e.catalog.Product(ctx, productID); err != nil {
		return decimal.Zero, err
	}
	return e.quantities.Resolve(ctx, productID, in)
}

// levels groups products by BOM depth, leaves first. Products inside a
// cycle land on some level and fail later with a CycleError.
func (e *Engine) levels(ctx context.Context, ids []int64) [][]int64 {
	depth := make(map[int64]int)
	var visit func(id int64, path []int64) int
	visit = func(id int64, path []int64) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if slices.Contains(path, id) {
			return 0
		}
		d := 0
		bom, found, err := findActiveBOM(ctx, e.catalog, id)
		if err == nil && found {
			next := append(slices.Clone(path), id)
			for _, line := range bom.Lines {
				if line.ComponentProductID == 0 {
					continue
				}
				if c := visit(line.ComponentProductID, next) + 1; c > d {
					d = c
				}
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for _, id := range ids {
		if d := visit(id, nil); d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]int64, maxDepth+1)
	for _, id := range ids {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return slices.DeleteFunc(levels, func(level []int64) bool { return len(level) == 0 })
}

func (e *Engine) concurrency() int {
	if e.opts.Concurrency < 1 {
		return 1
	}
	return e.opts.Concurrency
}
