package costing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Service fronts the engine for the HTTP, CLI and job surfaces. Identical
// concurrent recomputations share one run and reads go through the cache.
type Service struct {
	engine *Engine
	store  SnapshotStore
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService builds the service. cache may be nil.
func NewService(engine *Engine, store SnapshotStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, store: store, cache: cache, logger: logger}
}

// Recalculate computes and stores one snapshot.
func (s *Service) Recalculate(ctx context.Context, req Request) (CostSnapshot, error) {
	val, err, shared := s.do(ctx, requestKey(req), func(ctx context.Context) (any, error) {
		snap, err := s.engine.Save(ctx, req)
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx)
		return snap, nil
	})
	if err != nil {
		return CostSnapshot{}, err
	}
	if shared {
		s.logger.DebugContext(ctx, "snapshot recompute coalesced", slog.Int64("product_id", req.ProductID))
	}
	return val.(CostSnapshot), nil
}

// RunDay runs the batch for a day.
func (s *Service) RunDay(ctx context.Context, req BatchRequest) (BatchResult, error) {
	result, err := s.engine.RunDay(ctx, req)
	if len(result.Snapshots) > 0 {
		s.invalidate(ctx)
	}
	return result, err
}

// RecostDay recomputes every stored snapshot of the day with its recorded
// quantity, volume and revenue. Late expense logs are picked up this way.
func (s *Service) RecostDay(ctx context.Context, day time.Time, failFast bool) (BatchResult, error) {
	snaps, err := s.store.ListSnapshots(ctx, Day(day))
	if err != nil {
		return BatchResult{}, err
	}
	production := make(map[int64]ProductionInput, len(snaps))
	for _, snap := range snaps {
		in := ProductionInput{
			Quantity: decimal.NewNullDecimal(snap.ProducedQty),
			Revenue:  snap.Revenue,
		}
		if snap.PrimaryInputVolume.Sign() > 0 {
			in.PrimaryInputVolume = decimal.NewNullDecimal(snap.PrimaryInputVolume)
		}
		production[snap.ProductID] = in
	}
	return s.RunDay(ctx, BatchRequest{Day: day, Production: production, FailFast: failFast})
}

// Snapshot returns a stored snapshot.
func (s *Service) Snapshot(ctx context.Context, productID int64, day time.Time) (CostSnapshot, error) {
	day = Day(day)
	key, err := s.cache.BuildKey(ctx, snapshotKey(productID, day)...)
	if err != nil {
		return CostSnapshot{}, err
	}
	var snap CostSnapshot
	err = s.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (any, error) {
		return s.store.GetSnapshot(ctx, productID, day)
	})
	return snap, err
}

// Snapshots lists the stored snapshots of a day.
func (s *Service) Snapshots(ctx context.Context, day time.Time) ([]CostSnapshot, error) {
	day = Day(day)
	key, err := s.cache.BuildKey(ctx, snapshotListKey(day)...)
	if err != nil {
		return nil, err
	}
	var snaps []CostSnapshot
	err = s.cache.FetchJSON(ctx, key, &snaps, func(ctx context.Context) (any, error) {
		return s.store.ListSnapshots(ctx, day)
	})
	return snaps, err
}

// PreviewBOM values a product through its BOM.
func (s *Service) PreviewBOM(ctx context.Context, productID int64, day time.Time, markupPercent decimal.Decimal) (ProductCost, error) {
	return s.engine.PreviewBOM(ctx, productID, day, markupPercent)
}

func (s *Service) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "costing cache bump failed", slog.Any("error", err))
	}
}

// requestKey identifies a recompute by every input that affects its result.
func requestKey(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s", req.ProductID, Day(req.Day).Format(DateLayout),
		nullString(req.Input.Quantity), nullString(req.Input.PrimaryInputVolume), req.Input.Revenue.String())
	if req.Volumes != nil {
		b.WriteString("|v")
		for _, id := range slices.Sorted(maps.Keys(req.Volumes)) {
			b.WriteString(":" + strconv.FormatInt(id, 10) + "=" + req.Volumes[id].String())
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "costing:" + strconv.FormatInt(req.ProductID, 10) + ":" + hex.EncodeToString(sum[:8])
}

func nullString(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.String()
}
