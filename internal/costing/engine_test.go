package costing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func engineCatalog() *memoryCatalog {
	c := overheadCatalog()
	c.link(dumplingID, fillingID, "0.5")
	return c
}

func qtyInput(qty, revenue string) ProductionInput {
	return ProductionInput{Quantity: decimal.NewNullDecimal(dec(qty)), Revenue: dec(revenue)}
}

func TestEngineComputeSnapshot(t *testing.T) {
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)

	snap, err := e.Compute(context.Background(), Request{
		ProductID: dumplingID,
		Day:       testDay.Add(15 * time.Hour),
		Input:     qtyInput("100", "2000"),
		Volumes:   Volumes{dumplingID: dec("100"), doughID: dec("300")},
	})
	require.NoError(t, err)
	require.Equal(t, testDay, snap.Day)
	requireDecimal(t, "100", snap.ProducedQty)
	requireDecimal(t, "1000.00", snap.PhysicalCost)
	requireDecimal(t, "200.00", snap.ComponentCost)
	requireDecimal(t, "100.00", snap.OverheadCost)
	requireDecimal(t, "1300.00", snap.TotalCost)
	requireDecimal(t, "13.000", snap.CostPerUnit)
	requireDecimal(t, "2000.00", snap.Revenue)
	requireDecimal(t, "700.00", snap.NetProfit)

	require.Len(t, snap.Breakdown.Physical, 1)
	require.Len(t, snap.Breakdown.Components, 1)
	require.Equal(t, "Dough", snap.Breakdown.Components[0].Name)
	requireDecimal(t, "2.00", snap.Breakdown.Components[0].UnitCost)
	require.Len(t, snap.Breakdown.Overhead, 2)
	requireDecimal(t, "0.25", snap.Breakdown.Overhead[0].Share)
}

func TestEngineSnapshotTotalIsSumOfParts(t *testing.T) {
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)
	snap, err := e.Compute(context.Background(), Request{
		ProductID: dumplingID,
		Day:       testDay,
		Input:     qtyInput("33.333", "0"),
		Volumes:   Volumes{dumplingID: dec("33.333"), doughID: dec("71")},
	})
	require.NoError(t, err)
	requireDecimal(t, snap.TotalCost.String(), SumMoney(snap.PhysicalCost, snap.OverheadCost, snap.ComponentCost))
	requireDecimal(t, snap.NetProfit.String(), Money(snap.Revenue.Sub(snap.TotalCost)))
	require.True(t, snap.TotalCost.Equal(Money(snap.TotalCost)))
	require.True(t, snap.CostPerUnit.Equal(Qty(snap.CostPerUnit)))
}

func TestEngineSaveIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	e := NewEngine(engineCatalog(), store, Options{}, nil, nil)
	req := Request{ProductID: dumplingID, Day: testDay, Input: qtyInput("100", "2000"), Volumes: Volumes{dumplingID: dec("100")}}

	first, err := e.Save(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Save(context.Background(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
	require.Len(t, store.rows, 1)
	require.Equal(t, 2, store.upserts)
}

func TestEngineZeroQuantity(t *testing.T) {
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)
	snap, err := e.Compute(context.Background(), Request{
		ProductID: dumplingID,
		Day:       testDay,
		Input:     qtyInput("0", "50"),
		Volumes:   Volumes{dumplingID: dec("0"), doughID: dec("10")},
	})
	require.NoError(t, err)
	require.True(t, snap.TotalCost.IsZero())
	require.True(t, snap.CostPerUnit.IsZero())
	requireDecimal(t, "50.00", snap.NetProfit)
	require.Empty(t, snap.Breakdown.Physical)
	require.Empty(t, snap.Breakdown.Overhead)
	require.Empty(t, snap.Breakdown.Components)
}

func TestEngineDerivesQuantityFromPrimaryInput(t *testing.T) {
	e := NewEngine(suzerainCatalog(), newMemoryStore(), Options{}, nil, nil)
	snap, err := e.Compute(context.Background(), Request{
		ProductID: 30,
		Day:       testDay,
		Input:     ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("105"))},
	})
	require.NoError(t, err)
	requireDecimal(t, "10500", snap.ProducedQty)
	requireDecimal(t, "105", snap.PrimaryInputVolume)
	requireDecimal(t, "840.00", snap.PhysicalCost)
	requireDecimal(t, "0.080", snap.CostPerUnit)
}

func TestEngineMissingVolumeMap(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	req := Request{ProductID: dumplingID, Day: testDay, Input: qtyInput("10", "0")}

	snap, err := NewEngine(engineCatalog(), newMemoryStore(), Options{}, logger, nil).Compute(context.Background(), req)
	require.NoError(t, err)
	requireDecimal(t, "400.00", snap.OverheadCost)
	require.Contains(t, buf.String(), "overhead volume map missing")

	_, err = NewEngine(engineCatalog(), newMemoryStore(), Options{RequireVolumeMap: true}, nil, nil).Compute(context.Background(), req)
	require.ErrorIs(t, err, ErrVolumeMapRequired)
}

func TestEngineVolumeMapMustListProduct(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)
	partial := Volumes{doughID: dec("100")}

	_, err := e.Compute(ctx, Request{ProductID: dumplingID, Day: testDay, Input: qtyInput("100", "0"), Volumes: partial})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Compute(ctx, Request{ProductID: dumplingID, Day: testDay, Input: qtyInput("100", "0"),
		Volumes: Volumes{dumplingID: dec("50"), doughID: dec("100")}})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Compute(ctx, Request{ProductID: dumplingID, Day: testDay, Input: qtyInput("100", "0"),
		Volumes: Volumes{dumplingID: dec("100"), doughID: dec("-5")}})
	require.ErrorIs(t, err, ErrInvalidInput)

	dough, err := e.Compute(ctx, Request{ProductID: doughID, Day: testDay, Input: qtyInput("100", "0"), Volumes: partial})
	require.NoError(t, err)
	requireDecimal(t, "400.00", dough.OverheadCost)
}

func TestEngineSharedVolumeMapConservesPool(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)
	day := Volumes{dumplingID: dec("100"), doughID: dec("100")}

	sum := decimal.Zero
	for id, qty := range day {
		snap, err := e.Compute(ctx, Request{ProductID: id, Day: testDay, Input: qtyInput(qty.String(), "0"), Volumes: day})
		require.NoError(t, err)
		require.True(t, snap.Breakdown.Overhead[0].Share.LessThanOrEqual(decimal.NewFromInt(1)))
		sum = sum.Add(snap.OverheadCost)
	}
	requireDecimal(t, "400.00", sum)
}

func TestEngineSaveDoesNotPersistFailures(t *testing.T) {
	c := engineCatalog()
	c.addProduct(70, "A")
	c.addProduct(71, "B")
	c.addBOM(70, componentLine(71, "1"))
	c.addBOM(71, componentLine(70, "1"))
	store := newMemoryStore()
	obs := newCountingObserver()

	_, err := NewEngine(c, store, Options{}, nil, obs).Save(context.Background(), Request{ProductID: 70, Day: testDay, Input: qtyInput("1", "0")})
	require.ErrorIs(t, err, ErrBOMCycle)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, []int64{70, 71, 70}, cycle.Path)
	require.Empty(t, store.rows)
	require.Equal(t, 1, obs.failed["bom_cycle"])
}

func TestEngineStrictBOMOnComponents(t *testing.T) {
	c := engineCatalog()
	c.addProduct(7, "Sauce")
	c.addBOM(dumplingID+100, componentLine(7, "1"))
	c.addProduct(dumplingID+100, "Sauced")
	req := Request{ProductID: dumplingID + 100, Day: testDay, Input: qtyInput("1", "0")}

	snap, err := NewEngine(c, newMemoryStore(), Options{}, nil, nil).Compute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, snap.ComponentCost.IsZero())

	_, err = NewEngine(c, newMemoryStore(), Options{StrictBOM: true}, nil, nil).Compute(context.Background(), req)
	require.ErrorIs(t, err, ErrBOMNotFound)
}

func TestEngineRejectsUnknownProduct(t *testing.T) {
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)
	_, err := e.Compute(context.Background(), Request{ProductID: 999, Day: testDay})
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = e.Compute(context.Background(), Request{Day: testDay})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngineDailyLogPriceSource(t *testing.T) {
	c := engineCatalog()
	c.addProduct(3, "Platter")
	c.addBOM(3, componentLine(dumplingID, "1"))
	c.logActualPrice(fillingID, testDay, "22.00")
	req := Request{ProductID: 3, Day: testDay, Input: qtyInput("10", "0")}

	snap, err := NewEngine(c, newMemoryStore(), Options{PriceSource: PriceSourceDailyLog}, nil, nil).Compute(context.Background(), req)
	require.NoError(t, err)
	requireDecimal(t, "130.00", snap.ComponentCost)

	snap, err = NewEngine(c, newMemoryStore(), Options{}, nil, nil).Compute(context.Background(), req)
	require.NoError(t, err)
	requireDecimal(t, "120.00", snap.ComponentCost)
}

func TestEnginePreviewBOM(t *testing.T) {
	e := NewEngine(engineCatalog(), newMemoryStore(), Options{}, nil, nil)
	cost, err := e.PreviewBOM(context.Background(), dumplingID, testDay, dec("25"))
	require.NoError(t, err)
	requireDecimal(t, "12.00", cost.BaseCost)
	requireDecimal(t, "3.00", cost.OverheadsAddon)
	requireDecimal(t, "15.00", cost.FinalCost)

	_, err = e.PreviewBOM(context.Background(), 404, testDay, decimal.Zero)
	require.ErrorIs(t, err, ErrProductNotFound)
}
