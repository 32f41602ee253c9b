package costing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const meatID int64 = 21

func suzerainCatalog() *memoryCatalog {
	c := dumplingCatalog()
	c.expenses[meatID] = Expense{
		ID:           meatID,
		Name:         "Ground meat",
		Category:     CategoryPhysical,
		Role:         RoleSuzerain,
		Unit:         UnitKg,
		PricePerUnit: decimal.NewNullDecimal(dec("8.00")),
		Active:       true,
	}
	c.addProduct(30, "Pelmeni")
	c.link(30, meatID, "0.01")
	return c
}

func TestQuantityFromSuzerainVolume(t *testing.T) {
	r := NewQuantityResolver(suzerainCatalog())
	qty, err := r.Resolve(context.Background(), 30, ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("105"))})
	require.NoError(t, err)
	requireDecimal(t, "10500.000", qty)
	require.Equal(t, "10500.000", qty.StringFixed(QtyPlaces))
}

func TestQuantityExplicitWins(t *testing.T) {
	r := NewQuantityResolver(suzerainCatalog())
	qty, err := r.Resolve(context.Background(), 30, ProductionInput{
		Quantity:           decimal.NewNullDecimal(dec("12.3456")),
		PrimaryInputVolume: decimal.NewNullDecimal(dec("105")),
	})
	require.NoError(t, err)
	requireDecimal(t, "12.346", qty)
}

func TestQuantityZeroWithoutInputs(t *testing.T) {
	r := NewQuantityResolver(suzerainCatalog())
	qty, err := r.Resolve(context.Background(), 30, ProductionInput{})
	require.NoError(t, err)
	require.True(t, qty.IsZero())

	qty, err = r.Resolve(context.Background(), doughID, ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("50"))})
	require.NoError(t, err)
	require.True(t, qty.IsZero())
}

func TestQuantityPrefersPrimaryBOMLine(t *testing.T) {
	c := suzerainCatalog()
	line := expenseLine(meatID, "0.02", UnitKg)
	line.Primary = true
	c.addBOM(30, line)

	qty, err := NewQuantityResolver(c).Resolve(context.Background(), 30, ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("105"))})
	require.NoError(t, err)
	requireDecimal(t, "5250", qty)
}

func TestQuantityFallsBackWhenBOMHasNoPrimary(t *testing.T) {
	c := suzerainCatalog()
	c.addBOM(30, expenseLine(meatID, "0.02", UnitKg))

	qty, err := NewQuantityResolver(c).Resolve(context.Background(), 30, ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("105"))})
	require.NoError(t, err)
	requireDecimal(t, "10500", qty)
}

func TestQuantityIgnoresInactiveSuzerainLink(t *testing.T) {
	c := suzerainCatalog()
	c.links[30][0].Active = false

	qty, err := NewQuantityResolver(c).Resolve(context.Background(), 30, ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("105"))})
	require.NoError(t, err)
	require.True(t, qty.IsZero())
}

func TestQuantityAmbiguousPrimaryInput(t *testing.T) {
	c := suzerainCatalog()
	c.expenses[22] = Expense{ID: 22, Name: "Fish", Category: CategoryPhysical, Role: RoleSuzerain, Unit: UnitKg, Active: true}
	c.link(30, 22, "0.02")

	_, err := NewQuantityResolver(c).Resolve(context.Background(), 30, ProductionInput{PrimaryInputVolume: decimal.NewNullDecimal(dec("105"))})
	require.ErrorIs(t, err, ErrAmbiguousPrimaryInput)
}
