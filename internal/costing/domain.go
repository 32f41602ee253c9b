package costing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for business days.
const DateLayout = "2006-01-02"

// Category separates per-unit priced inputs from period-level pools.
type Category string

const (
	CategoryPhysical Category = "physical"
	CategoryOverhead Category = "overhead"
)

// ParseCategory validates a stored category value.
func ParseCategory(raw string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryPhysical, CategoryOverhead:
		return c, nil
	}
	return "", fmt.Errorf("%w: category %q", ErrInvalidEnum, raw)
}

// Role marks how an expense takes part in production tracking. Only the
// suzerain role is meaningful to costing.
type Role string

const (
	RoleCivilian Role = "civilian"
	RoleVassal   Role = "vassal"
	RoleSuzerain Role = "suzerain"
)

// ParseRole validates a stored role value. "commoner" is accepted as the
// legacy name of the civilian role.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleCivilian, RoleVassal, RoleSuzerain:
		return r, nil
	case "commoner":
		return RoleCivilian, nil
	}
	return "", fmt.Errorf("%w: role %q", ErrInvalidEnum, raw)
}

// Unit is the measurement unit of a priced input or a BOM line.
type Unit string

const (
	UnitKg    Unit = "kg"
	UnitPiece Unit = "pcs"
)

// ParseUnit validates a stored unit value. An empty value is allowed and
// means the unit is not configured.
func ParseUnit(raw string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(raw))); u {
	case "", UnitKg, UnitPiece:
		return u, nil
	}
	return "", fmt.Errorf("%w: unit %q", ErrInvalidEnum, raw)
}

// Product is a sellable or intermediate good.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Unit      Unit            `json:"unit"`
	BasePrice decimal.Decimal `json:"base_price"`
	Active    bool            `json:"active"`
}

// Expense is a cost source: a raw material priced per unit or a
// period-level overhead.
type Expense struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	Category     Category            `json:"category"`
	Role         Role                `json:"role"`
	Unit         Unit                `json:"unit,omitempty"`
	PricePerUnit decimal.NullDecimal `json:"price_per_unit"`
	Active       bool                `json:"active"`
}

// Priced reports whether the expense carries both a unit and a price.
func (e Expense) Priced() bool {
	return e.Unit != "" && e.PricePerUnit.Valid
}

// ExpenseLink ties a product to an expense it consumes per produced unit.
type ExpenseLink struct {
	ProductID int64           `json:"product_id"`
	Expense   Expense         `json:"expense"`
	Ratio     decimal.Decimal `json:"ratio_per_unit"`
	Active    bool            `json:"active"`
}

// BillOfMaterial is a versioned recipe for a product.
type BillOfMaterial struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	Lines     []BOMLine `json:"lines"`
}

// BOMLine references exactly one of an expense or a component product.
type BOMLine struct {
	ID                 int64           `json:"id"`
	ExpenseID          int64           `json:"expense_id,omitempty"`
	ComponentProductID int64           `json:"component_product_id,omitempty"`
	Quantity           decimal.Decimal `json:"quantity"`
	Unit               Unit            `json:"unit"`
	Primary            bool            `json:"is_primary"`
	Position           int             `json:"position"`
}

// Validate checks the one-of reference rule.
func (l BOMLine) Validate() error {
	hasExpense := l.ExpenseID != 0
	hasComponent := l.ComponentProductID != 0
	if hasExpense == hasComponent {
		return fmt.Errorf("%w: line %d must reference exactly one of expense or component", ErrInvalidBOMLine, l.ID)
	}
	return nil
}

// DailyExpenseLog is the recorded spend of one expense on one day.
type DailyExpenseLog struct {
	Expense            Expense             `json:"expense"`
	Day                time.Time           `json:"date"`
	Amount             decimal.Decimal     `json:"amount"`
	ActualPricePerUnit decimal.NullDecimal `json:"actual_price_per_unit"`
}

// MonthlyBudget is the planned amount of an overhead expense for a month.
type MonthlyBudget struct {
	Expense       Expense         `json:"expense"`
	Year          int             `json:"year"`
	Month         time.Month      `json:"month"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
}

// PhysicalLine is one priced input consumed by a production run.
type PhysicalLine struct {
	ExpenseID   int64           `json:"expense_id"`
	Name        string          `json:"name"`
	Unit        Unit            `json:"unit"`
	Ratio       decimal.Decimal `json:"ratio_per_unit"`
	ConsumedQty decimal.Decimal `json:"consumed_qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// OverheadLine is the share of one overhead pool entry given to a product.
type OverheadLine struct {
	ExpenseID  int64           `json:"expense_id"`
	Name       string          `json:"name"`
	PoolAmount decimal.Decimal `json:"pool_amount"`
	Share      decimal.Decimal `json:"share"`
	Amount     decimal.Decimal `json:"amount"`
}

// ComponentLine is one sub-product consumed by a production run.
type ComponentLine struct {
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	Unit        Unit            `json:"unit"`
	PerUnit     decimal.Decimal `json:"quantity_per_unit"`
	ConsumedQty decimal.Decimal `json:"consumed_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Amount      decimal.Decimal `json:"amount"`
}

// Breakdown itemizes every contribution to a snapshot total.
type Breakdown struct {
	Physical   []PhysicalLine  `json:"physical"`
	Overhead   []OverheadLine  `json:"overhead"`
	Components []ComponentLine `json:"components"`
}

// CostSnapshot is the persisted costing of one product on one day.
type CostSnapshot struct {
	ProductID          int64           `json:"product_id"`
	Day                time.Time       `json:"date"`
	ProducedQty        decimal.Decimal `json:"produced_qty"`
	PrimaryInputVolume decimal.Decimal `json:"primary_input_volume"`
	PhysicalCost       decimal.Decimal `json:"physical_cost"`
	OverheadCost       decimal.Decimal `json:"overhead_cost"`
	ComponentCost      decimal.Decimal `json:"component_cost"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	CostPerUnit        decimal.Decimal `json:"cost_per_unit"`
	Revenue            decimal.Decimal `json:"revenue"`
	NetProfit          decimal.Decimal `json:"net_profit"`
	Breakdown          Breakdown       `json:"breakdown"`
}

// Day normalizes t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD business day.
func ParseDay(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("costing: invalid date %q: %w", raw, err)
	}
	return Day(t), nil
}

// Today returns the current business day in loc.
func Today(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Day(time.Now().In(loc))
}
