package costing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// budgetDaysPerMonth spreads a monthly budget evenly over a notional month.
const budgetDaysPerMonth = 30

// PoolSource records where a pool entry came from.
type PoolSource string

const (
	PoolSourceLog    PoolSource = "log"
	PoolSourceBudget PoolSource = "budget"
)

// PoolEntry is the day's total for one overhead expense.
type PoolEntry struct {
	ExpenseID int64           `json:"expense_id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Source    PoolSource      `json:"source"`
}

// Pool is the overhead pool of a day, ordered by expense id.
type Pool struct {
	Day     time.Time   `json:"date"`
	Entries []PoolEntry `json:"entries"`
}

// Total sums the pool entries.
func (p Pool) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Entries {
		total = total.Add(e.Amount)
	}
	return Money(total)
}

// PoolOptions tunes pool collection.
type PoolOptions struct {
	// BudgetFallback adds budget/30 for active overhead expenses without a positive log.
	BudgetFallback bool
}

// CollectPool groups the day's overhead logs by expense.
func CollectPool(ctx context.Context, catalog Catalog, day time.Time, opts PoolOptions) (Pool, error) {
	day = Day(day)
	logs, err := catalog.OverheadLogs(ctx, day)
	if err != nil {
		return Pool{}, err
	}
	byExpense := make(map[int64]*PoolEntry)
	logged := make(map[int64]bool)
	for _, log := range logs {
		exp := log.Expense
		if exp.Category != CategoryOverhead || !exp.Active {
			continue
		}
		entry, ok := byExpense[exp.ID]
		if !ok {
			entry = &PoolEntry{ExpenseID: exp.ID, Name: exp.Name, Amount: decimal.Zero, Source: PoolSourceLog}
			byExpense[exp.ID] = entry
		}
		entry.Amount = Money(entry.Amount.Add(log.Amount))
		if log.Amount.Sign() > 0 {
			logged[exp.ID] = true
		}
	}
	if opts.BudgetFallback {
		budgets, err := catalog.MonthlyBudgets(ctx, day.Year(), day.Month())
		if err != nil {
			return Pool{}, err
		}
		for _, b := range budgets {
			exp := b.Expense
			if exp.Category != CategoryOverhead || !exp.Active || logged[exp.ID] {
				continue
			}
			amount := Money(b.PlannedAmount.Div(decimal.NewFromInt(budgetDaysPerMonth)))
			if amount.Sign() <= 0 {
				continue
			}
			byExpense[exp.ID] = &PoolEntry{ExpenseID: exp.ID, Name: exp.Name, Amount: amount, Source: PoolSourceBudget}
		}
	}
	pool := Pool{Day: day, Entries: make([]PoolEntry, 0, len(byExpense))}
	for _, entry := range byExpense {
		pool.Entries = append(pool.Entries, *entry)
	}
	sort.Slice(pool.Entries, func(i, j int) bool { return pool.Entries[i].ExpenseID < pool.Entries[j].ExpenseID })
	return pool, nil
}

// Volumes maps product ids to their produced quantity for the day.
type Volumes map[int64]decimal.Decimal

// Total sums every quantity in the map.
func (v Volumes) Total() decimal.Decimal {
	total := decimal.Zero
	for _, qty := range v {
		total = total.Add(qty)
	}
	return total
}

// Allocation is one product's portion of the pool.
type Allocation struct {
	Share decimal.Decimal
	Lines []OverheadLine
	Total decimal.Decimal
}

// Allocate splits the pool by production share. Zero-valued lines are
// left out of the breakdown.
func Allocate(pool Pool, produced, totalProduction decimal.Decimal) Allocation {
	alloc := Allocation{Share: decimal.Zero, Lines: []OverheadLine{}, Total: decimal.Zero}
	if len(pool.Entries) == 0 || produced.Sign() <= 0 || totalProduction.Sign() <= 0 {
		return alloc
	}
	alloc.Share = Qty(divOrZero(produced, totalProduction))
	total := decimal.Zero
	for _, entry := range pool.Entries {
		amount := Money(entry.Amount.Mul(alloc.Share))
		if amount.IsZero() {
			continue
		}
		alloc.Lines = append(alloc.Lines, OverheadLine{
			ExpenseID:  entry.ExpenseID,
			Name:       entry.Name,
			PoolAmount: entry.Amount,
			Share:      alloc.Share,
			Amount:     amount,
		})
		total = total.Add(amount)
	}
	alloc.Total = Money(total)
	return alloc
}
