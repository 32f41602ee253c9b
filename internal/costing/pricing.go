package costing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceResolver prices one unit of an expense as of a day.
type PriceResolver interface {
	UnitPrice(ctx context.Context, expense Expense, unit Unit, asOf time.Time) (decimal.Decimal, error)
}

// PriceResolverFunc adapts a function to PriceResolver.
type PriceResolverFunc func(ctx context.Context, expense Expense, unit Unit, asOf time.Time) (decimal.Decimal, error)

func (f PriceResolverFunc) UnitPrice(ctx context.Context, expense Expense, unit Unit, asOf time.Time) (decimal.Decimal, error) {
	return f(ctx, expense, unit, asOf)
}

// ExpensePriceResolver uses the expense's configured price. The line unit
// must match the expense unit.
type ExpensePriceResolver struct{}

func (ExpensePriceResolver) UnitPrice(_ context.Context, expense Expense, unit Unit, _ time.Time) (decimal.Decimal, error) {
	if !expense.Priced() {
		return decimal.Zero, &PriceError{ExpenseID: expense.ID, Reason: "expense has no unit or price"}
	}
	if expense.Unit != unit {
		return decimal.Zero, &PriceError{ExpenseID: expense.ID, Reason: fmt.Sprintf("unit mismatch: expense=%s line=%s", expense.Unit, unit)}
	}
	return Money(expense.PricePerUnit.Decimal), nil
}

// DailyLogPriceResolver prefers the actual price recorded in the day's
// expense log and falls back otherwise.
type DailyLogPriceResolver struct {
	Catalog  Catalog
	Fallback PriceResolver
}

func (r DailyLogPriceResolver) UnitPrice(ctx context.Context, expense Expense, unit Unit, asOf time.Time) (decimal.Decimal, error) {
	fallback := r.Fallback
	if fallback == nil {
		fallback = ExpensePriceResolver{}
	}
	if r.Catalog != nil {
		log, ok, err := r.Catalog.DailyLog(ctx, expense.ID, Day(asOf))
		if err != nil {
			return decimal.Zero, err
		}
		if ok && log.ActualPricePerUnit.Valid && log.ActualPricePerUnit.Decimal.Sign() > 0 {
			if expense.Unit != "" && expense.Unit != unit {
				return decimal.Zero, &PriceError{ExpenseID: expense.ID, Reason: fmt.Sprintf("unit mismatch: expense=%s line=%s", expense.Unit, unit)}
			}
			return Money(log.ActualPricePerUnit.Decimal), nil
		}
	}
	return fallback.UnitPrice(ctx, expense, unit, asOf)
}

// OverheadAllocator adds an overhead amount on top of a BOM base cost.
type OverheadAllocator interface {
	Addon(ctx context.Context, productID int64, base decimal.Decimal, asOf time.Time) (decimal.Decimal, error)
}

// NoOverheads contributes nothing.
type NoOverheads struct{}

func (NoOverheads) Addon(context.Context, int64, decimal.Decimal, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

var hundred = decimal.NewFromInt(100)

// MarkupAllocator adds a fixed percentage of the base cost.
type MarkupAllocator struct {
	Percent decimal.Decimal
}

func (m MarkupAllocator) Addon(_ context.Context, _ int64, base decimal.Decimal, _ time.Time) (decimal.Decimal, error) {
	if m.Percent.Sign() <= 0 {
		return decimal.Zero, nil
	}
	return Money(base.Mul(m.Percent).Div(hundred)), nil
}
