package costing

import (
	"context"
	"time"
)

// Catalog is the read side the engine consumes. Implementations return
// ErrProductNotFound or ErrExpenseNotFound for unknown ids.
type Catalog interface {
	Product(ctx context.Context, id int64) (Product, error)
	// ExpenseLinks returns every link of the product with its expense, ordered by expense id.
	ExpenseLinks(ctx context.Context, productID int64) ([]ExpenseLink, error)
	// ActiveBOMs returns active boms with lines ordered by position.
	ActiveBOMs(ctx context.Context, productID int64) ([]BillOfMaterial, error)
	Expense(ctx context.Context, id int64) (Expense, error)
	// OverheadLogs returns the day's logs of overhead expenses.
	OverheadLogs(ctx context.Context, day time.Time) ([]DailyExpenseLog, error)
	DailyLog(ctx context.Context, expenseID int64, day time.Time) (DailyExpenseLog, bool, error)
	MonthlyBudgets(ctx context.Context, year int, month time.Month) ([]MonthlyBudget, error)
	DayClosed(ctx context.Context, day time.Time) (bool, error)
}

// SnapshotStore persists snapshots keyed by (product, day).
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap CostSnapshot) error
	GetSnapshot(ctx context.Context, productID int64, day time.Time) (CostSnapshot, error)
	ListSnapshots(ctx context.Context, day time.Time) ([]CostSnapshot, error)
}

// Observer receives engine events worth counting.
type Observer interface {
	InputSkipped(reason string)
	ComputationFailed(kind string)
}

type nopObserver struct{}

func (nopObserver) InputSkipped(string)      {}
func (nopObserver) ComputationFailed(string) {}
