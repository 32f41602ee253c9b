package costing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-costing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-costing/internal/shared"
)

// Repository reads the costing catalog and persists snapshots in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errRepoNotInitialised = errors.New("costing repository not initialised")

const expenseColumns = `e.id, e.name, e.category, e.role, COALESCE(e.unit, ''), e.price_per_unit, e.is_active`

type expenseRow struct {
	id       int64
	name     string
	category string
	role     string
	unit     string
	price    decimal.NullDecimal
	active   bool
}

func (r *expenseRow) targets() []any {
	return []any{&r.id, &r.name, &r.category, &r.role, &r.unit, &r.price, &r.active}
}

func (r expenseRow) expense() (Expense, error) {
	category, err := ParseCategory(r.category)
	if err != nil {
		return Expense{}, err
	}
	role, err := ParseRole(r.role)
	if err != nil {
		return Expense{}, err
	}
	unit, err := ParseUnit(r.unit)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:           r.id,
		Name:         r.name,
		Category:     category,
		Role:         role,
		Unit:         unit,
		PricePerUnit: r.price,
		Active:       r.active,
	}, nil
}

// Product loads a product by id.
func (r *Repository) Product(ctx context.Context, id int64) (Product, error) {
	if r == nil {
		return Product{}, errRepoNotInitialised
	}
	var (
		p    Product
		unit string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, name, unit, base_price, is_active FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &unit, &p.BasePrice, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		return Product{}, err
	}
	if p.Unit, err = ParseUnit(unit); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ExpenseLinks loads every expense link of a product.
func (r *Repository) ExpenseLinks(ctx context.Context, productID int64) ([]ExpenseLink, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT l.product_id, l.ratio_per_product_unit, l.is_active, `+expenseColumns+`
FROM product_expense_links l
JOIN expenses e ON e.id = l.expense_id
WHERE l.product_id=$1
ORDER BY e.id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	links := []ExpenseLink{}
	for rows.Next() {
		var (
			link ExpenseLink
			er   expenseRow
		)
		if err := rows.Scan(append([]any{&link.ProductID, &link.Ratio, &link.Active}, er.targets()...)...); err != nil {
			return nil, err
		}
		if link.Expense, err = er.expense(); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// ActiveBOMs loads the active boms of a product with their lines.
func (r *Repository) ActiveBOMs(ctx context.Context, productID int64) ([]BillOfMaterial, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.product_id, b.version, b.is_active,
       l.id, COALESCE(l.expense_id, 0), COALESCE(l.component_product_id, 0), l.quantity, l.unit, l.is_primary, l.position
FROM bills_of_material b
LEFT JOIN bom_lines l ON l.bom_id = b.id
WHERE b.product_id=$1 AND b.is_active
ORDER BY b.id ASC, l.position ASC, l.id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	boms := []BillOfMaterial{}
	index := map[int64]int{}
	for rows.Next() {
		var (
			bom                    BillOfMaterial
			lineID                 *int64
			expenseID, componentID int64
			quantity               decimal.NullDecimal
			unit                   *string
			primary                *bool
			position               *int
		)
		if err := rows.Scan(&bom.ID, &bom.ProductID, &bom.Version, &bom.Active,
			&lineID, &expenseID, &componentID, &quantity, &unit, &primary, &position); err != nil {
			return nil, err
		}
		i, ok := index[bom.ID]
		if !ok {
			bom.Lines = []BOMLine{}
			boms = append(boms, bom)
			i = len(boms) - 1
			index[bom.ID] = i
		}
		if lineID == nil {
			continue
		}
		line := BOMLine{ID: *lineID, ExpenseID: expenseID, ComponentProductID: componentID, Quantity: quantity.Decimal}
		if unit != nil {
			if line.Unit, err = ParseUnit(*unit); err != nil {
				return nil, err
			}
		}
		if primary != nil {
			line.Primary = *primary
		}
		if position != nil {
			line.Position = *position
		}
		boms[i].Lines = append(boms[i].Lines, line)
	}
	return boms, rows.Err()
}

// Expense loads an expense by id.
func (r *Repository) Expense(ctx context.Context, id int64) (Expense, error) {
	if r == nil {
		return Expense{}, errRepoNotInitialised
	}
	var er expenseRow
	err := r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses e WHERE e.id=$1`, id).Scan(er.targets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, fmt.Errorf("%w: %d", ErrExpenseNotFound, id)
		}
		return Expense{}, err
	}
	return er.expense()
}

// OverheadLogs loads the day's logs of overhead expenses.
func (r *Repository) OverheadLogs(ctx context.Context, day time.Time) ([]DailyExpenseLog, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT d.log_date, d.amount, d.actual_price_per_unit, `+expenseColumns+`
FROM daily_expense_logs d
JOIN expenses e ON e.id = d.expense_id
WHERE d.log_date=$1 AND e.category='overhead'
ORDER BY e.id ASC`, Day(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []DailyExpenseLog{}
	for rows.Next() {
		var (
			log DailyExpenseLog
			er  expenseRow
		)
		if err := rows.Scan(append([]any{&log.Day, &log.Amount, &log.ActualPricePerUnit}, er.targets()...)...); err != nil {
			return nil, err
		}
		if log.Expense, err = er.expense(); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// DailyLog loads the log of one expense on one day.
func (r *Repository) DailyLog(ctx context.Context, expenseID int64, day time.Time) (DailyExpenseLog, bool, error) {
	if r == nil {
		return DailyExpenseLog{}, false, errRepoNotInitialised
	}
	var (
		log DailyExpenseLog
		er  expenseRow
	)
	err := r.pool.QueryRow(ctx, `SELECT d.log_date, d.amount, d.actual_price_per_unit, `+expenseColumns+`
FROM daily_expense_logs d
JOIN expenses e ON e.id = d.expense_id
WHERE d.expense_id=$1 AND d.log_date=$2`, expenseID, Day(day)).
		Scan(append([]any{&log.Day, &log.Amount, &log.ActualPricePerUnit}, er.targets()...)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailyExpenseLog{}, false, nil
		}
		return DailyExpenseLog{}, false, err
	}
	if log.Expense, err = er.expense(); err != nil {
		return DailyExpenseLog{}, false, err
	}
	return log, true, nil
}

// MonthlyBudgets loads overhead budgets for a month.
func (r *Repository) MonthlyBudgets(ctx context.Context, year int, month time.Month) ([]MonthlyBudget, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT b.year, b.month, b.planned_amount, `+expenseColumns+`
FROM monthly_overhead_budgets b
JOIN expenses e ON e.id = b.expense_id
WHERE b.year=$1 AND b.month=$2
ORDER BY e.id ASC`, year, int(month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	budgets := []MonthlyBudget{}
	for rows.Next() {
		var (
			b     MonthlyBudget
			month int
			er    expenseRow
		)
		if err := rows.Scan(append([]any{&b.Year, &month, &b.PlannedAmount}, er.targets()...)...); err != nil {
			return nil, err
		}
		b.Month = time.Month(month)
		if b.Expense, err = er.expense(); err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// DayClosed reports whether expense logging for the day was closed.
func (r *Repository) DayClosed(ctx context.Context, day time.Time) (bool, error) {
	if r == nil {
		return false, errRepoNotInitialised
	}
	var closed bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM expense_day_closures WHERE closure_date=$1)`, Day(day)).Scan(&closed)
	return closed, err
}

// CloseDay marks expense logging for the day as final.
func (r *Repository) CloseDay(ctx context.Context, day time.Time) error {
	if r == nil {
		return errRepoNotInitialised
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO expense_day_closures (closure_date, closed_at) VALUES ($1, NOW())
ON CONFLICT (closure_date) DO NOTHING`, Day(day))
	return err
}

// UpsertSnapshot writes the snapshot under a per (product, day) advisory lock.
func (r *Repository) UpsertSnapshot(ctx context.Context, snap CostSnapshot) error {
	if r == nil {
		return errRepoNotInitialised
	}
	breakdown, err := json.Marshal(snap.Breakdown)
	if err != nil {
		return err
	}
	day := Day(snap.Day)
	return db.WithLockedTx(ctx, r.pool, shared.SnapshotLockKey(snap.ProductID, day), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO cost_snapshots (product_id, snapshot_date, produced_qty, primary_input_volume,
  physical_cost, overhead_cost, component_cost, total_cost, cost_per_unit, revenue, net_profit, breakdown, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW())
ON CONFLICT (product_id, snapshot_date) DO UPDATE SET
  produced_qty=EXCLUDED.produced_qty,
  primary_input_volume=EXCLUDED.primary_input_volume,
  physical_cost=EXCLUDED.physical_cost,
  overhead_cost=EXCLUDED.overhead_cost,
  component_cost=EXCLUDED.component_cost,
  total_cost=EXCLUDED.total_cost,
  cost_per_unit=EXCLUDED.cost_per_unit,
  revenue=EXCLUDED.revenue,
  net_profit=EXCLUDED.net_profit,
  breakdown=EXCLUDED.breakdown,
  updated_at=NOW()`,
			snap.ProductID, day, snap.ProducedQty, snap.PrimaryInputVolume,
			snap.PhysicalCost, snap.OverheadCost, snap.ComponentCost, snap.TotalCost, snap.CostPerUnit,
			snap.Revenue, snap.NetProfit, breakdown)
		return err
	})
}

const snapshotColumns = `product_id, snapshot_date, produced_qty, primary_input_volume, physical_cost, overhead_cost,
  component_cost, total_cost, cost_per_unit, revenue, net_profit, breakdown`

func scanSnapshot(row pgx.Row) (CostSnapshot, error) {
	var (
		snap CostSnapshot
		raw  []byte
	)
	if err := row.Scan(&snap.ProductID, &snap.Day, &snap.ProducedQty, &snap.PrimaryInputVolume,
		&snap.PhysicalCost, &snap.OverheadCost, &snap.ComponentCost, &snap.TotalCost, &snap.CostPerUnit,
		&snap.Revenue, &snap.NetProfit, &raw); err != nil {
		return CostSnapshot{}, err
	}
	snap.Day = Day(snap.Day)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &snap.Breakdown); err != nil {
			return CostSnapshot{}, err
		}
	}
	return snap, nil
}

// GetSnapshot loads the snapshot of a product on a day.
func (r *Repository) GetSnapshot(ctx context.Context, productID int64, day time.Time) (CostSnapshot, error) {
	if r == nil {
		return CostSnapshot{}, errRepoNotInitialised
	}
	snap, err := scanSnapshot(r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM cost_snapshots WHERE product_id=$1 AND snapshot_date=$2`, productID, Day(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return CostSnapshot{}, fmt.Errorf("%w: product %d on %s", ErrSnapshotNotFound, productID, Day(day).Format(DateLayout))
	}
	return snap, err
}

// ListSnapshots loads every snapshot of a day ordered by product.
func (r *Repository) ListSnapshots(ctx context.Context, day time.Time) ([]CostSnapshot, error) {
	if r == nil {
		return nil, errRepoNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM cost_snapshots WHERE snapshot_date=$1 ORDER BY product_id ASC`, Day(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	snaps := []CostSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

var (
	_ Catalog       = (*Repository)(nil)
	_ SnapshotStore = (*Repository)(nil)
)
