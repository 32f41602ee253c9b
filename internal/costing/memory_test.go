package costing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

type memoryCatalog struct {
	products map[int64]Product
	expenses map[int64]Expense
	links    map[int64][]ExpenseLink
	boms     map[int64][]BillOfMaterial
	logs     []DailyExpenseLog
	budgets  []MonthlyBudget
	closed   map[time.Time]bool
	bomCalls atomic.Int64
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		products: map[int64]Product{},
		expenses: map[int64]Expense{},
		links:    map[int64][]ExpenseLink{},
		boms:     map[int64][]BillOfMaterial{},
		closed:   map[time.Time]bool{},
	}
}

func (m *memoryCatalog) addProduct(id int64, name string) {
	m.products[id] = Product{ID: id, Name: name, Unit: UnitPiece, Active: true}
}

func (m *memoryCatalog) addMaterial(id int64, name string, unit Unit, price string) {
	m.expenses[id] = Expense{
		ID:           id,
		Name:         name,
		Category:     CategoryPhysical,
		Role:         RoleCivilian,
		Unit:         unit,
		PricePerUnit: decimal.NewNullDecimal(dec(price)),
		Active:       true,
	}
}

func (m *memoryCatalog) addOverhead(id int64, name string) {
	m.expenses[id] = Expense{ID: id, Name: name, Category: CategoryOverhead, Role: RoleCivilian, Active: true}
}

func (m *memoryCatalog) link(productID, expenseID int64, ratio string) {
	m.links[productID] = append(m.links[productID], ExpenseLink{
		ProductID: productID,
		Expense:   Expense{ID: expenseID},
		Ratio:     dec(ratio),
		Active:    true,
	})
}

func (m *memoryCatalog) addBOM(productID int64, lines ...BOMLine) {
	id := int64(len(m.boms)+1) * 100
	for i := range lines {
		lines[i].ID = id + int64(i) + 1
		lines[i].Position = i
	}
	m.boms[productID] = append(m.boms[productID], BillOfMaterial{ID: id, ProductID: productID, Version: 1, Active: true, Lines: lines})
}

func (m *memoryCatalog) logOverhead(expenseID int64, day time.Time, amount string) {
	m.logs = append(m.logs, DailyExpenseLog{Expense: Expense{ID: expenseID}, Day: Day(day), Amount: dec(amount)})
}

func (m *memoryCatalog) logActualPrice(expenseID int64, day time.Time, price string) {
	m.logs = append(m.logs, DailyExpenseLog{
		Expense:            Expense{ID: expenseID},
		Day:                Day(day),
		Amount:             decimal.Zero,
		ActualPricePerUnit: decimal.NewNullDecimal(dec(price)),
	})
}

func expenseLine(expenseID int64, qty string, unit Unit) BOMLine {
	return BOMLine{ExpenseID: expenseID, Quantity: dec(qty), Unit: unit}
}

func componentLine(productID int64, qty string) BOMLine {
	return BOMLine{ComponentProductID: productID, Quantity: dec(qty), Unit: UnitPiece}
}

func (m *memoryCatalog) Product(_ context.Context, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, nil
}

func (m *memoryCatalog) ExpenseLinks(_ context.Context, productID int64) ([]ExpenseLink, error) {
	out := make([]ExpenseLink, 0, len(m.links[productID]))
	for _, l := range m.links[productID] {
		l.Expense = m.expenses[l.Expense.ID]
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expense.ID < out[j].Expense.ID })
	return out, nil
}

func (m *memoryCatalog) ActiveBOMs(_ context.Context, productID int64) ([]BillOfMaterial, error) {
	m.bomCalls.Add(1)
	return m.boms[productID], nil
}

func (m *memoryCatalog) Expense(_ context.Context, id int64) (Expense, error) {
	e, ok := m.expenses[id]
	if !ok {
		return Expense{}, fmt.Errorf("%w: %d", ErrExpenseNotFound, id)
	}
	return e, nil
}

func (m *memoryCatalog) OverheadLogs(_ context.Context, day time.Time) ([]DailyExpenseLog, error) {
	var out []DailyExpenseLog
	for _, l := range m.logs {
		exp := m.expenses[l.Expense.ID]
		if !l.Day.Equal(Day(day)) || exp.Category != CategoryOverhead {
			continue
		}
		l.Expense = exp
		out = append(out, l)
	}
	return out, nil
}

func (m *memoryCatalog) DailyLog(_ context.Context, expenseID int64, day time.Time) (DailyExpenseLog, bool, error) {
	for _, l := range m.logs {
		if l.Expense.ID == expenseID && l.Day.Equal(Day(day)) {
			l.Expense = m.expenses[expenseID]
			return l, true, nil
		}
	}
	return DailyExpenseLog{}, false, nil
}

func (m *memoryCatalog) MonthlyBudgets(_ context.Context, year int, month time.Month) ([]MonthlyBudget, error) {
	var out []MonthlyBudget
	for _, b := range m.budgets {
		if b.Year == year && b.Month == month {
			b.Expense = m.expenses[b.Expense.ID]
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryCatalog) DayClosed(_ context.Context, day time.Time) (bool, error) {
	return m.closed[Day(day)], nil
}

type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]CostSnapshot
	upserts int
	reads   int
	failFor map[int64]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]CostSnapshot{}, failFor: map[int64]error{}}
}

func storeKey(productID int64, day time.Time) string {
	return fmt.Sprintf("%d@%s", productID, Day(day).Format(DateLayout))
}

func (s *memoryStore) UpsertSnapshot(_ context.Context, snap CostSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[snap.ProductID]; err != nil {
		return err
	}
	s.upserts++
	s.rows[storeKey(snap.ProductID, snap.Day)] = snap
	return nil
}

func (s *memoryStore) GetSnapshot(_ context.Context, productID int64, day time.Time) (CostSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	snap, ok := s.rows[storeKey(productID, day)]
	if !ok {
		return CostSnapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *memoryStore) ListSnapshots(_ context.Context, day time.Time) ([]CostSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	out := []CostSnapshot{}
	for _, snap := range s.rows {
		if snap.Day.Equal(Day(day)) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

type countingObserver struct {
	mu      sync.Mutex
	skipped map[string]int
	failed  map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{skipped: map[string]int{}, failed: map[string]int{}}
}

func (o *countingObserver) InputSkipped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped[reason]++
}

func (o *countingObserver) ComputationFailed(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[kind]++
}
