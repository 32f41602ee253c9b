package costing

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// PhysicalResult is the priced consumption of one production run.
type PhysicalResult struct {
	Lines []PhysicalLine
	Total decimal.Decimal
}

// PhysicalResolver prices the physical expense links of a product.
type PhysicalResolver struct {
	catalog  Catalog
	logger   *slog.Logger
	observer Observer
}

// NewPhysicalResolver constructs the resolver.
func NewPhysicalResolver(catalog Catalog, logger *slog.Logger, observer Observer) *PhysicalResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &PhysicalResolver{catalog: catalog, logger: logger, observer: observer}
}

// Resolve computes consumption and cost per active physical link. Links
// whose expense lacks a unit or price are skipped with a warning.
func (r *PhysicalResolver) Resolve(ctx context.Context, productID int64, produced decimal.Decimal) (PhysicalResult, error) {
	result := PhysicalResult{Lines: []PhysicalLine{}, Total: decimal.Zero}
	if produced.Sign() <= 0 {
		return result, nil
	}
	links, err := r.catalog.ExpenseLinks(ctx, productID)
	if err != nil {
		return PhysicalResult{}, err
	}
	total := decimal.Zero
	for _, link := range links {
		exp := link.Expense
		if !link.Active || !exp.Active || exp.Category != CategoryPhysical {
			continue
		}
		if !exp.Priced() {
			r.logger.WarnContext(ctx, "physical input skipped",
				slog.Int64("product_id", productID),
				slog.Int64("expense_id", exp.ID),
				slog.String("reason", "missing unit or price"))
			r.observer.InputSkipped("missing_price")
			continue
		}
		price := exp.PricePerUnit.Decimal
		consumed := Qty(produced.Mul(link.Ratio))
		amount := Money(consumed.Mul(price))
		result.Lines = append(result.Lines, PhysicalLine{
			ExpenseID:   exp.ID,
			Name:        exp.Name,
			Unit:        exp.Unit,
			Ratio:       link.Ratio,
			ConsumedQty: consumed,
			UnitPrice:   price,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	result.Total = Money(total)
	return result, nil
}
