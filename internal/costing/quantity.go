package costing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ProductionInput is what the caller knows about a product's day.
type ProductionInput struct {
	Quantity           decimal.NullDecimal `json:"quantity"`
	PrimaryInputVolume decimal.NullDecimal `json:"primary_input_volume"`
	Revenue            decimal.Decimal     `json:"revenue"`
}

// QuantityResolver derives produced quantity from primary input volume.
type QuantityResolver struct {
	catalog Catalog
}

// NewQuantityResolver constructs the resolver.
func NewQuantityResolver(catalog Catalog) *QuantityResolver {
	return &QuantityResolver{catalog: catalog}
}

// Resolve returns the explicit quantity when given, otherwise
// volume / primary ratio, or zero when no ratio resolves.
func (r *QuantityResolver) Resolve(ctx context.Context, productID int64, in ProductionInput) (decimal.Decimal, error) {
	if in.Quantity.Valid {
		return Qty(in.Quantity.Decimal), nil
	}
	if !in.PrimaryInputVolume.Valid || in.PrimaryInputVolume.Decimal.Sign() <= 0 {
		return decimal.Zero, nil
	}
	ratio, err := r.PrimaryRatio(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return Qty(divOrZero(in.PrimaryInputVolume.Decimal, ratio)), nil
}

// PrimaryRatio is the primary input consumed per produced unit. A BOM line
// flagged primary wins over the suzerain expense link.
func (r *QuantityResolver) PrimaryRatio(ctx context.Context, productID int64) (decimal.Decimal, error) {
	bom, found, err := findActiveBOM(ctx, r.catalog, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if found {
		var primary []BOMLine
		for _, line := range bom.Lines {
			if line.Primary {
				primary = append(primary, line)
			}
		}
		if len(primary) > 1 {
			return decimal.Zero, fmt.Errorf("%w: bom %d has %d primary lines", ErrAmbiguousPrimaryInput, bom.ID, len(primary))
		}
		if len(primary) == 1 && primary[0].Quantity.Sign() > 0 {
			return primary[0].Quantity, nil
		}
	}

	links, err := r.catalog.ExpenseLinks(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	var suzerains []ExpenseLink
	for _, link := range links {
		if link.Active && link.Expense.Role == RoleSuzerain && link.Expense.Category == CategoryPhysical {
			suzerains = append(suzerains, link)
		}
	}
	switch len(suzerains) {
	case 0:
		return decimal.Zero, nil
	case 1:
		return suzerains[0].Ratio, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: product %d has %d suzerain links", ErrAmbiguousPrimaryInput, productID, len(suzerains))
	}
}
