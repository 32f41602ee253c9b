package costing

import "github.com/shopspring/decimal"

const (
	// MoneyPlaces is the scale every monetary amount is stored with.
	MoneyPlaces int32 = 2
	// QtyPlaces is the scale every quantity and share is stored with.
	QtyPlaces int32 = 3
)

// Money rounds to two decimals, half away from zero.
func Money(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyPlaces)
}

// Qty rounds to three decimals, half away from zero.
func Qty(v decimal.Decimal) decimal.Decimal {
	return v.Round(QtyPlaces)
}

// SumMoney adds the values and quantizes the result as money.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return Money(total)
}

// divOrZero returns num/den, or zero when den is not positive.
func divOrZero(num, den decimal.Decimal) decimal.Decimal {
	if den.Sign() <= 0 {
		return decimal.Zero
	}
	return num.Div(den)
}
