package money

import "github.com/shopspring/decimal"

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)

	// Epsilon is the largest difference tolerated between a client-computed
	// amount and the amount it must reconcile with.
	Epsilon = decimal.NewFromInt(1)
)

// RoundToUnit snaps amount to the nearest multiple of unit, half away from zero.
// A unit of 0 or 1 leaves the amount untouched.
func RoundToUnit(amount decimal.Decimal, unit int64) decimal.Decimal {
	if unit <= 1 {
		return amount
	}
	u := decimal.NewFromInt(unit)
	return amount.Div(u).Round(0).Mul(u)
}

// Percent returns amount * rate / 100.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Within reports whether |a-b| <= eps.
func Within(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// Reconciles reports whether a matches b within Epsilon.
func Reconciles(a, b decimal.Decimal) bool {
	return Within(a, b, Epsilon)
}

// Freeze rounds a persisted money field to two decimal places.
func Freeze(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
