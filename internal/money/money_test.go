package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundToUnit(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		unit   int64
		want   string
	}{
		{"unit zero disables rounding", "106399.5", 0, "106399.5"},
		{"unit one disables rounding", "106399.5", 1, "106399.5"},
		{"rounds down", "106349", 100, "106300"},
		{"half rounds away from zero", "106350", 100, "106400"},
		{"negative half rounds away from zero", "-150", 100, "-200"},
		{"already a multiple", "72000", 500, "72000"},
		{"odd unit", "1249", 500, "1000"},
		{"odd unit half", "1250", 500, "1500"},
		{"fractional input", "99.99", 100, "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundToUnit(d(tc.amount), tc.unit)
			assert.True(t, d(tc.want).Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestRoundToUnitIdempotent(t *testing.T) {
	amounts := []string{"0", "1", "49.99", "50", "12345.678", "-987.5", "106399.5", "999999999.99"}
	units := []int64{0, 1, 2, 5, 50, 100, 500, 1000}
	for _, a := range amounts {
		for _, u := range units {
			once := RoundToUnit(d(a), u)
			twice := RoundToUnit(once, u)
			assert.True(t, once.Equal(twice), "amount=%s unit=%d once=%s twice=%s", a, u, once, twice)
		}
	}
}

func TestReconciles(t *testing.T) {
	assert.True(t, Reconciles(d("72000"), d("72000")))
	assert.True(t, Reconciles(d("72001"), d("72000")))
	assert.True(t, Reconciles(d("71999"), d("72000")))
	assert.False(t, Reconciles(d("72001.01"), d("72000")))
	assert.False(t, Reconciles(d("71998"), d("72000")))
}

func TestPercentAndClamp(t *testing.T) {
	assert.True(t, d("9900").Equal(Percent(d("90000"), d("11"))))
	assert.True(t, d("4500").Equal(Percent(d("90000"), d("5"))))
	assert.True(t, Zero.Equal(ClampZero(d("-3"))))
	assert.True(t, d("3").Equal(ClampZero(d("3"))))
	assert.True(t, d("6").Equal(Sum(d("1"), d("2"), d("3"))))
}
