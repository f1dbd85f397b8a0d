// Package currency renders decimal amounts in a currency's display format.
package currency

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const Default = "USD"

// Format rounds amount to the currency's minor unit and renders it with the
// currency symbol, e.g. "$1,234.50". Unknown codes fall back to a plain
// two-decimal rendering followed by the code.
func Format(amount decimal.Decimal, code string) string {
	if code == "" {
		code = Default
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	factor, _ := decimal.NewFromInt(10).PowInt32(int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// Valid reports whether code names a currency known to go-money.
func Valid(code string) bool {
	return money.GetCurrency(code) != nil
}
