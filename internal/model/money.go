package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places accepted for amounts, budgets and spm
const MoneyScale int32 = 2

// BalanceScale is the precision balances are kept at. Refunds of a partial
// mille can leave sub-cent remainders.
const BalanceScale int32 = 5

// viewsPerMille is the exponent of the 1000 impressions an spm prices
const viewsPerMille int32 = 3

// ErrNonPositiveSPM guards the view-pool division
var ErrNonPositiveSPM = errors.New("spm must be greater than zero")

// TotalViews derives the impression pool bought by budget at the given spm:
// floor(budget / spm * 1000). The quotient is computed exactly.
func TotalViews(budget, spm decimal.Decimal) (int64, error) {
	if !spm.IsPositive() {
		return 0, ErrNonPositiveSPM
	}
	if !budget.IsPositive() {
		return 0, nil
	}
	q, _ := budget.Shift(viewsPerMille).QuoRem(spm, 0)
	return q.IntPart(), nil
}

// RefundAmount is the price of remaining unshown views: remaining / 1000 * spm
func RefundAmount(remaining int64, spm decimal.Decimal) decimal.Decimal {
	if remaining <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(remaining).Mul(spm).Shift(-viewsPerMille)
}

// HasMoneyScale reports whether d has no more than MoneyScale decimal places
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// ValidMoney reports whether d is a positive amount with at most MoneyScale places
func ValidMoney(d decimal.Decimal) bool {
	return d.IsPositive() && HasMoneyScale(d)
}

// HasBalanceScale reports whether d fits the precision of a stored balance
func HasBalanceScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(BalanceScale))
}
