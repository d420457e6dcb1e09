package services

import (
	"github.com/shopspring/decimal"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

// toMinorUnits converts a request amount to cents. Amounts must be
// strictly positive with at most two decimal places; the ledger itself
// only ever does integer arithmetic on the result.
func toMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, models.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return 0, models.ErrInvalidAmount
	}

	cents := amount.Shift(2)
	if !cents.IsInteger() || !cents.BigInt().IsInt64() {
		return 0, models.ErrInvalidAmount
	}
	return cents.IntPart(), nil
}
