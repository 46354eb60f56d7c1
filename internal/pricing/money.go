package pricing

import "github.com/shopspring/decimal"

// MinorUnitsPerMAD is the number of centimes in one dirham.
const MinorUnitsPerMAD = 100

var minorFactor = decimal.NewFromInt(MinorUnitsPerMAD)

// ToMinorUnits converts a MAD amount into integer centimes for storage.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorFactor).Round(0).IntPart()
}

// FromMinorUnits converts stored centimes back into MAD.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
