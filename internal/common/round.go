package common

import "github.com/shopspring/decimal"

// Money and share precision used on the wire.
const (
	MoneyPlaces = 2
	SharePlaces = 4
)

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// RoundMoney rounds to cents.
func RoundMoney(v float64) float64 {
	return Round(v, MoneyPlaces)
}

// RoundShare rounds a fraction to four places.
func RoundShare(v float64) float64 {
	return Round(v, SharePlaces)
}
