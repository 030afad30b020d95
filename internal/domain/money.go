package domain

import "github.com/shopspring/decimal"

// usdPlaces is the precision every stored USD amount is rounded to.
const usdPlaces = 8

// RoundUSD rounds v to 1e-8 USD.
func RoundUSD(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(usdPlaces).Float64()
	return f
}

// SubUSD returns a-b computed in decimal and rounded to 1e-8 USD.
func SubUSD(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(usdPlaces).Float64()
	return f
}

// SumUSD adds vs in decimal and rounds the total to 1e-8 USD.
func SumUSD(vs ...float64) float64 {
	total := decimal.Zero
	for _, v := range vs {
		total = total.Add(decimal.NewFromFloat(v))
	}
	f, _ := total.Round(usdPlaces).Float64()
	return f
}

// AbsDiffUSD returns |a-b| rounded to 1e-8 USD.
func AbsDiffUSD(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs().Round(usdPlaces).Float64()
	return f
}

// MulUSD returns a*b rounded to 1e-8 USD.
func MulUSD(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(usdPlaces).Float64()
	return f
}
