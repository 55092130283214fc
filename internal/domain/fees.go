package domain

import "github.com/shopspring/decimal"

var (
	makerFeeRate = decimal.RequireFromString("0.0175")
	takerFeeRate = decimal.RequireFromString("0.07")
	cents        = decimal.NewFromInt(100)
	one          = decimal.NewFromInt(1)
)

// Fee returns the venue trading fee in dollars for quantity contracts at
// price, rounded up to the next cent:
//
//	ceil(rate × q × p × (1 − p) × 100) / 100
//
// rate is 1.75% for maker orders and 7% for taker orders. Decimal arithmetic
// keeps an exact product on a cent boundary from being rounded up.
func Fee(quantity int, price float64, isMaker bool) float64 {
	if quantity <= 0 || price <= 0 || price >= 1 {
		return 0
	}
	rate := takerFeeRate
	if isMaker {
		rate = makerFeeRate
	}
	p := decimal.NewFromFloat(price)
	raw := rate.Mul(decimal.NewFromInt(int64(quantity))).Mul(p).Mul(one.Sub(p))
	f, _ := raw.Mul(cents).Ceil().Div(cents).Float64()
	return f
}

// FeePerContract is the fee charged on a single contract.
func FeePerContract(price float64, isMaker bool) float64 {
	return Fee(1, price, isMaker)
}

// TotalCost is the cash needed to buy quantity contracts at price,
// fee included.
func TotalCost(quantity int, price float64, isMaker bool) float64 {
	if quantity <= 0 {
		return 0
	}
	return float64(quantity)*price + Fee(quantity, price, isMaker)
}
