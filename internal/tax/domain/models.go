package domain

import "github.com/shopspring/decimal"

// Breakdown splits a charge into net price and VAT. Total is rounded to
// two decimals once, and Vat is derived from it so Net+Vat always equals Total.
type Breakdown struct {
	Net   decimal.Decimal `json:"net"`
	Vat   decimal.Decimal `json:"vat"`
	Total decimal.Decimal `json:"total"`
	Rate  decimal.Decimal `json:"rate"`
}

type Calculator interface {
	Compute(price decimal.Decimal) Breakdown
}

func Compute(price, rate decimal.Decimal) Breakdown {
	total := price.Mul(decimal.NewFromInt(1).Add(rate)).Round(2)
	return Breakdown{
		Net:   price,
		Vat:   total.Sub(price),
		Total: total,
		Rate:  rate,
	}
}
