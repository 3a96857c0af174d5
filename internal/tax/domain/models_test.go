package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		price string
		rate  string
		total string
		vat   string
	}{
		{price: "49.90", rate: "0.17", total: "58.38", vat: "8.48"},
		{price: "29.90", rate: "0.17", total: "34.98", vat: "5.08"},
		{price: "59.00", rate: "0.17", total: "69.03", vat: "10.03"},
		{price: "10.00", rate: "0", total: "10.00", vat: "0"},
	}

	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			got := Compute(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.rate))
			assert.True(t, got.Total.Equal(decimal.RequireFromString(tc.total)), "total %s", got.Total)
			assert.True(t, got.Vat.Equal(decimal.RequireFromString(tc.vat)), "vat %s", got.Vat)
			assert.True(t, got.Net.Add(got.Vat).Equal(got.Total))
		})
	}
}
