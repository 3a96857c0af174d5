package service

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/modulebilling/internal/config"
	taxdomain "github.com/smallbiznis/modulebilling/internal/tax/domain"
)

type Service struct {
	billing *config.BillingConfigHolder
}

// NewService reads the rate on every call so config reloads apply to the next charge.
func NewService(billing *config.BillingConfigHolder) taxdomain.Calculator {
	return &Service{billing: billing}
}

func (s *Service) Compute(price decimal.Decimal) taxdomain.Breakdown {
	return taxdomain.Compute(price, s.billing.Get().TaxRateDecimal())
}
