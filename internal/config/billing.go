package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig is the hot-reloadable billing policy read from billing.yml.
type BillingConfig struct {
	TaxRate                float64       `mapstructure:"taxRate"`
	Currency               string        `mapstructure:"currency"`
	GatewayTimeout         time.Duration `mapstructure:"gatewayTimeout"`
	MaxConsecutiveFailures int           `mapstructure:"maxConsecutiveFailures"`
	RenewalBatchSize       int           `mapstructure:"renewalBatchSize"`
	RenewalConcurrency     int           `mapstructure:"renewalConcurrency"`
	PayingAccountStatuses  []string      `mapstructure:"payingAccountStatuses"`
	PeriodMonths           int           `mapstructure:"periodMonths"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		TaxRate:                0.17,
		Currency:               "ILS",
		GatewayTimeout:         15 * time.Second,
		MaxConsecutiveFailures: 3,
		RenewalBatchSize:       50,
		RenewalConcurrency:     4,
		PayingAccountStatuses:  []string{"active"},
		PeriodMonths:           1,
	}
}

// TaxRateDecimal returns the configured rate as an exact decimal.
func (c BillingConfig) TaxRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.TaxRate)
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("billing.config")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/modulebilling")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MODULEBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.taxRate", defaults.TaxRate)
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.gatewayTimeout", defaults.GatewayTimeout)
	v.SetDefault("billing.maxConsecutiveFailures", defaults.MaxConsecutiveFailures)
	v.SetDefault("billing.renewalBatchSize", defaults.RenewalBatchSize)
	v.SetDefault("billing.renewalConcurrency", defaults.RenewalConcurrency)
	v.SetDefault("billing.payingAccountStatuses", defaults.PayingAccountStatuses)
	v.SetDefault("billing.periodMonths", defaults.PeriodMonths)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingConfig(v)
		if err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeBillingConfig unmarshals through AllSettings so defaults fill keys the file omits.
func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	var file struct {
		Billing BillingConfig `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return BillingConfig{}, err
	}
	return file.Billing, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.TaxRate < 0 || cfg.TaxRate >= 1 {
		return errors.New("billing.taxRate must be in [0, 1)")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	if cfg.GatewayTimeout <= 0 {
		return errors.New("billing.gatewayTimeout must be positive")
	}
	if cfg.MaxConsecutiveFailures < 0 {
		return errors.New("billing.maxConsecutiveFailures cannot be negative")
	}
	if cfg.RenewalBatchSize <= 0 || cfg.RenewalConcurrency <= 0 {
		return errors.New("billing.renewalBatchSize and billing.renewalConcurrency must be positive")
	}
	if len(cfg.PayingAccountStatuses) == 0 {
		return errors.New("billing.payingAccountStatuses cannot be empty")
	}
	if cfg.PeriodMonths <= 0 {
		return errors.New("billing.periodMonths must be positive")
	}
	return nil
}
