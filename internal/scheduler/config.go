package scheduler

import (
	"time"

	"github.com/smallbiznis/modulebilling/internal/config"
)

const (
	JobRenewal    = "renewal"
	JobExpiration = "expiration"
)

// Config controls job schedules, timeouts and batch sizes. Renewal batch size
// and concurrency come from the hot-reloaded billing config instead.
type Config struct {
	Enabled        bool
	EnabledJobs    []string
	RenewalSpec    string
	ExpirationSpec string
	JobTimeout     time.Duration
	SweepBatchSize int
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RenewalSpec:    "0 3 * * *",
		ExpirationSpec: "30 3 * * *",
		JobTimeout:     30 * time.Minute,
		SweepBatchSize: 100,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:        cfg.Scheduler.Enabled,
		EnabledJobs:    cfg.Scheduler.EnabledJobs,
		RenewalSpec:    cfg.Scheduler.RenewalSpec,
		ExpirationSpec: cfg.Scheduler.ExpirationSpec,
		JobTimeout:     cfg.Scheduler.JobTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RenewalSpec == "" {
		c.RenewalSpec = defaults.RenewalSpec
	}
	if c.ExpirationSpec == "" {
		c.ExpirationSpec = defaults.ExpirationSpec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	return c
}
