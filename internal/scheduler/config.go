package scheduler

import (
	"time"

	"github.com/smallbiznis/promptmart/internal/config"
)

// Config controls scheduler intervals, job selection and batch sizes.
type Config struct {
	RunInterval     time.Duration
	BatchSize       int
	EnabledJobs     []string
	PayoutProviders []string
	PayoutTimeout   time.Duration
	AuditTimeout    time.Duration
	LockTTL         time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Minute,
		BatchSize:     200,
		PayoutTimeout: 5 * time.Minute,
		AuditTimeout:  10 * time.Minute,
		LockTTL:       15 * time.Minute,
	}
}

// ProvideConfig maps the process configuration onto scheduler settings.
func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	if cfg.Scheduler.IntervalSeconds > 0 {
		c.RunInterval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	}
	c.EnabledJobs = cfg.Scheduler.EnabledJobs
	c.PayoutProviders = cfg.Scheduler.PayoutProviders
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PayoutTimeout <= 0 {
		c.PayoutTimeout = defaults.PayoutTimeout
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = defaults.AuditTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
