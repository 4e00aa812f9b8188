package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports the first configuration problem encountered.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validatePaths,
		c.validateBudget,
		c.validateDownload,
		c.validateLogging,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must not be empty")
	}
	return nil
}

func (c *Config) validateBudget() error {
	if c.Budget.RenewalCost <= 0 {
		return fmt.Errorf("budget.renewal_cost must be positive, got %d", c.Budget.RenewalCost)
	}
	if c.Budget.ValidityDays <= 0 {
		return fmt.Errorf("budget.validity_days must be positive, got %d", c.Budget.ValidityDays)
	}
	if c.Budget.RenewalThresholdDays <= 0 {
		return fmt.Errorf("budget.renewal_threshold_days must be positive, got %d", c.Budget.RenewalThresholdDays)
	}
	if c.Budget.BufferDays <= 0 {
		return fmt.Errorf("budget.buffer_days must be positive, got %d", c.Budget.BufferDays)
	}
	if c.Budget.ExchangeRate <= 0 {
		return fmt.Errorf("budget.exchange_rate must be positive, got %g", c.Budget.ExchangeRate)
	}
	floor := c.Budget.BufferFloor()
	if c.Budget.HardCap <= floor {
		return fmt.Errorf("budget.hard_cap (%d) must exceed the buffer floor (%d)", c.Budget.HardCap, floor)
	}
	if c.Budget.HardCap <= c.Budget.RenewalCost {
		return fmt.Errorf("budget.hard_cap (%d) must exceed budget.renewal_cost (%d)", c.Budget.HardCap, c.Budget.RenewalCost)
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.MaxRetries == 0 {
		return errors.New("download.max_retries must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
