package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServices()
	c.normalizeAdmission()
	c.normalizeDownload()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	if c.Paths.ReviewDir, err = expandPath(c.Paths.ReviewDir); err != nil {
		return fmt.Errorf("review_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeServices() {
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	c.Catalog.APIKey = strings.TrimSpace(c.Catalog.APIKey)
	if c.Catalog.RequestTimeout <= 0 {
		c.Catalog.RequestTimeout = defaultCatalogTimeout
	}

	c.Engine.BaseURL = strings.TrimRight(strings.TrimSpace(c.Engine.BaseURL), "/")
	c.Engine.APIKey = strings.TrimSpace(c.Engine.APIKey)
	c.Engine.Category = strings.TrimSpace(c.Engine.Category)
	if c.Engine.RequestTimeout <= 0 {
		c.Engine.RequestTimeout = defaultEngineTimeout
	}

	c.Importer.BaseURL = strings.TrimRight(strings.TrimSpace(c.Importer.BaseURL), "/")
	c.Importer.APIKey = strings.TrimSpace(c.Importer.APIKey)
	if c.Importer.RequestTimeout <= 0 {
		c.Importer.RequestTimeout = defaultImporterTimeout
	}
}

func (c *Config) normalizeAdmission() {
	if c.Admission.BatchSize <= 0 {
		c.Admission.BatchSize = defaultBatchSize
	}
	if c.Admission.ThrottleDivisor <= 1 {
		c.Admission.ThrottleDivisor = defaultThrottleDivisor
	}
}

func (c *Config) normalizeDownload() {
	if c.Download.MaxRetries < 0 {
		c.Download.MaxRetries = defaultMaxRetries
	}
	if c.Download.BackoffBaseHours <= 0 {
		c.Download.BackoffBaseHours = defaultBackoffBaseHours
	}
	if c.Download.BackoffCapHours < c.Download.BackoffBaseHours {
		c.Download.BackoffCapHours = c.Download.BackoffBaseHours
	}
	if c.Download.PollWorkers <= 0 {
		c.Download.PollWorkers = defaultPollWorkers
	}
	if c.Download.ErrorHistoryMax <= 0 {
		c.Download.ErrorHistoryMax = defaultErrorHistoryMax
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.CycleInterval <= 0 {
		c.Workflow.CycleInterval = defaultCycleInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
