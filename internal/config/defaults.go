package config

import "math"

const (
	defaultDataDir   = "~/.local/share/stacks"
	defaultLogDir    = "~/.local/share/stacks/logs"
	defaultReviewDir = "~/.local/share/stacks/review"
	defaultAPIBind   = "127.0.0.1:7833"

	defaultCatalogTimeout  = 30
	defaultEngineTimeout   = 30
	defaultImporterTimeout = 60

	defaultBatchSize         = 10
	defaultPriorityFloor     = 0
	defaultSeriesGapPriority = 60
	defaultAuthorGapPriority = 40
	defaultThrottleDivisor   = 4

	defaultRenewalCost          = 5000
	defaultRenewalThresholdDays = 7
	defaultValidityDays         = 120
	defaultBufferDays           = 30
	defaultHardCap              = 99999
	defaultExchangeRate         = 0.5

	defaultMaxRetries       = 3
	defaultBackoffBaseHours = 24
	defaultBackoffCapHours  = 96
	defaultPollWorkers      = 4
	defaultErrorHistoryMax  = 10

	defaultCycleInterval      = 900
	defaultErrorRetryInterval = 60

	defaultNotifyTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ReviewDir: defaultReviewDir,
			APIBind:   defaultAPIBind,
		},
		Catalog: Catalog{
			RequestTimeout: defaultCatalogTimeout,
		},
		Engine: Engine{
			Category:       "books",
			RequestTimeout: defaultEngineTimeout,
		},
		Importer: Importer{
			RequestTimeout: defaultImporterTimeout,
		},
		Admission: Admission{
			BatchSize:         defaultBatchSize,
			PriorityFloor:     defaultPriorityFloor,
			SeriesGapPriority: defaultSeriesGapPriority,
			AuthorGapPriority: defaultAuthorGapPriority,
			ThrottleDivisor:   defaultThrottleDivisor,
		},
		Budget: Budget{
			RenewalCost:          defaultRenewalCost,
			RenewalThresholdDays: defaultRenewalThresholdDays,
			ValidityDays:         defaultValidityDays,
			BufferDays:           defaultBufferDays,
			HardCap:              defaultHardCap,
			ExchangeRate:         defaultExchangeRate,
		},
		Download: Download{
			MaxRetries:       defaultMaxRetries,
			BackoffBaseHours: defaultBackoffBaseHours,
			BackoffCapHours:  defaultBackoffCapHours,
			PollWorkers:      defaultPollWorkers,
			ErrorHistoryMax:  defaultErrorHistoryMax,
		},
		Workflow: Workflow{
			CycleInterval:      defaultCycleInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Budget:         true,
			Downloads:      true,
			Cycles:         false,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// BufferFloor derives the minimum balance the budget controller preserves:
// the daily renewal cost multiplied by the configured buffer window, rounded
// up to whole points.
func (b Budget) BufferFloor() int64 {
	if b.ValidityDays <= 0 || b.BufferDays <= 0 {
		return 0
	}
	daily := float64(b.RenewalCost) / float64(b.ValidityDays)
	return int64(math.Ceil(daily * float64(b.BufferDays)))
}
