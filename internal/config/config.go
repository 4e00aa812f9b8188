package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	ReviewDir string `toml:"review_dir"`
	APIBind   string `toml:"api_bind"`
}

// Catalog contains configuration for the reference-catalog lookup service.
type Catalog struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Engine contains configuration for the external download engine.
type Engine struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Category       string `toml:"category"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Importer contains configuration for the library import pipeline.
type Importer struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Admission contains configuration for candidate admission and priority scoring.
type Admission struct {
	BatchSize         int `toml:"batch_size"`
	PriorityFloor     int `toml:"priority_floor"`
	SeriesGapPriority int `toml:"series_gap_priority"`
	AuthorGapPriority int `toml:"author_gap_priority"`
	ThrottleDivisor   int `toml:"throttle_divisor"`
}

// Budget contains configuration for the resource budget controller.
// Costs and balances are denominated in points, the tracker's bonus currency.
type Budget struct {
	RenewalCost          int64   `toml:"renewal_cost"`
	RenewalThresholdDays int     `toml:"renewal_threshold_days"`
	ValidityDays         int     `toml:"validity_days"`
	BufferDays           int     `toml:"buffer_days"`
	HardCap              int64   `toml:"hard_cap"`
	ExchangeRate         float64 `toml:"exchange_rate"`
}

// Download contains configuration for the download lifecycle manager.
type Download struct {
	MaxRetries       int `toml:"max_retries"`
	BackoffBaseHours int `toml:"backoff_base_hours"`
	BackoffCapHours  int `toml:"backoff_cap_hours"`
	PollWorkers      int `toml:"poll_workers"`
	ErrorHistoryMax  int `toml:"error_history_max"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	CycleInterval      int `toml:"cycle_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Budget         bool   `toml:"budget"`
	Downloads      bool   `toml:"downloads"`
	Cycles         bool   `toml:"cycles"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for stacks.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Catalog: reference-catalog lookup service
//   - Engine: external download engine
//   - Importer: library import pipeline
//   - Admission: enqueue/dequeue batching and priority scoring
//   - Budget: renewal, buffer, and conversion thresholds
//   - Download: retry policy and polling concurrency
//   - Workflow: control loop intervals
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Catalog       Catalog       `toml:"catalog"`
	Engine        Engine        `toml:"engine"`
	Importer      Importer      `toml:"importer"`
	Admission     Admission     `toml:"admission"`
	Budget        Budget        `toml:"budget"`
	Download      Download      `toml:"download"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stacks/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. Unknown keys in the
// file are rejected.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: unknown keys:\n%s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stacks.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ReviewDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
