// Package config loads the agent's read-only configuration snapshot:
// a YAML file overlaid by environment variables, validated once at
// startup and handed down by reference to every component (spec §6,
// §9 "injected configuration snapshot").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// API groups the remote backend settings (spec §6 "API").
type API struct {
	BaseURL       string  `yaml:"base_url"`
	UserID        string  `yaml:"user_id"`
	TimeoutS      float64 `yaml:"timeout_s"`
	RetryAttempts int     `yaml:"retry_attempts"`
	RetryDelayS   float64 `yaml:"retry_delay_s"`
	BatchSize     int     `yaml:"batch_size"`
}

// Timeout returns the configured HTTP timeout as a duration.
func (a API) Timeout() time.Duration { return time.Duration(a.TimeoutS * float64(time.Second)) }

// RetryDelay returns the configured initial retry delay as a duration.
func (a API) RetryDelay() time.Duration { return time.Duration(a.RetryDelayS * float64(time.Second)) }

// Sampling groups sampler cadence settings (spec §6 "Sampling").
type Sampling struct {
	PhysicsPeriodMS     int     `yaml:"physics_period_ms"`
	ScoringPollPeriodMS int     `yaml:"scoring_poll_period_ms"`
	ScoringPeriodicS    float64 `yaml:"scoring_periodic_s"`
	EnableCollection    bool    `yaml:"enable_collection"`
}

func (s Sampling) PhysicsPeriod() time.Duration {
	return time.Duration(s.PhysicsPeriodMS) * time.Millisecond
}

func (s Sampling) ScoringPollPeriod() time.Duration {
	return time.Duration(s.ScoringPollPeriodMS) * time.Millisecond
}

func (s Sampling) ScoringPeriodic() time.Duration {
	return time.Duration(s.ScoringPeriodicS * float64(time.Second))
}

// Validation groups lap-validator thresholds (spec §6 "Validation").
type Validation struct {
	MinPoints                int     `yaml:"min_points"`
	MinLapTimeS              float64 `yaml:"min_lap_time_s"`
	MaxLapTimeS              float64 `yaml:"max_lap_time_s"`
	MinDistancePercentage    float64 `yaml:"min_distance_percentage"`
	MaxGapS                  float64 `yaml:"max_gap_s"`
	SpeedOutlierThresholdKMH float64 `yaml:"speed_outlier_threshold_kmh"`
}

// Source groups shared-memory source settings (spec §6 "Source").
type Source struct {
	AccessMode     int    `yaml:"access_mode"`
	ProcessID      string `yaml:"process_id"`
	PlayerOverride bool   `yaml:"player_override"`
	PlayerIndex    int    `yaml:"player_index"`
	CharEncoding   string `yaml:"char_encoding"`
}

// Logging groups ambient logging settings (spec §6 "Logging").
type Logging struct {
	Level          string `yaml:"level"`
	FileLogging    bool   `yaml:"file_logging"`
	MaxLogSizeByte int64  `yaml:"max_log_size_bytes"`
	BackupCount    int    `yaml:"backup_count"`
}

// Config is the complete, immutable configuration snapshot.
type Config struct {
	API        API        `yaml:"api"`
	Sampling   Sampling   `yaml:"sampling"`
	Validation Validation `yaml:"validation"`
	Source     Source     `yaml:"source"`
	Logging    Logging    `yaml:"logging"`

	// SourceFailureWindow is how long read_physics may fail transiently
	// before the sampler surfaces SourceUnavailable (spec §4.2).
	SourceFailureWindowS float64 `yaml:"source_failure_window_s"`

	// ShutdownGraceS bounds the supervisor's drain period (spec §4.8).
	ShutdownGraceS float64 `yaml:"shutdown_grace_s"`

	// MaxMemoryMB is loaded and defaulted but read by no component; the
	// batch buffer drops data when its output channel is full, not on a
	// memory threshold.
	MaxMemoryMB int `yaml:"max_memory_mb"`

	// LimitWaitMaxS bounds how long a request waits for a rate-limit
	// token before RateLimitExceeded is raised (spec §4.7).
	LimitWaitMaxS float64 `yaml:"limit_wait_max_s"`
}

func (c Config) SourceFailureWindow() time.Duration {
	return time.Duration(c.SourceFailureWindowS * float64(time.Second))
}

func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceS * float64(time.Second))
}

func (c Config) LimitWaitMax() time.Duration {
	return time.Duration(c.LimitWaitMaxS * float64(time.Second))
}

// Default returns the configuration with every spec §6 default applied.
func Default() Config {
	return Config{
		API: API{
			TimeoutS:      30,
			RetryAttempts: 3,
			RetryDelayS:   1.0,
			BatchSize:     100,
		},
		Sampling: Sampling{
			PhysicsPeriodMS:     11,
			ScoringPollPeriodMS: 50,
			ScoringPeriodicS:    1.0,
			EnableCollection:    true,
		},
		Validation: Validation{
			MinPoints:                100,
			MinLapTimeS:              30,
			MaxLapTimeS:              300,
			MinDistancePercentage:    80,
			MaxGapS:                  2,
			SpeedOutlierThresholdKMH: 400,
		},
		Source: Source{
			CharEncoding: "utf-8",
		},
		Logging: Logging{
			Level: "INFO",
		},
		SourceFailureWindowS: 5,
		ShutdownGraceS:       5,
		MaxMemoryMB:          128,
		LimitWaitMaxS:        5,
	}
}

// Load reads a YAML file over Default(), then overlays process
// environment variables via godotenv (teacher idiom: env files loaded
// once at startup, §9 "injected configuration snapshot"). A missing
// path is not an error — Default() alone is returned with env overlay
// applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// godotenv.Load is a no-op (returns an error we ignore) when no
	// .env file is present, matching the teacher's cmd/nysus startup.
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HERBIE_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("HERBIE_API_USER_ID"); v != "" {
		cfg.API.UserID = v
	}
	if v := os.Getenv("HERBIE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}
}

// Validate enforces spec §6's recognised-key bounds and cross-field
// constraints, returning a descriptive error on the first violation so
// cmd/herbie can exit 1 with a useful message.
func Validate(c Config) error {
	if c.API.BaseURL != "" && !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("config: api.base_url must begin with http:// or https://")
	}
	if c.API.TimeoutS < 5 || c.API.TimeoutS > 120 {
		return fmt.Errorf("config: api.timeout_s must be in [5,120], got %v", c.API.TimeoutS)
	}
	if c.API.RetryAttempts < 1 || c.API.RetryAttempts > 10 {
		return fmt.Errorf("config: api.retry_attempts must be in [1,10], got %v", c.API.RetryAttempts)
	}
	if c.API.RetryDelayS < 0.1 || c.API.RetryDelayS > 10 {
		return fmt.Errorf("config: api.retry_delay_s must be in [0.1,10], got %v", c.API.RetryDelayS)
	}
	// NOTE: batch_size does double duty as the upload batch size AND the
	// rate limiter's requests-per-60s ceiling (spec §4.7, §9 open
	// question). Retained as-is per spec's instruction to flag, not fix.
	if c.API.BatchSize < 10 || c.API.BatchSize > 1000 {
		return fmt.Errorf("config: api.batch_size must be in [10,1000], got %v", c.API.BatchSize)
	}
	if c.Validation.MinLapTimeS >= c.Validation.MaxLapTimeS {
		return fmt.Errorf("config: validation.min_lap_time_s must be < max_lap_time_s")
	}
	if c.Source.PlayerIndex < 0 || c.Source.PlayerIndex > 127 {
		return fmt.Errorf("config: source.player_index must be in [0,127], got %v", c.Source.PlayerIndex)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return fmt.Errorf("config: logging.level %q not recognised", c.Logging.Level)
	}
	return nil
}
