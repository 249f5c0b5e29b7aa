// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 2:31:55 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	LogSource   LogSourceConfig `toml:"log_source"`
	Stream      StreamConfig    `toml:"stream"`
	Reconnect   ReconnectConfig `toml:"reconnect"`
	Slots       SlotsConfig     `toml:"slots"`
	Schedules   []ScheduleEntry `toml:"schedules"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

// QueueConfig configures the external job queue client and job polling.
type QueueConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	PollInterval   string `toml:"poll_interval"`   // e.g. "2s" - job status poll cadence
	ElapsedTick    string `toml:"elapsed_tick"`    // e.g. "1s" - elapsed clock cadence
	DepthInterval  string `toml:"depth_interval"`  // e.g. "5s" - queue depth broadcast cadence
	RequestTimeout string `toml:"request_timeout"` // e.g. "30s"
}

// LogSourceConfig configures the external log source client and relay cadence.
type LogSourceConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	PollInterval   string `toml:"poll_interval"` // e.g. "3s" - chosen to stay under the source request budget
	LiveWindow     string `toml:"live_window"`   // e.g. "3m" - recent window polled in live mode
	BatchLimit     int    `toml:"batch_limit" validate:"gte=1"`
	RateLimit      int    `toml:"rate_limit" validate:"gte=1"` // requests per second ceiling
	RequestTimeout string `toml:"request_timeout"`
}

// StreamConfig bounds the client-side event buffers.
type StreamConfig struct {
	RingSize  int `toml:"ring_size" validate:"gte=1"`  // live ring buffer capacity
	SeedSize  int `toml:"seed_size" validate:"gte=0"`  // events carried over when switching back into live mode
	DedupMax  int `toml:"dedup_max" validate:"gte=1"`  // seen-ID set overflow threshold
	DedupTrim int `toml:"dedup_trim" validate:"gte=1"` // retained IDs after trim
}

// ReconnectConfig bounds the subscriber-side backoff policy.
type ReconnectConfig struct {
	BaseDelay string `toml:"base_delay"` // e.g. "1s"
	MaxDelay  string `toml:"max_delay"`  // e.g. "30s"
}

// SlotsConfig declares slot groups sharing one mutual-exclusion token.
// Slots not listed in any group are independently schedulable.
type SlotsConfig struct {
	Groups []SlotGroup `toml:"groups"`
}

type SlotGroup struct {
	Name    string   `toml:"name" validate:"required"`
	Members []string `toml:"members" validate:"min=1"`
}

// ScheduleEntry starts a named job in a slot on a cron schedule.
// A busy slot skips the run rather than queueing it.
type ScheduleEntry struct {
	Cron    string                 `toml:"cron" validate:"required"`
	JobName string                 `toml:"job_name" validate:"required"`
	SlotKey string                 `toml:"slot_key" validate:"required"`
	Params  map[string]interface{} `toml:"params"`
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as events to UI
}

type WebSocketConfig struct {
	AllowedEvents []string `toml:"allowed_events"` // Whitelist of events to broadcast (empty = allow all)
	PingInterval  string   `toml:"ping_interval"`  // e.g. "30s"
}

// NewDefaultConfig returns the baseline configuration before any file,
// env or flag overrides are applied.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			BaseURL:        "http://localhost:8090",
			PollInterval:   "2s",
			ElapsedTick:    "1s",
			DepthInterval:  "5s",
			RequestTimeout: "30s",
		},
		LogSource: LogSourceConfig{
			BaseURL:        "http://localhost:8091",
			PollInterval:   "3s",
			LiveWindow:     "3m",
			BatchLimit:     200,
			RateLimit:      2,
			RequestTimeout: "30s",
		},
		Stream: StreamConfig{
			RingSize:  500,
			SeedSize:  100,
			DedupMax:  1000,
			DedupTrim: 500,
		},
		Reconnect: ReconnectConfig{
			BaseDelay: "1s",
			MaxDelay:  "30s",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout"},
			TimeFormat:    "15:04:05.000",
			MinEventLevel: "info",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			PingInterval:  "30s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies SPECTO_* environment variables on top of file config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SPECTO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("SPECTO_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SPECTO_QUEUE_URL"); v != "" {
		config.Queue.BaseURL = v
	}
	if v := os.Getenv("SPECTO_QUEUE_API_KEY"); v != "" {
		config.Queue.APIKey = v
	}
	if v := os.Getenv("SPECTO_LOG_SOURCE_URL"); v != "" {
		config.LogSource.BaseURL = v
	}
	if v := os.Getenv("SPECTO_LOG_SOURCE_API_KEY"); v != "" {
		config.LogSource.APIKey = v
	}
	if v := os.Getenv("SPECTO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct constraints and that every duration field parses.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":        c.Queue.PollInterval,
		"queue.elapsed_tick":         c.Queue.ElapsedTick,
		"queue.depth_interval":       c.Queue.DepthInterval,
		"queue.request_timeout":      c.Queue.RequestTimeout,
		"log_source.poll_interval":   c.LogSource.PollInterval,
		"log_source.live_window":     c.LogSource.LiveWindow,
		"log_source.request_timeout": c.LogSource.RequestTimeout,
		"reconnect.base_delay":       c.Reconnect.BaseDelay,
		"reconnect.max_delay":        c.Reconnect.MaxDelay,
		"websocket.ping_interval":    c.WebSocket.PingInterval,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config field %s: invalid duration %q: %w", name, value, err)
		}
	}

	if c.Stream.DedupTrim > c.Stream.DedupMax {
		return fmt.Errorf("config: stream.dedup_trim (%d) must not exceed stream.dedup_max (%d)", c.Stream.DedupTrim, c.Stream.DedupMax)
	}

	return nil
}

// Duration parses a duration config field, returning fallback when the
// field is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
