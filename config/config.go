// Package config's loader merges defaults, an optional YAML file, and
// environment variables, in that precedence order.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fleet's complete configuration, one struct per component.
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher" env:"DISPATCHER"`
	Bus        BusConfig        `yaml:"bus" env:"BUS"`
	Transport  TransportConfig  `yaml:"transport" env:"TRANSPORT"`
	Pattern    PatternConfig    `yaml:"pattern" env:"PATTERN"`
	Curator    CuratorConfig    `yaml:"curator" env:"CURATOR"`
	Learning   LearningConfig   `yaml:"learning" env:"LEARNING"`
	Memory     MemoryConfig     `yaml:"memory" env:"MEMORY"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
}

// DispatcherConfig configures the task dispatcher (spec §6).
type DispatcherConfig struct {
	MaxParallelTasks int           `yaml:"max_parallel_tasks" env:"MAX_PARALLEL_TASKS"`
	RetryAttempts    int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base_ms" env:"RETRY_BACKOFF_BASE_MS"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max_ms" env:"RETRY_BACKOFF_MAX_MS"`
	TaskTimeout      time.Duration `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

// BusConfig configures the event bus (spec §6).
type BusConfig struct {
	SubscriberHighWater int `yaml:"subscriber_high_water" env:"SUBSCRIBER_HIGH_WATER"`
}

// TransportConfig configures the channel transport (spec §6).
type TransportConfig struct {
	Host                 string        `yaml:"host" env:"HOST"`
	Port                 int           `yaml:"port" env:"PORT"`
	EnableStreamFallback bool          `yaml:"enable_stream_fallback" env:"ENABLE_STREAM_FALLBACK"`
	DatagramDialTimeout  time.Duration `yaml:"datagram_dial_timeout_ms" env:"DATAGRAM_DIAL_TIMEOUT_MS"`
	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval_ms" env:"KEEP_ALIVE_INTERVAL_MS"`
	MaxRetries           int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// PatternConfig configures the pattern store (spec §6).
type PatternConfig struct {
	MaxPatterns            int     `yaml:"max_patterns" env:"MAX_PATTERNS"`
	LearningRate           float64 `yaml:"learning_rate" env:"LEARNING_RATE"`
	MinConfidenceThreshold float64 `yaml:"min_confidence_threshold" env:"MIN_CONFIDENCE_THRESHOLD"`
	RedisAddr              string  `yaml:"redis_addr" env:"REDIS_ADDR"` // empty disables the hot-ordering mirror
}

// CuratorConfig configures the curator (spec §6).
type CuratorConfig struct {
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" env:"LOW_CONFIDENCE_THRESHOLD"`
	AutoApproveThreshold   float64 `yaml:"auto_approve_threshold" env:"AUTO_APPROVE_THRESHOLD"`
	AutoRejectThreshold    float64 `yaml:"auto_reject_threshold" env:"AUTO_REJECT_THRESHOLD"`
}

// LearningConfig configures the learning loop (spec §6).
type LearningConfig struct {
	Interval         time.Duration `yaml:"interval_ms" env:"INTERVAL_MS"`
	AutoApplyEnabled bool          `yaml:"auto_apply_enabled" env:"AUTO_APPLY_ENABLED"`
}

// MemoryConfig configures the memory store's persistence and cache backends.
type MemoryConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND"` // "inmemory" or "sql"
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	RedisAddr  string `yaml:"redis_addr" env:"REDIS_ADDR"` // empty disables the shared-cache mirror
	MaxEntries int    `yaml:"max_entries" env:"MAX_ENTRIES"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level        string   `yaml:"level" env:"LEVEL"`
	Format       string   `yaml:"format" env:"FORMAT"`
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// Loader is a builder that merges default -> YAML file -> environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the fleet's default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AQEFLEET",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an additional validation hook.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds a Config from defaults, the YAML file (if any), and the
// environment, then runs validation.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the merged configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Dispatcher.MaxParallelTasks <= 0 {
		errs = append(errs, "dispatcher.max_parallel_tasks must be positive")
	}
	if c.Dispatcher.RetryAttempts < 0 {
		errs = append(errs, "dispatcher.retry_attempts must not be negative")
	}
	if c.Pattern.LearningRate <= 0 || c.Pattern.LearningRate > 1 {
		errs = append(errs, "pattern.learning_rate must be in (0,1]")
	}
	if c.Pattern.MaxPatterns <= 0 {
		errs = append(errs, "pattern.max_patterns must be positive")
	}
	if c.Curator.AutoRejectThreshold > c.Curator.LowConfidenceThreshold {
		errs = append(errs, "curator.auto_reject_threshold must not exceed low_confidence_threshold")
	}
	if c.Curator.AutoApproveThreshold <= c.Curator.LowConfidenceThreshold {
		errs = append(errs, "curator.auto_approve_threshold must exceed low_confidence_threshold")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
