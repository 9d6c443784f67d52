// Default values for every component's configuration.
package config

import "time"

// DefaultConfig returns the fleet's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Dispatcher: DefaultDispatcherConfig(),
		Bus:        DefaultBusConfig(),
		Transport:  DefaultTransportConfig(),
		Pattern:    DefaultPatternConfig(),
		Curator:    DefaultCuratorConfig(),
		Learning:   DefaultLearningConfig(),
		Memory:     DefaultMemoryConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultDispatcherConfig returns sensible dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxParallelTasks: 8,
		RetryAttempts:    3,
		RetryBackoffBase: 200 * time.Millisecond,
		RetryBackoffMax:  30 * time.Second,
		TaskTimeout:      5 * time.Minute,
	}
}

// DefaultBusConfig returns sensible event bus defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		SubscriberHighWater: 1024,
	}
}

// DefaultTransportConfig returns sensible transport defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Host:                 "127.0.0.1",
		Port:                 7331,
		EnableStreamFallback: true,
		DatagramDialTimeout:  500 * time.Millisecond,
		KeepAliveInterval:    15 * time.Second,
		MaxRetries:           5,
	}
}

// DefaultPatternConfig returns sensible pattern-store defaults.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		MaxPatterns:            10000,
		LearningRate:           0.1,
		MinConfidenceThreshold: 0.5,
		RedisAddr:              "",
	}
}

// DefaultCuratorConfig returns sensible curator thresholds.
func DefaultCuratorConfig() CuratorConfig {
	return CuratorConfig{
		LowConfidenceThreshold: 0.4,
		AutoApproveThreshold:   0.8,
		AutoRejectThreshold:    0.15,
	}
}

// DefaultLearningConfig returns the default learning-loop cadence.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		Interval:         time.Hour,
		AutoApplyEnabled: false,
	}
}

// DefaultMemoryConfig returns sensible memory-store defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:    "inmemory",
		SQLitePath: "fleet.db",
		RedisAddr:  "",
		MaxEntries: 0, // unlimited
	}
}

// DefaultLogConfig returns sensible logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
