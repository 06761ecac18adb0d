package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so interval values can be written as
// human-readable strings ("30s", "1m") in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string or a bare number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration structure for aolcore.
type Config struct {
	// HealthCheckInterval is the period between health sweeps.
	HealthCheckInterval Duration `yaml:"healthCheckInterval,omitempty"`

	// ProbeTimeout bounds a single health probe.
	ProbeTimeout Duration `yaml:"probeTimeout,omitempty"`

	// HeartbeatTTL is how long an instance may go without a heartbeat
	// before it is expired from the registry.
	HeartbeatTTL Duration `yaml:"heartbeatTTL,omitempty"`

	// EventStoreCapacity is the size of the bounded event ring.
	EventStoreCapacity int `yaml:"eventStoreCapacity,omitempty"`

	// RouterWorkers is the number of router worker goroutines.
	RouterWorkers int `yaml:"routerWorkers,omitempty"`

	// RouterQueueCapacity bounds the pending route request queue.
	RouterQueueCapacity int `yaml:"routerQueueCapacity,omitempty"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
	Retry          RetryConfig          `yaml:"retry,omitempty"`
	LazyDetection  LazyDetectionConfig  `yaml:"lazyDetection,omitempty"`
	Discovery      DiscoveryConfig      `yaml:"discovery,omitempty"`
	Ports          PortsConfig          `yaml:"ports,omitempty"`
}

// CircuitBreakerConfig tunes the per-instance circuit breakers in the router.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `yaml:"failureThreshold,omitempty"`

	// SuccessThreshold is the consecutive-success count that closes a
	// half-open circuit.
	SuccessThreshold int `yaml:"successThreshold,omitempty"`

	// Timeout is how long an open circuit waits before admitting a trial
	// request.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// RetryConfig tunes router retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// means a single attempt per request.
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// InitialDelay is the backoff before the first retry.
	InitialDelay Duration `yaml:"initialDelay,omitempty"`

	// Multiplier grows the backoff between consecutive retries.
	Multiplier float64 `yaml:"multiplier,omitempty"`
}

// LazyDetectionConfig tunes the credit engine's rolling analysis and the
// deliberation restart arbitration.
type LazyDetectionConfig struct {
	// WindowSize is the number of recent influence scores kept per agent.
	WindowSize int `yaml:"windowSize,omitempty"`

	// LazyThreshold is the relative-contribution floor below which an agent
	// is classified lazy. Its reciprocal is the dominance ceiling.
	LazyThreshold float64 `yaml:"lazyThreshold,omitempty"`

	// DominanceThreshold is the cumulative-influence share above which a
	// single agent forces a workflow restart.
	DominanceThreshold float64 `yaml:"dominanceThreshold,omitempty"`

	// RestartCooldown is the minimum gap between restarts of one workflow.
	RestartCooldown Duration `yaml:"restartCooldown,omitempty"`

	// MaxRestartsPerHour rate-limits restarts per workflow.
	MaxRestartsPerHour int `yaml:"maxRestartsPerHour,omitempty"`
}

// DiscoveryConfig points at the external discovery provider.
type DiscoveryConfig struct {
	// Enabled controls whether registrations are mirrored to the provider.
	Enabled bool `yaml:"enabled,omitempty"`

	// Address is the provider's HTTP address (host:port).
	Address string `yaml:"address,omitempty"`

	// Datacenter scopes provider queries when set.
	Datacenter string `yaml:"datacenter,omitempty"`

	// WatchWait is the maximum blocking time for a single watch poll.
	WatchWait Duration `yaml:"watchWait,omitempty"`
}

// PortsConfig carries the default port policy for registered services.
// The original deployment mixed several defaults across manifests; these
// values are configuration only and carry no semantics.
type PortsConfig struct {
	GRPC    int `yaml:"grpc,omitempty"`
	Health  int `yaml:"health,omitempty"`
	Metrics int `yaml:"metrics,omitempty"`
}

// Validate checks the configuration for values the control plane cannot
// operate with.
func (c *Config) Validate() error {
	if c.EventStoreCapacity <= 0 {
		return fmt.Errorf("eventStoreCapacity must be positive, got %d", c.EventStoreCapacity)
	}
	if c.RouterWorkers <= 0 {
		return fmt.Errorf("routerWorkers must be positive, got %d", c.RouterWorkers)
	}
	if c.RouterQueueCapacity <= 0 {
		return fmt.Errorf("routerQueueCapacity must be positive, got %d", c.RouterQueueCapacity)
	}
	if c.HealthCheckInterval.Std() <= 0 {
		return fmt.Errorf("healthCheckInterval must be positive")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuitBreaker.failureThreshold must be positive, got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuitBreaker.successThreshold must be positive, got %d", c.CircuitBreaker.SuccessThreshold)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Multiplier < 1.0 {
		return fmt.Errorf("retry.multiplier must be >= 1.0, got %v", c.Retry.Multiplier)
	}
	if c.LazyDetection.WindowSize <= 0 {
		return fmt.Errorf("lazyDetection.windowSize must be positive, got %d", c.LazyDetection.WindowSize)
	}
	if c.LazyDetection.LazyThreshold <= 0 || c.LazyDetection.LazyThreshold >= 1 {
		return fmt.Errorf("lazyDetection.lazyThreshold must be in (0, 1), got %v", c.LazyDetection.LazyThreshold)
	}
	if c.LazyDetection.DominanceThreshold <= 0 || c.LazyDetection.DominanceThreshold > 1 {
		return fmt.Errorf("lazyDetection.dominanceThreshold must be in (0, 1], got %v", c.LazyDetection.DominanceThreshold)
	}
	if c.Discovery.Enabled && c.Discovery.Address == "" {
		return fmt.Errorf("discovery.address is required when discovery is enabled")
	}
	return nil
}
