package config

import "time"

// Default port policy. The original deployment used differing defaults in
// different manifests (8080 vs 50201 for metrics, 50051 vs 50050 for gRPC);
// one set is fixed here as policy.
const (
	DefaultGRPCPort    = 50051
	DefaultHealthPort  = 50200
	DefaultMetricsPort = 8080
)

// GetDefaultConfig returns the default configuration for aolcore.
func GetDefaultConfig() Config {
	return Config{
		HealthCheckInterval: Duration(30 * time.Second),
		ProbeTimeout:        Duration(5 * time.Second),
		HeartbeatTTL:        Duration(2 * time.Minute),
		EventStoreCapacity:  1000,
		RouterWorkers:       4,
		RouterQueueCapacity: 10000,
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Timeout:          Duration(60 * time.Second),
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: Duration(1 * time.Second),
			Multiplier:   2.0,
		},
		LazyDetection: LazyDetectionConfig{
			WindowSize:         100,
			LazyThreshold:      0.10,
			DominanceThreshold: 0.70,
			RestartCooldown:    Duration(60 * time.Second),
			MaxRestartsPerHour: 5,
		},
		Discovery: DiscoveryConfig{
			Enabled:   false,
			Address:   "127.0.0.1:8500",
			WatchWait: Duration(5 * time.Minute),
		},
		Ports: PortsConfig{
			GRPC:    DefaultGRPCPort,
			Health:  DefaultHealthPort,
			Metrics: DefaultMetricsPort,
		},
	}
}
