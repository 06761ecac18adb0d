package router

import (
	"errors"
	"time"
)

// Strategy selects how the router picks an instance for a request's target
// service.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyHealthAware      Strategy = "health_aware"
	StrategyLatencyBased     Strategy = "latency_based"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyConditional      Strategy = "conditional"
)

var (
	// ErrQueueFull is returned when the router queue is at capacity.
	ErrQueueFull = errors.New("router queue full")

	// ErrNoInstances is returned when the target service has no instances.
	ErrNoInstances = errors.New("no instances for target service")

	// ErrCircuitOpen is returned when every candidate instance's circuit
	// breaker rejects the request.
	ErrCircuitOpen = errors.New("all instance circuits open")
)

// Request is one routed call. The zero values of RequestID, Deadline,
// MaxRetries and Strategy are filled in on submission.
type Request struct {
	RequestID   string            `json:"request_id"`
	Source      string            `json:"source"`
	Target      string            `json:"target"`
	Method      string            `json:"method"`
	Payload     []byte            `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Deadline    time.Time         `json:"deadline"`
	MaxRetries  int               `json:"max_retries"`
	RetriesUsed int               `json:"retries_used"`
	Strategy    Strategy          `json:"strategy"`
}

// Response is the outcome of a routed call.
type Response struct {
	RequestID      string  `json:"request_id"`
	Success        bool    `json:"success"`
	Payload        []byte  `json:"payload,omitempty"`
	Error          string  `json:"error,omitempty"`
	LatencyMS      float64 `json:"latency_ms"`
	TargetInstance string  `json:"target_instance,omitempty"`
	Retries        int     `json:"retries"`
}

// Stats summarizes router activity for the query surface.
type Stats struct {
	PendingRequests  int `json:"pending_requests"`
	QueueCapacity    int `json:"queue_capacity"`
	Workers          int `json:"workers"`
	ChannelPoolSize  int `json:"channel_pool_size"`
	TrackedInstances int `json:"tracked_instances"`
}
