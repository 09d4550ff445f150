package service

// HealthState is the overall service verdict.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// ComponentStatus reports one dependency's connectivity.
type ComponentStatus string

const (
	ComponentConnected    ComponentStatus = "connected"
	ComponentDisconnected ComponentStatus = "disconnected"
)

// DispatcherStatus reports whether the dispatch loop is live.
type DispatcherStatus string

const (
	DispatcherRunning DispatcherStatus = "running"
	DispatcherStopped DispatcherStatus = "stopped"
)

// BreakerState mirrors the circuit breaker's state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half-open"
	BreakerOpen     BreakerState = "open"
)

type HealthStatus struct {
	Status               HealthState      `json:"status"`
	DispatcherStatus     DispatcherStatus `json:"dispatcher_status"`
	DatabaseStatus       ComponentStatus  `json:"database_status"`
	StoreStatus          ComponentStatus  `json:"store_status"`
	ActiveSessions       int              `json:"active_sessions"`
	ReadySessions        int              `json:"ready_sessions"`
	CircuitBreakerStatus string           `json:"circuit_breaker_status,omitempty"`
	CircuitBreakerState  BreakerState     `json:"circuit_breaker_state,omitempty"`
}
