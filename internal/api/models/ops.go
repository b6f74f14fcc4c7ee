package models

// Health is the liveness or readiness answer.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus is the operator view of the service.
type SystemStatus struct {
	Status                 HealthStatus           `json:"status"`
	Time                   Timestamp              `json:"time"`
	Subsystems             []SubsystemStatus      `json:"subsystems"`
	Providers              []ProviderStatus       `json:"providers"`
	Pools                  []WorkerPoolStatus     `json:"pools"`
	Queue                  *QueueStatus           `json:"queue,omitempty"`
	Monitor                map[string]interface{} `json:"monitor,omitempty"`
	ActiveDegradationFlags []string               `json:"activeDegradationFlags,omitempty"`
}

// SubsystemStatus is the health of one dependency.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus is the outbound health of one monitored provider: its
// circuit breaker and last probe outcomes.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState,omitempty"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// WorkerPoolStatus is one scaling pool.
type WorkerPoolStatus struct {
	Name              string     `json:"name"`
	MinWorkers        int        `json:"minWorkers"`
	MaxWorkers        int        `json:"maxWorkers"`
	TotalWorkers      int        `json:"totalWorkers"`
	HealthyWorkers    int        `json:"healthyWorkers"`
	QueueLength       int        `json:"queueLength"`
	Throughput        float64    `json:"throughput"`
	ErrorRate         float64    `json:"errorRate"`
	AvgResponseTimeMs int64      `json:"avgResponseTimeMs"`
	LastScalingAction string     `json:"lastScalingAction,omitempty"`
	LastScalingAt     *Timestamp `json:"lastScalingAt,omitempty"`
}

// QueueStatus counts notifications by state.
type QueueStatus struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
