// Package health provides gateway health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// AnchorHealth contains health details for one anchor service.
type AnchorHealth struct {
	Anchor       string         `json:"anchor"`
	Status       SystemStatus   `json:"status"`
	Available    bool           `json:"available"`
	FailureCount int            `json:"failure_count"`
	LastFailure  *time.Time     `json:"last_failure,omitempty"`
	LastProbe    *time.Time     `json:"last_probe,omitempty"`
	ProbeLatency time.Duration  `json:"probe_latency_ns"`
	ProbeError   string         `json:"probe_error,omitempty"`
	Calls        map[string]int `json:"calls,omitempty"`
	ErrorRate    float64        `json:"error_rate"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Anchors      map[string]AnchorHealth `json:"anchors"`
	Dependencies map[string]string       `json:"dependencies,omitempty"`
}
