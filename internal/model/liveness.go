package model

import "time"

// EvictionReason explains why the inactivity sweep removed a session.
type EvictionReason string

const (
	EvictionPingTimeout EvictionReason = "ping_timeout"
	EvictionInactivity  EvictionReason = "inactivity"
)

// Eviction records a session removed by the sweep.
type Eviction struct {
	SessionID string         `json:"session_id"`
	Username  string         `json:"username"`
	Reason    EvictionReason `json:"reason"`
}

// SchedulerStatus reports the state of the liveness loops.
type SchedulerStatus struct {
	Running           bool      `json:"running"`
	PingTaskActive    bool      `json:"ping_task_active"`
	CleanupTaskActive bool      `json:"cleanup_task_active"`
	PingInterval      float64   `json:"ping_interval"`
	PingTimeout       float64   `json:"ping_timeout"`
	SweepInterval     float64   `json:"sweep_interval"`
	Timestamp         time.Time `json:"timestamp"`
}
