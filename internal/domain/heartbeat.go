package domain

import "time"

// WorkerHeartbeat tracks liveness for one worker process (spec.md §3).
type WorkerHeartbeat struct {
	WorkerID       string    `json:"worker_id"`
	LastSeen       time.Time `json:"last_seen"`
	ProcessedCount int64     `json:"processed_count"`
	PID            int       `json:"pid"`
	Hostname       string    `json:"hostname"`
}

// AuditLog is an append-only record of a mutating operation (spec.md §3).
type AuditLog struct {
	At            time.Time `json:"at"`
	ActorAgentID  *string   `json:"actor_agent_id,omitempty"`
	Action        string    `json:"action"`
	SubjectID     *string   `json:"subject_id,omitempty"`
	Details       string    `json:"details,omitempty"`
}
