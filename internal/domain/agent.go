package domain

import (
	"errors"
	"time"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentNameConflict  = errors.New("agent with this name already exists")
	ErrAgentHasReferences = errors.New("agent is referenced by one or more tasks")
	ErrAgentNoScopes      = errors.New("agent must have at least one scope")
)

// Agent is a principal that owns tasks (spec.md §3).
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"createdAt"`
}
