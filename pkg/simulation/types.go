package simulation

import (
	"time"
)

// SimulationResult captures the final state of the simulation for reporting
type SimulationResult struct {
	ScenarioName     string                 `json:"scenario_name"`
	Duration         time.Duration          `json:"duration"`
	TotalRequests    uint64                 `json:"total_requests"`
	TotalCreated     uint64                 `json:"total_created"`
	TotalNavigated   uint64                 `json:"total_navigated"`
	TotalApplied     uint64                 `json:"total_applied"`
	TotalAcked       uint64                 `json:"total_acked"`
	TotalErrors      uint64                 `json:"total_errors"`
	PendingRemaining uint64                 `json:"pending_remaining"`
	AgentStats       map[string]*AgentStats `json:"agent_stats"`
	Invariants       []InvariantResult      `json:"invariants"`
	Success          bool                   `json:"success"`
}

type AgentStats struct {
	Requests  uint64 `json:"requests"`
	Created   uint64 `json:"created"`
	Navigated uint64 `json:"navigated"`
	Applied   uint64 `json:"applied"`
	Acked     uint64 `json:"acked"`
	Errors    uint64 `json:"errors"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "<= 0.05"
	Actual   string `json:"actual"`   // e.g. "0.0123"
	Passed   bool   `json:"passed"`
}

type Scenario struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Seed        int64         `json:"seed" yaml:"seed"` // Deterministic seed
	Files       []string      `json:"files" yaml:"files"`
	Agents      []AgentConfig `json:"agents" yaml:"agents"`
	Invariants  []Invariant   `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

// Invariant is a post-run assertion over the collected stats. Metrics:
// "nodes_created", "navigations", "acked", "error_rate",
// "pending_remaining". A drained queue is "pending_remaining == 0"; a
// minimum amount of authored history is "nodes_created >= N"; an error
// budget is "error_rate <= X".
type Invariant struct {
	Metric    string  `json:"metric" yaml:"metric"`
	Condition string  `json:"condition" yaml:"condition"` // e.g., ">", "<", ">=", "<=", "=="
	Value     float64 `json:"value" yaml:"value"`
	Scope     string  `json:"scope" yaml:"scope"` // "global" or specific agent name
}

type AgentConfig struct {
	Name     string        `json:"name" yaml:"name"`
	Count    int           `json:"count" yaml:"count"`
	Role     Role          `json:"role" yaml:"role"`
	FileID   string        `json:"file_id" yaml:"file_id"` // default: spread over scenario files
	Behavior BehaviorType  `json:"behavior" yaml:"behavior"`
	Rate     int           `json:"rate" yaml:"rate"` // Actions per second
	Burst    int           `json:"burst" yaml:"burst"`
	Jitter   time.Duration `json:"jitter" yaml:"jitter"`
}

// Role selects what an agent does on each action.
type Role string

const (
	// RoleAuthor records new edits, branching from wherever its last
	// create landed.
	RoleAuthor Role = "author"
	// RoleNavigator jumps the current pointer to random nodes, churning
	// the pending queue with apply/revert instructions.
	RoleNavigator Role = "navigator"
	// RoleEditor polls the pending queue and acknowledges what it read,
	// like a conforming editor plugin.
	RoleEditor Role = "editor"
)

type BehaviorType string

const (
	BehaviorPeriodic BehaviorType = "periodic"
	BehaviorGreedy   BehaviorType = "greedy"
	BehaviorPoisson  BehaviorType = "poisson"
	BehaviorBursty   BehaviorType = "bursty"
)
