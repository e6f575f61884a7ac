package population

import (
	"maps"
	"time"
)

// ReasoningMode determines how an agent approaches its work.
type ReasoningMode int

const (
	ModeAnalytic     ReasoningMode = iota // default for new agents
	ModeConservative                      // energy is critically low
	ModeAdaptive                          // set after a task failure
)

func (m ReasoningMode) String() string {
	switch m {
	case ModeAnalytic:
		return "analytic"
	case ModeConservative:
		return "conservative"
	case ModeAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// Result is the record produced by processing a task.
// Keys are free-form; synthesis merges child records key by key.
type Result map[string]any

// merge copies every key of other into r, overwriting on collision.
func (r Result) merge(other Result) {
	maps.Copy(r, other)
}

// Insight records one task-processing failure.
type Insight struct {
	Seq             uint64    `json:"seq"`
	AgentID         string    `json:"agent_id"`
	ErrorType       string    `json:"error_type"`
	Message         string    `json:"message"`
	Task            string    `json:"task"`
	Context         []string  `json:"context"`
	EnergyAtFailure float64   `json:"energy_at_failure"`
	Timestamp       time.Time `json:"ts"`
}

// Capabilities describes what an agent can currently do.
type Capabilities struct {
	ContextDepth    int
	ProcessingPower float64
	SubagentCount   int
}

// Limitations flags conditions that should trigger strategic evolution.
type Limitations struct {
	ContextOverload bool
	EnergyCritical  bool
	ReasoningLoops  bool
}

// SelfAssessment is the read-only result of an agent reasoning about itself.
type SelfAssessment struct {
	Capabilities     Capabilities
	Limitations      Limitations
	EnergyEfficiency float64
}

// Record flattens the assessment into a task result.
func (sa SelfAssessment) Record() Result {
	return Result{
		"capabilities": map[string]any{
			"context_depth":    sa.Capabilities.ContextDepth,
			"processing_power": sa.Capabilities.ProcessingPower,
			"subagent_count":   sa.Capabilities.SubagentCount,
		},
		"limitations": map[string]any{
			"context_overload": sa.Limitations.ContextOverload,
			"energy_critical":  sa.Limitations.EnergyCritical,
			"reasoning_loops":  sa.Limitations.ReasoningLoops,
		},
		"energy_efficiency": sa.EnergyEfficiency,
	}
}

// Health is a point-in-time snapshot of the whole population.
type Health struct {
	TotalAgents     int           `json:"total_agents"`
	TotalEnergy     float64       `json:"total_energy"`
	Pool            float64       `json:"energy_pool"`
	TasksProcessed  uint64        `json:"tasks_processed"`
	AgentsCreated   uint64        `json:"agents_created"`
	Uptime          time.Duration `json:"uptime"`
	InsightsCount   int           `json:"insights_count"`
	AxiomCompliance bool          `json:"axiom_compliance"`
}

// AgentInfo is a read-only view of a single agent, used by status surfaces.
type AgentInfo struct {
	ID         string   `json:"id"`
	Energy     float64  `json:"energy"`
	Mode       string   `json:"mode"`
	Context    []string `json:"context"`
	Subagents  int      `json:"subagents"`
	Pending    int      `json:"pending_tasks"`
	Active     bool     `json:"active"`
	Violations []string `json:"violations,omitempty"`
}
