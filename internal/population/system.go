package population

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davehusk/millennium-qecc/internal/axiom"
	"github.com/davehusk/millennium-qecc/internal/ipc"
	"github.com/davehusk/millennium-qecc/internal/klog"
)

// ErrAgentNotFound is returned when an id is not in the registry.
var ErrAgentNotFound = errors.New("agent not found")

// Config holds the registry's economy and lifecycle parameters.
type Config struct {
	InitialPool     float64       // starting energy pool
	DefaultEnergy   float64       // energy granted to each new top-level agent
	InsightCapacity int           // ring size of the system insight log
	IdleInterval    time.Duration // agent loop pause between queue checks
	JoinTimeout     time.Duration // bounded wait for an agent loop to exit
}

// DefaultConfig returns the standard population parameters.
func DefaultConfig() Config {
	return Config{
		InitialPool:     1000,
		DefaultEnergy:   100,
		InsightCapacity: 100,
		IdleInterval:    100 * time.Millisecond,
		JoinTimeout:     time.Second,
	}
}

// Metrics are the system-wide counters.
type Metrics struct {
	TasksProcessed uint64
	AgentsCreated  uint64
	StartedAt      time.Time
}

// System is the registry of top-level agents together with the global
// energy pool, the axiom set, the insight log and the counters.
//
// mu guards agents and pool. It may be held while locking an agent, never
// the reverse. Agents only touch the System through atomics, the insight
// log and the event bus.
type System struct {
	cfg Config

	mu     sync.Mutex
	agents map[string]*Agent
	pool   float64

	axioms   axiom.Set
	insights *InsightLog
	events   *ipc.EventBus

	tasksProcessed atomic.Uint64
	agentsCreated  atomic.Uint64
	startedAt      time.Time
}

// NewSystem creates an empty registry holding cfg.InitialPool energy.
func NewSystem(cfg Config) *System {
	def := DefaultConfig()
	if cfg.InsightCapacity <= 0 {
		cfg.InsightCapacity = def.InsightCapacity
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	return &System{
		cfg:       cfg,
		agents:    make(map[string]*Agent),
		pool:      cfg.InitialPool,
		axioms:    axiom.Default(),
		insights:  NewInsightLog(cfg.InsightCapacity),
		startedAt: time.Now(),
	}
}

// SetEventBus wires a bus that receives lifecycle events.
// Must be called before any agent is spawned.
func (s *System) SetEventBus(eb *ipc.EventBus) {
	s.events = eb
}

// SpawnTopLevelAgent creates, registers and starts a new agent with the
// default energy, optionally queueing initialTask. Returns its id.
func (s *System) SpawnTopLevelAgent(initialTask string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := newAgent(s, context.Background(), s.cfg.DefaultEnergy, nil)
	if initialTask != "" {
		a.taskStack = append(a.taskStack, initialTask)
	}
	s.agents[a.ID] = a
	a.start()
	s.agentsCreated.Add(1)

	s.publish(ipc.TopicAgentSpawned, a.ID, []byte(initialTask))
	klog.For("system").Info("agent spawned", "agent", a.ID, "task", initialTask)
	return a.ID
}

// TerminateAgent stops a registered agent, returns its residual energy to
// the pool and soft-terminates its whole subtree. Reports whether id was
// registered. A loop that outlives the join timeout is logged and left to
// exit on its own.
func (s *System) TerminateAgent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return false
	}

	a.stop()
	if !a.wait(s.cfg.JoinTimeout) {
		klog.For("system").Warn("agent loop did not stop in time", "agent", id, "timeout", s.cfg.JoinTimeout)
	}

	a.mu.Lock()
	residual := a.energy
	a.energy = 0
	children := append([]*Agent(nil), a.subagents...)
	a.mu.Unlock()

	s.pool += residual
	for _, c := range children {
		c.softTerminate()
	}
	delete(s.agents, id)

	s.publish(ipc.TopicAgentTerminated, id, nil)
	klog.For("system").Info("agent terminated",
		"agent", id, "returned", residual, "subagents", len(children), "pool", s.pool)
	return true
}

// DistributeEnergy empties the pool evenly across all registered agents.
// No-op when nothing is registered.
func (s *System) DistributeEnergy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.agents) == 0 {
		return
	}
	share := s.pool / float64(len(s.agents))
	for _, a := range s.agents {
		a.mu.Lock()
		a.energy += share
		a.mu.Unlock()
	}
	s.pool = 0
}

// HealthCheck returns a snapshot of the population. Axioms are evaluated
// after the registry lock is released.
func (s *System) HealthCheck() Health {
	s.mu.Lock()
	states := make([]axiom.State, 0, len(s.agents))
	total := s.pool
	pool := s.pool
	for _, a := range s.agents {
		st := a.state()
		total += st.Energy
		states = append(states, st)
	}
	s.mu.Unlock()

	compliant := true
	for _, st := range states {
		if !s.axioms.Holds(st) {
			compliant = false
			break
		}
	}

	return Health{
		TotalAgents:     len(states),
		TotalEnergy:     total,
		Pool:            pool,
		TasksProcessed:  s.tasksProcessed.Load(),
		AgentsCreated:   s.agentsCreated.Load(),
		Uptime:          time.Since(s.startedAt),
		InsightsCount:   s.insights.Len(),
		AxiomCompliance: compliant,
	}
}

// Compliant evaluates the axiom set against a and returns the violated
// axiom names.
func (s *System) Compliant(a *Agent) (bool, []string) {
	violated := s.axioms.Check(a.state())
	return len(violated) == 0, violated
}

// Get returns a registered agent.
func (s *System) Get(id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	return a, nil
}

// AgentIDs returns a snapshot of the registered ids. The snapshot may be
// stale by the time the caller iterates it.
func (s *System) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// AnyAgentID returns an arbitrary registered id.
func (s *System) AnyAgentID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.agents {
		return id, true
	}
	return "", false
}

// Count returns the number of registered agents.
func (s *System) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// Agents returns read-only views of every registered agent, with their
// axiom violations filled in.
func (s *System) Agents() []AgentInfo {
	s.mu.Lock()
	agents := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	s.mu.Unlock()

	out := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		info := a.Info()
		_, info.Violations = s.Compliant(a)
		out = append(out, info)
	}
	return out
}

// Pool returns the current energy pool.
func (s *System) Pool() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// Axioms returns the axiom set agents are judged by.
func (s *System) Axioms() axiom.Set {
	return s.axioms
}

// Insights returns the system insight log.
func (s *System) Insights() *InsightLog {
	return s.insights
}

// Metrics returns the current counters.
func (s *System) Metrics() Metrics {
	return Metrics{
		TasksProcessed: s.tasksProcessed.Load(),
		AgentsCreated:  s.agentsCreated.Load(),
		StartedAt:      s.startedAt,
	}
}

// RecordTaskProcessed increments the processed-task counter. Used by
// dispatch paths outside an agent's own loop.
func (s *System) RecordTaskProcessed() {
	s.recordTaskProcessed()
}

func (s *System) recordTaskProcessed() {
	s.tasksProcessed.Add(1)
}

func (s *System) recordAgentCreated() {
	s.agentsCreated.Add(1)
}

func (s *System) recordInsight(in Insight) Insight {
	return s.insights.Append(in)
}

func (s *System) publish(topic, source string, payload []byte) {
	if s.events != nil {
		s.events.Publish(topic, source, payload)
	}
}
