package population

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davehusk/millennium-qecc/internal/axiom"
	"github.com/davehusk/millennium-qecc/internal/ipc"
	"github.com/davehusk/millennium-qecc/internal/klog"
)

// Energy thresholds that shape agent behaviour.
const (
	SpawnThreshold      = 40.0 // energy must exceed this to create a subagent
	CriticalEnergy      = 20.0
	ConservativeEnergy  = 10.0
	ConsolidateBelow    = 5.0 // energy efficiency that triggers consolidation
	ContextOverloadSize = 10
	FailureBonus        = 10.0
)

// Agent is an independently scheduled unit holding energy, working context
// and a FIFO task stack. It may spawn children that it owns.
//
// mu serializes every mutation of the agent's own state. When both a parent
// and a child must be locked, the parent is always locked first.
type Agent struct {
	ID string

	sys *System // non-owning; counters, insight log and events only

	mu        sync.Mutex
	energy    float64
	context   []string
	memory    map[string][]byte
	subagents []*Agent
	taskStack []string
	mode      ReasoningMode
	insights  []Insight
	last      Result // most recent task result, read by the parent's synthesis

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newAgent(sys *System, parentCtx context.Context, energy float64, initialContext []string) *Agent {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Agent{
		ID:      uuid.NewString(),
		sys:     sys,
		energy:  energy,
		context: initialContext,
		memory:  make(map[string][]byte),
		mode:    ModeAnalytic,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// start launches the agent's execution loop.
func (a *Agent) start() {
	go a.run()
}

// run is the agent's own scheduling point: pop the oldest task, process it,
// count it, idle, repeat until cancelled.
func (a *Agent) run() {
	defer close(a.done)

	idle := a.sys.cfg.IdleInterval
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		if a.ctx.Err() != nil {
			return
		}
		if task, ok := a.popTask(); ok {
			a.ProcessTask(a.ctx, task)
			a.sys.recordTaskProcessed()
		}

		timer.Reset(idle)
		select {
		case <-a.ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// stop clears the active flag. The loop exits at its next check.
func (a *Agent) stop() {
	a.cancel()
}

// wait blocks until the loop has exited or timeout elapses.
func (a *Agent) wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-a.done:
		return true
	case <-t.C:
		return false
	}
}

// Active reports whether the agent has not been cancelled.
func (a *Agent) Active() bool {
	return a.ctx.Err() == nil
}

// Done is closed once the agent's loop has exited.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Enqueue appends a task to the agent's FIFO task stack.
func (a *Agent) Enqueue(task string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taskStack = append(a.taskStack, task)
}

func (a *Agent) popTask() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.taskStack) == 0 {
		return "", false
	}
	task := a.taskStack[0]
	a.taskStack = a.taskStack[1:]
	return task, true
}

// Pending returns the number of queued tasks.
func (a *Agent) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.taskStack)
}

// Energy returns the agent's current energy.
func (a *Agent) Energy() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.energy
}

// Mode returns the current reasoning mode.
func (a *Agent) Mode() ReasoningMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Context returns a copy of the working context.
func (a *Agent) Context() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.context...)
}

// Subagents returns a copy of the owned children list.
func (a *Agent) Subagents() []*Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Agent(nil), a.subagents...)
}

// Insights returns a copy of the agent-local failure log.
func (a *Agent) Insights() []Insight {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Insight(nil), a.insights...)
}

// LastResult returns the result of the most recently processed task.
func (a *Agent) LastResult() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Remember stores an owned copy of value under key.
func (a *Agent) Remember(key string, value []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory[key] = bytes.Clone(value)
}

// Recall returns a copy of the value stored under key.
func (a *Agent) Recall(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.memory[key]
	return bytes.Clone(v), ok
}

// Info returns a read-only view of the agent.
func (a *Agent) Info() AgentInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AgentInfo{
		ID:        a.ID,
		Energy:    a.energy,
		Mode:      a.mode.String(),
		Context:   append([]string(nil), a.context...),
		Subagents: len(a.subagents),
		Pending:   len(a.taskStack),
		Active:    a.ctx.Err() == nil,
	}
}

// state returns the axiom view of the agent.
func (a *Agent) state() axiom.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Agent) stateLocked() axiom.State {
	return axiom.State{
		Energy:        a.energy,
		ContextLen:    len(a.context),
		SubagentCount: len(a.subagents),
	}
}

// CreateSubagent spawns a child that inherits a copy of this agent's
// knowledge and half of its current energy. It reports false, creating
// nothing, when energy does not exceed SpawnThreshold.
func (a *Agent) CreateSubagent(purpose string) (*Agent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createSubagentLocked(purpose)
}

func (a *Agent) createSubagentLocked(purpose string) (*Agent, bool) {
	if a.energy <= SpawnThreshold {
		return nil, false
	}
	if purpose == "" {
		purpose = fmt.Sprintf("subagent_%d", len(a.subagents))
	}

	child := newAgent(a.sys, a.ctx, 0, a.deriveSubcontext(purpose))
	for k, v := range a.memory {
		child.memory[k] = bytes.Clone(v)
	}
	child.mode = a.mode

	share := a.energy * 0.5
	child.energy = share
	a.energy -= share

	child.taskStack = append(child.taskStack, purpose)
	a.subagents = append(a.subagents, child)
	child.start()

	a.sys.recordAgentCreated()
	a.sys.publish(ipc.TopicSubagentSpawned, child.ID, []byte(a.ID))
	klog.For("agent").Debug("subagent created",
		"parent", a.ID, "child", child.ID, "purpose", purpose, "energy", share)
	return child, true
}

// deriveSubcontext builds a child's initial context: a marker for its
// purpose followed by the first two entries of the parent's context.
func (a *Agent) deriveSubcontext(purpose string) []string {
	n := min(2, len(a.context))
	ctx := make([]string, 0, n+1)
	ctx = append(ctx, subMarker(purpose))
	return append(ctx, a.context[:n]...)
}

// softTerminate cancels the agent and its whole subtree, zeroing their
// energy. Agents stay in their parent's subagents list as inert objects.
func (a *Agent) softTerminate() {
	a.stop()

	a.mu.Lock()
	a.energy = 0
	children := append([]*Agent(nil), a.subagents...)
	a.mu.Unlock()

	for _, c := range children {
		c.softTerminate()
	}
}
