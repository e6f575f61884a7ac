package population

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davehusk/millennium-qecc/internal/ipc"
	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/tracing"
)

// Decomposition components.
const (
	ComponentStructural    = "structural"
	ComponentBehavioral    = "behavioral"
	ComponentTemporal      = "temporal"
	ComponentBaseCase      = "base_case"
	ComponentInductiveStep = "inductive_step"
)

const subMarkerPrefix = "sub("

var errEmptyTask = errors.New("empty task descriptor")

// panicError wraps a value recovered while processing a task.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func errorType(err error) string {
	var pe *panicError
	switch {
	case errors.Is(err, errEmptyTask):
		return "empty_task"
	case errors.As(err, &pe):
		return "panic"
	default:
		return "task_error"
	}
}

func subMarker(purpose string) string {
	return subMarkerPrefix + purpose + ")"
}

// NeedsDecomposition reports whether a task is complex enough to split:
// more than two underscore-separated segments, or mentioning "multi".
func NeedsDecomposition(task string) bool {
	return len(strings.Split(task, "_")) > 2 || strings.Contains(task, "multi")
}

// Decompose returns the named components of a task.
func Decompose(task string) []string {
	var components []string
	if strings.Contains(task, "multi-aspect") {
		components = append(components, ComponentStructural, ComponentBehavioral, ComponentTemporal)
	}
	if strings.Contains(task, "recursive") {
		components = append(components, ComponentBaseCase, ComponentInductiveStep)
	}
	return components
}

// HasLoops reports whether ctx contains a repeated entry.
func HasLoops(ctx []string) bool {
	seen := make(map[string]struct{}, len(ctx))
	for _, c := range ctx {
		if _, ok := seen[c]; ok {
			return true
		}
		seen[c] = struct{}{}
	}
	return false
}

// Dedup drops repeated entries. Callers must not rely on the order.
func Dedup(ctx []string) []string {
	seen := make(map[string]struct{}, len(ctx))
	out := make([]string, 0, len(ctx))
	for _, c := range ctx {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func pruneMarkers(ctx []string) []string {
	out := make([]string, 0, len(ctx))
	for _, c := range ctx {
		if !strings.HasPrefix(c, subMarkerPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// ProcessTask runs one task to completion. Failures never escape: they are
// turned into an insight, the agent switches to adaptive reasoning and is
// granted FailureBonus energy.
//
// The agent lock is held for the whole call, so the agent's own loop and
// kernel dispatch never interleave on the same agent.
func (a *Agent) ProcessTask(ctx context.Context, task string) (res Result) {
	ctx, span := tracing.Tracer().Start(ctx, "agent.process_task",
		trace.WithAttributes(tracing.KeyAgentID.String(a.ID), tracing.KeyTask.String(task)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res = a.learnFromFailureLocked(task, &panicError{value: r})
			span.SetStatus(codes.Error, "recovered panic")
		}
		a.last = res
		span.SetAttributes(tracing.KeyMode.String(a.mode.String()))
	}()

	res, err := a.processLocked(ctx, span, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return a.learnFromFailureLocked(task, err)
	}
	return res
}

func (a *Agent) processLocked(ctx context.Context, span trace.Span, task string) (Result, error) {
	if task == "" {
		return nil, errEmptyTask
	}

	if !NeedsDecomposition(task) {
		span.SetAttributes(tracing.KeyDecomposed.Bool(false))
		return a.executeCoreLocked(task), nil
	}

	span.SetAttributes(tracing.KeyDecomposed.Bool(true))
	components := Decompose(task)
	for _, comp := range components {
		child, ok := a.createSubagentLocked(comp)
		if !ok {
			klog.For("agent").Debug("insufficient energy to delegate",
				"agent", a.ID, "component", comp, "energy", a.energy)
			continue
		}
		span.AddEvent("subagent_created")
		child.ProcessTask(ctx, comp)
	}

	synthesis := a.synthesizeLocked()
	synthesis["components"] = components
	return synthesis, nil
}

// synthesizeLocked merges the latest result of every current subagent.
func (a *Agent) synthesizeLocked() Result {
	synthesis := Result{}
	for _, child := range a.subagents {
		if r := child.LastResult(); r != nil {
			synthesis.merge(r)
		}
	}
	return synthesis
}

func (a *Agent) executeCoreLocked(task string) Result {
	switch {
	case strings.Contains(task, "analyze"):
		return a.assessLocked().Record()
	case strings.Contains(task, "optimize"):
		a.evolveLocked()
		return Result{"status": "optimized", "energy": a.energy}
	default:
		return Result{"status": "completed", "energy": a.energy}
	}
}

func (a *Agent) learnFromFailureLocked(task string, err error) Result {
	in := Insight{
		AgentID:         a.ID,
		ErrorType:       errorType(err),
		Message:         err.Error(),
		Task:            task,
		Context:         append([]string(nil), a.context...),
		EnergyAtFailure: a.energy,
	}
	in = a.sys.recordInsight(in)
	a.insights = append(a.insights, in)

	a.mode = ModeAdaptive
	a.energy += FailureBonus

	a.sys.publish(ipc.TopicTaskFailed, a.ID, []byte(err.Error()))
	klog.For("agent").Info("task failed, adapting",
		"agent", a.ID, "task", task, "error", err, "energy", a.energy)

	return Result{"status": "failed", "error": err.Error(), "energy": a.energy}
}

// ReasonAboutSelf assesses the agent's capabilities and limitations
// without changing any state.
func (a *Agent) ReasonAboutSelf() SelfAssessment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assessLocked()
}

func (a *Agent) assessLocked() SelfAssessment {
	return SelfAssessment{
		Capabilities: Capabilities{
			ContextDepth:    len(a.context),
			ProcessingPower: a.energy * 10,
			SubagentCount:   len(a.subagents),
		},
		Limitations: Limitations{
			ContextOverload: len(a.context) > ContextOverloadSize,
			EnergyCritical:  a.energy < CriticalEnergy,
			ReasoningLoops:  HasLoops(a.context),
		},
		EnergyEfficiency: a.energy / float64(len(a.subagents)+1),
	}
}

// StrategicEvolution adapts the agent to its own limitations: it prunes
// and deduplicates context and consolidates subagents when inefficient.
// Below ConservativeEnergy it only switches to conservative reasoning.
func (a *Agent) StrategicEvolution() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evolveLocked()
}

func (a *Agent) evolveLocked() {
	if a.energy < ConservativeEnergy {
		a.mode = ModeConservative
		return
	}

	sa := a.assessLocked()
	if sa.Limitations.ContextOverload {
		a.context = pruneMarkers(a.context)
	}
	if sa.Limitations.ReasoningLoops {
		a.context = Dedup(a.context)
	}
	if sa.EnergyEfficiency < ConsolidateBelow {
		a.consolidateLocked()
	}
}

// consolidateLocked reclaims every subagent's context and energy, then
// soft-terminates it. Children are not removed from any registry.
func (a *Agent) consolidateLocked() {
	for _, child := range a.subagents {
		child.mu.Lock()
		a.context = append(a.context, child.context...)
		a.energy += child.energy
		child.energy = 0
		child.mu.Unlock()
		child.stop()
	}
	if n := len(a.subagents); n > 0 {
		klog.For("agent").Debug("consolidated subagents", "agent", a.ID, "count", n, "energy", a.energy)
	}
	a.subagents = nil
}
