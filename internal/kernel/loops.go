package kernel

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/davehusk/millennium-qecc/internal/ipc"
	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/tracing"
)

const kernelSource = "kernel"

func loopSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, "kernel."+name,
		trace.WithAttributes(tracing.KeyLoop.String(name)))
}

// manageResources grows or shrinks the population with system load.
func (k *Kernel) manageResources(ctx context.Context) {
	ctx, span := loopSpan(ctx, "resource_manager")
	defer span.End()

	load, err := k.load.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			klog.For("kernel").Debug("load sample failed", "error", err)
		}
		return
	}

	switch {
	case load > k.config.HighLoad:
		k.scaleDown(load)
	case load < k.config.LowLoad && k.sys.Count() < k.config.MaxAgents:
		k.scaleUp(load)
	}
}

func (k *Kernel) scaleDown(load float64) {
	if k.sys.Count() <= 1 {
		return
	}
	id, ok := k.sys.AnyAgentID()
	if !ok || !k.sys.TerminateAgent(id) {
		return
	}
	k.eventBus.Publish(ipc.TopicScaled, kernelSource, []byte("down"))
	klog.For("kernel").Info("scaled down", "load", load, "terminated", id, "agents", k.sys.Count())
}

func (k *Kernel) scaleUp(load float64) {
	id := k.sys.SpawnTopLevelAgent(k.config.ScaleUpTask)
	k.eventBus.Publish(ipc.TopicScaled, kernelSource, []byte("up"))
	klog.For("kernel").Info("scaled up", "load", load, "spawned", id, "agents", k.sys.Count())
}

// schedule hands opportunistic work to idle agents with spare energy.
// The job runs ProcessTask on a pool goroutine, concurrently with the
// agent's own loop; the agent lock serializes the two.
func (k *Kernel) schedule(ctx context.Context) {
	for _, id := range k.sys.AgentIDs() {
		a, err := k.sys.Get(id)
		if err != nil {
			continue // terminated since the snapshot
		}
		if a.Energy() <= k.config.DispatchEnergy || a.Pending() > 0 {
			continue
		}

		task := k.config.DispatchTask
		err = k.pool.Submit(func(ctx context.Context) {
			k.dispatch(ctx, id, task)
		})
		switch {
		case errors.Is(err, ErrPoolClosed):
			return
		case errors.Is(err, ErrPoolFull):
			klog.For("kernel").Debug("dispatch dropped", "agent", id)
			return
		}
	}
}

// dispatch runs task on agent id if it is still registered and active.
// Agents terminated between submit and execution are skipped.
func (k *Kernel) dispatch(ctx context.Context, id, task string) bool {
	a, err := k.sys.Get(id)
	if err != nil || !a.Active() {
		klog.For("kernel").Debug("dispatch skipped, agent gone", "agent", id)
		return false
	}
	a.ProcessTask(ctx, task)
	k.sys.RecordTaskProcessed()
	return true
}

// preserve terminates every registered agent that violates an axiom, then
// redistributes the pool.
func (k *Kernel) preserve(ctx context.Context) {
	_, span := loopSpan(ctx, "self_preservation")
	defer span.End()

	terminated := 0
	for _, id := range k.sys.AgentIDs() {
		a, err := k.sys.Get(id)
		if err != nil {
			continue
		}
		ok, violated := k.sys.Compliant(a)
		if ok {
			continue
		}
		klog.For("kernel").Warn("axiom violation", "agent", id, "axioms", violated)
		k.eventBus.Publish(ipc.TopicAxiomViolation, id, []byte(strings.Join(violated, ",")))
		if k.sys.TerminateAgent(id) {
			terminated++
		}
	}
	k.sys.DistributeEnergy()

	if terminated > 0 {
		klog.For("kernel").Info("self-preservation cycle", "terminated", terminated, "agents", k.sys.Count())
	}
}

// monitor snapshots health and warns when total energy runs low.
func (k *Kernel) monitor(ctx context.Context) {
	ctx, span := loopSpan(ctx, "monitor")
	defer span.End()

	h := k.sys.HealthCheck()
	if h.TotalEnergy < k.config.LowEnergy {
		klog.For("kernel").Warn("low system energy", "total_energy", h.TotalEnergy, "threshold", k.config.LowEnergy)
		k.eventBus.Publish(ipc.TopicEnergyLow, kernelSource, nil)
	}
	if k.recorder != nil {
		if err := k.recorder.RecordSnapshot(ctx, h); err != nil {
			klog.For("kernel").Warn("snapshot not recorded", "error", err)
		}
	}
}
