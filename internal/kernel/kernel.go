package kernel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davehusk/millennium-qecc/internal/ipc"
	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/population"
)

// SnapshotRecorder persists health snapshots.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, h population.Health) error
}

// Kernel supervises the population. It owns the registry, the worker pool
// and four periodic loops: resource manager, task scheduler,
// self-preservation and monitor.
type Kernel struct {
	config   Config
	sys      *population.System
	eventBus *ipc.EventBus
	load     LoadSampler
	recorder SnapshotRecorder

	pool     *Pool
	loops    sync.WaitGroup
	shutdown atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	final   population.Health
	stopped bool
}

// New creates a kernel with an empty population. Nothing runs until Start.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sys := population.NewSystem(cfg.Population())
	eb := ipc.NewEventBus()
	sys.SetEventBus(eb)

	return &Kernel{
		config:   cfg,
		sys:      sys,
		eventBus: eb,
		load:     CPUSampler{Window: time.Second},
		done:     make(chan struct{}),
	}, nil
}

// SetLoadSampler replaces the CPU sampler used by the resource manager.
// Must be called before Start.
func (k *Kernel) SetLoadSampler(s LoadSampler) {
	k.load = s
}

// SetRecorder wires a snapshot recorder used by the monitor and shutdown.
// Must be called before Start.
func (k *Kernel) SetRecorder(r SnapshotRecorder) {
	k.recorder = r
}

// System returns the registry.
func (k *Kernel) System() *population.System {
	return k.sys
}

// EventBus returns the lifecycle event bus.
func (k *Kernel) EventBus() *ipc.EventBus {
	return k.eventBus
}

// Config returns the kernel configuration.
func (k *Kernel) Config() Config {
	return k.config
}

// Done is closed once every loop and pool worker has exited after Shutdown.
func (k *Kernel) Done() <-chan struct{} {
	return k.done
}

// Start launches the worker pool and the four loops, then spawns the
// configured startup agents. It returns immediately.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started || k.stopped {
		return errors.New("kernel already started")
	}
	k.started = true

	ctx, k.cancel = context.WithCancel(ctx)
	k.pool = NewPool(ctx, k.config.Workers, k.config.QueueSize)

	for _, loop := range []struct {
		name     string
		interval time.Duration
		tick     func(context.Context)
	}{
		{"resource_manager", k.config.ResourceInterval, k.manageResources},
		{"scheduler", k.config.ScheduleInterval, k.schedule},
		{"self_preservation", k.config.PreservationInterval, k.preserve},
		{"monitor", k.config.MonitorInterval, k.monitor},
	} {
		k.loops.Add(1)
		go k.runLoop(ctx, loop.name, loop.interval, loop.tick)
	}

	go func() {
		k.loops.Wait()
		_ = k.pool.Wait()
		close(k.done)
	}()

	for _, a := range k.config.Startup {
		for i := 0; i < max(a.Count, 1); i++ {
			k.sys.SpawnTopLevelAgent(a.Task)
		}
	}

	klog.For("kernel").Info("started",
		"workers", k.config.Workers, "agents", k.sys.Count(), "pool", k.sys.Pool())
	return nil
}

// runLoop calls tick every interval until ctx is cancelled or the shutdown
// flag is set.
func (k *Kernel) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer k.loops.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	klog.For("kernel").Debug("loop started", "loop", name, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if k.shutdown.Load() {
				return
			}
			tick(ctx)
		}
	}
}

// Shutdown stops the loops, closes the pool to new work without waiting
// for in-flight jobs, terminates every registered agent and returns the
// final snapshot. Later calls return the same snapshot.
func (k *Kernel) Shutdown(ctx context.Context) population.Health {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return k.final
	}
	k.stopped = true
	k.shutdown.Store(true)

	if k.cancel != nil {
		k.cancel()
	}
	if k.pool != nil {
		k.pool.Close()
	}
	if !k.started {
		close(k.done)
	}

	for _, id := range k.sys.AgentIDs() {
		k.sys.TerminateAgent(id)
	}

	k.final = k.sys.HealthCheck()
	if k.recorder != nil {
		if err := k.recorder.RecordSnapshot(ctx, k.final); err != nil {
			klog.For("kernel").Warn("final snapshot not recorded", "error", err)
		}
	}
	klog.For("kernel").Info("shutdown complete",
		"tasks_processed", k.final.TasksProcessed,
		"agents_created", k.final.AgentsCreated,
		"total_energy", k.final.TotalEnergy,
		"uptime", k.final.Uptime.Round(time.Millisecond))
	return k.final
}
