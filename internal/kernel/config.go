package kernel

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davehusk/millennium-qecc/internal/population"
)

// Config holds system-wide configuration for the kernel.
type Config struct {
	// Loop intervals
	ResourceInterval     time.Duration `yaml:"resource_interval"`
	ScheduleInterval     time.Duration `yaml:"schedule_interval"`
	PreservationInterval time.Duration `yaml:"preservation_interval"`
	MonitorInterval      time.Duration `yaml:"monitor_interval"`

	// Scaling and dispatch thresholds
	HighLoad       float64 `yaml:"high_load"` // CPU percent above which the population shrinks
	LowLoad        float64 `yaml:"low_load"`  // CPU percent below which it grows
	MaxAgents      int     `yaml:"max_agents"`
	DispatchEnergy float64 `yaml:"dispatch_energy"` // idle agents above this get opportunistic work
	LowEnergy      float64 `yaml:"low_energy"`      // total energy warning threshold
	ScaleUpTask    string  `yaml:"scale_up_task"`
	DispatchTask   string  `yaml:"dispatch_task"`

	// Worker pool
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// Population economy
	InitialPool     float64       `yaml:"initial_pool"`
	DefaultEnergy   float64       `yaml:"default_energy"`
	InsightCapacity int           `yaml:"insight_capacity"`
	IdleInterval    time.Duration `yaml:"idle_interval"`
	JoinTimeout     time.Duration `yaml:"join_timeout"`

	// Service surfaces, all optional
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	HTTPAddr       string        `yaml:"http_addr"`
	JournalPath    string        `yaml:"journal"`
	TraceDir       string        `yaml:"trace_dir"`
	StatusInterval time.Duration `yaml:"status_interval"`

	Startup []StartupAgent `yaml:"startup"`
}

// StartupAgent describes a top-level agent to spawn when the kernel starts.
type StartupAgent struct {
	Task  string `yaml:"task"`
	Count int    `yaml:"count,omitempty"` // default 1
}

// DefaultConfig returns the standard single-process settings.
func DefaultConfig() Config {
	pop := population.DefaultConfig()
	return Config{
		ResourceInterval:     5 * time.Second,
		ScheduleInterval:     100 * time.Millisecond,
		PreservationInterval: 10 * time.Second,
		MonitorInterval:      5 * time.Second,

		HighLoad:       80,
		LowLoad:        20,
		MaxAgents:      50,
		DispatchEnergy: 20,
		LowEnergy:      100,
		ScaleUpTask:    "explore",
		DispatchTask:   "self_preserve",

		Workers:   8,
		QueueSize: 64,

		InitialPool:     pop.InitialPool,
		DefaultEnergy:   pop.DefaultEnergy,
		InsightCapacity: pop.InsightCapacity,
		IdleInterval:    pop.IdleInterval,
		JoinTimeout:     pop.JoinTimeout,

		LogLevel:       "info",
		StatusInterval: 5 * time.Second,

		Startup: []StartupAgent{
			{Task: "analyze_multi-aspect_recursive_problem"},
			{Task: "monitor_system_health"},
		},
	}
}

// Population returns the registry parameters.
func (c Config) Population() population.Config {
	return population.Config{
		InitialPool:     c.InitialPool,
		DefaultEnergy:   c.DefaultEnergy,
		InsightCapacity: c.InsightCapacity,
		IdleInterval:    c.IdleInterval,
		JoinTimeout:     c.JoinTimeout,
	}
}

// Validate checks that intervals are positive and thresholds are coherent.
func (c Config) Validate() error {
	var errs []error
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"resource_interval", c.ResourceInterval},
		{"schedule_interval", c.ScheduleInterval},
		{"preservation_interval", c.PreservationInterval},
		{"monitor_interval", c.MonitorInterval},
		{"idle_interval", c.IdleInterval},
		{"join_timeout", c.JoinTimeout},
		{"status_interval", c.StatusInterval},
	} {
		if iv.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", iv.name, iv.d))
		}
	}
	if c.LowLoad < 0 || c.HighLoad > 100 || c.LowLoad >= c.HighLoad {
		errs = append(errs, fmt.Errorf("load thresholds must satisfy 0 <= low_load < high_load <= 100, got %v/%v", c.LowLoad, c.HighLoad))
	}
	if c.MaxAgents <= 0 {
		errs = append(errs, fmt.Errorf("max_agents must be positive, got %d", c.MaxAgents))
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("workers and queue_size must be positive, got %d/%d", c.Workers, c.QueueSize))
	}
	if c.DefaultEnergy <= 0 || c.InitialPool < 0 {
		errs = append(errs, errors.New("default_energy must be positive and initial_pool nonnegative"))
	}
	for i, a := range c.Startup {
		if a.Task == "" {
			errs = append(errs, fmt.Errorf("startup[%d]: task is required", i))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML config file overlaying DefaultConfig.
// Returns the defaults if path is empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
