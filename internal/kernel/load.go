package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/cpu"
)

// LoadSampler reports current system load as a CPU percentage.
type LoadSampler interface {
	Sample(ctx context.Context) (float64, error)
}

// CPUSampler measures total CPU utilisation over Window.
type CPUSampler struct {
	Window time.Duration
}

// Sample blocks for the sampling window.
func (s CPUSampler) Sample(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, s.Window, false)
	if err != nil {
		return 0, fmt.Errorf("sample cpu: %w", err)
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("sample cpu: no data")
	}
	return pct[0], nil
}

// StaticLoad always reports the same load.
type StaticLoad float64

func (l StaticLoad) Sample(context.Context) (float64, error) {
	return float64(l), nil
}
