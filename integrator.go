package blinkbench

import (
	"sync"
	"time"
)

const (
	// GrayscalePerPercent converts an 8-bit grayscale mean to a 0..100 percentage.
	GrayscalePerPercent = 255.0 / 100

	DefaultBlinkThreshold = 20.0
	DefaultStepWindow     = 7 * time.Second
)

// Verdict is the reduction of one integration window.
type Verdict struct {
	Percentage float64
	Blinking   bool
	Samples    int
	Threshold  float64
}

// Integrator accumulates optical samples for one window at a time. Windows
// never overlap: Close hands back the verdict and starts the next window empty.
type Integrator struct {
	threshold float64

	mu    sync.Mutex
	sum   float64
	count int
}

// NewIntegrator uses DefaultBlinkThreshold when threshold is not positive.
func NewIntegrator(threshold float64) *Integrator {
	if threshold <= 0 {
		threshold = DefaultBlinkThreshold
	}
	return &Integrator{threshold: threshold}
}

func (i *Integrator) Add(value float64) {
	i.mu.Lock()
	i.sum += value
	i.count++
	i.mu.Unlock()
}

// Close computes the verdict for the open window and resets the accumulator.
// An empty window is reported as 0% and not blinking.
func (i *Integrator) Close() Verdict {
	i.mu.Lock()
	sum, count := i.sum, i.count
	i.sum, i.count = 0, 0
	i.mu.Unlock()

	v := Verdict{Samples: count, Threshold: i.threshold}
	if count == 0 {
		return v
	}
	v.Percentage = sum / float64(count) / GrayscalePerPercent
	v.Blinking = v.Percentage > i.threshold
	return v
}

// Pending reports how many samples the open window holds.
func (i *Integrator) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count
}
