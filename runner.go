package blinkbench

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultSampleRateHz = 30
	maxSampleRateHz     = 1000
)

// Runner drives one protocol run. Every frame tick reads one optical sample
// into the integrator; once a window has elapsed the same tick closes it and
// evaluates exactly one machine step.
type Runner struct {
	clock         clock.Clock
	reader        intensityReader
	integrator    *Integrator
	machine       *Machine
	frameInterval time.Duration
	window        time.Duration

	windowStart time.Time
}

func newRunner(clk clock.Clock, reader intensityReader, integrator *Integrator, machine *Machine, sampleRateHz int, window time.Duration) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	if sampleRateHz <= 0 {
		sampleRateHz = defaultSampleRateHz
	}
	if sampleRateHz > maxSampleRateHz {
		sampleRateHz = maxSampleRateHz
	}
	if window <= 0 {
		window = DefaultStepWindow
	}
	return &Runner{
		clock:         clk,
		reader:        reader,
		integrator:    integrator,
		machine:       machine,
		frameInterval: time.Second / time.Duration(sampleRateHz),
		window:        window,
	}
}

// Run returns nil once the machine reaches StateExit. Cancelling ctx aborts
// the machine and returns the context error.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.frameInterval)
	defer ticker.Stop()

	r.windowStart = r.clock.Now()
	for {
		select {
		case <-ctx.Done():
			r.machine.Abort()
			return ctx.Err()
		case now := <-ticker.C:
			done, err := r.tick(ctx, now)
			if ctx.Err() != nil {
				r.machine.Abort()
				return ctx.Err()
			}
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context, now time.Time) (bool, error) {
	v, err := r.reader.ReadIntensity(ctx)
	if err != nil {
		return false, fmt.Errorf("reading optical sample: %w", err)
	}
	r.integrator.Add(v)

	if now.Sub(r.windowStart) < r.window {
		return false, nil
	}
	verdict := r.integrator.Close()
	r.windowStart = now

	next, err := r.machine.Step(ctx, verdict)
	if err != nil {
		return false, err
	}
	return next == StateExit, nil
}
