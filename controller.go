package blinkbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

var Controller = resource.NewModel("rfbench", "blink-test", "controller")

func init() {
	resource.RegisterService(generic.API, Controller,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newBlinkTestController,
		},
	)
}

const defaultResultsFile = "captures/working_bitstreams.csv"

var (
	errRunActive = errors.New("a run is already in progress")
	errNoRun     = errors.New("no run in progress")
)

type Config struct {
	OpticalSensor    string   `json:"optical_sensor,omitempty"`
	IntensityKey     string   `json:"intensity_key,omitempty"`
	SerialPort       string   `json:"serial_port,omitempty"`
	BaudRate         int      `json:"baud_rate,omitempty"`
	BitstreamFile    string   `json:"bitstream_file"`
	ResultsFile      string   `json:"results_file,omitempty"`
	ResultsDB        string   `json:"results_db,omitempty"`
	WindowSeconds    float64  `json:"window_seconds,omitempty"`
	BlinkThreshold   float64  `json:"blink_threshold,omitempty"` // 0 means the default of 20
	SampleRateHz     int      `json:"sample_rate_hz,omitempty"`
	KnownGood        string   `json:"known_good,omitempty"`
	KnownBad         string   `json:"known_bad,omitempty"`
	UseSimulator     bool     `json:"use_simulator,omitempty"`
	SimulatedMatches []string `json:"simulated_matches,omitempty"`
	MetricsAddr      string   `json:"metrics_addr,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.BitstreamFile == "" {
		return nil, nil, fmt.Errorf("%s: bitstream_file is required", path)
	}
	if !cfg.UseSimulator {
		if cfg.OpticalSensor == "" {
			return nil, nil, fmt.Errorf("%s: optical_sensor is required unless use_simulator is set", path)
		}
		if cfg.SerialPort == "" {
			return nil, nil, fmt.Errorf("%s: serial_port is required unless use_simulator is set", path)
		}
	}
	if cfg.WindowSeconds < 0 {
		return nil, nil, fmt.Errorf("%s: window_seconds must not be negative", path)
	}
	if cfg.SampleRateHz < 0 || cfg.SampleRateHz > maxSampleRateHz {
		return nil, nil, fmt.Errorf("%s: sample_rate_hz must be in [0, %d]", path, maxSampleRateHz)
	}
	if cfg.BlinkThreshold < 0 || cfg.BlinkThreshold >= 100 {
		return nil, nil, fmt.Errorf("%s: blink_threshold must be in [0, 100)", path)
	}
	if cfg.KnownGood != "" && cfg.KnownGood == cfg.KnownBad {
		return nil, nil, fmt.Errorf("%s: known_good and known_bad must differ", path)
	}

	var deps []string
	if cfg.OpticalSensor != "" {
		deps = append(deps, cfg.OpticalSensor)
	}
	return deps, nil, nil
}

func (cfg *Config) window() time.Duration {
	if cfg.WindowSeconds <= 0 {
		return DefaultStepWindow
	}
	return time.Duration(cfg.WindowSeconds * float64(time.Second))
}

func (cfg *Config) threshold() float64 {
	if cfg.BlinkThreshold <= 0 {
		return DefaultBlinkThreshold
	}
	return cfg.BlinkThreshold
}

type blinkTestController struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	optical   sensor.Sensor
	simulator *simulatedReceiver
	clock     clock.Clock

	metrics    *benchMetrics
	metricsSrv *http.Server

	mu  sync.Mutex
	run *benchRun

	// wrapCloser, when set, wraps every per-run resource before it is tracked
	// for release.
	wrapCloser func(io.Closer) io.Closer

	cancelCtx  context.Context
	cancelFunc func()
}

// benchRun is one pass over the candidate file.
type benchRun struct {
	runID      string
	startedAt  time.Time
	machine    *Machine
	integrator *Integrator
	runner     *Runner
	release    func() error
	cancel     context.CancelFunc
	done       chan struct{}

	mu     sync.Mutex
	status string
	err    error
}

func (r *benchRun) finish(status string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.err = err
}

func (r *benchRun) outcome() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

func (r *benchRun) active() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func newBlinkTestController(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewController(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewController(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	var optical sensor.Sensor
	if conf.OpticalSensor != "" {
		s, err := sensor.FromDependencies(deps, conf.OpticalSensor)
		if err != nil {
			return nil, fmt.Errorf("getting optical sensor: %w", err)
		}
		optical = s
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	c := &blinkTestController{
		name:       name,
		logger:     logger,
		cfg:        conf,
		optical:    optical,
		clock:      clock.New(),
		metrics:    newBenchMetrics(),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	if conf.UseSimulator {
		knownGood := conf.KnownGood
		if knownGood == "" {
			knownGood = KnownGoodPattern
		}
		c.simulator = newSimulatedReceiver(knownGood, conf.SimulatedMatches)
		logger.Infof("controller using simulated receiver (use_simulator=true)")
	}
	if conf.MetricsAddr != "" {
		c.metricsSrv = c.metrics.serve(conf.MetricsAddr, logger)
	}
	return c, nil
}

func (c *blinkTestController) Name() resource.Name {
	return c.name
}

func (c *blinkTestController) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "start":
		return c.handleStart()
	case "stop":
		return c.handleStop(ctx)
	case "status":
		return c.GetState(), nil
	case "transmit":
		return c.handleTransmit(ctx, cmd)
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (c *blinkTestController) handleStart() (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil && c.run.active() {
		return nil, errRunActive
	}

	run, err := c.openRun()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(c.cancelCtx)
	run.cancel = cancel
	c.run = run

	go c.execute(runCtx, run)

	c.logger.Infof("run %s started (window %v, threshold %.1f%%)", run.runID, c.cfg.window(), c.cfg.threshold())
	return map[string]interface{}{
		"run_id":     run.runID,
		"started_at": run.startedAt.Format(time.RFC3339),
	}, nil
}

// openRun acquires every per-run resource. Anything acquired is released
// again if a later step fails.
func (c *blinkTestController) openRun() (run *benchRun, err error) {
	var closers []io.Closer
	release := func() error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i].Close())
		}
		return errs
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, release())
		}
	}()

	source, err := OpenBitstreamFile(c.cfg.BitstreamFile)
	if err != nil {
		return nil, err
	}
	closers = append(closers, c.track(source))

	var (
		tx       Transmitter
		reader   intensityReader
		capturer ArtifactCapturer
	)
	if c.simulator != nil {
		tx, reader = c.simulator, c.simulator
	} else {
		st, err := OpenSerialTransmitter(SerialConfig{Port: c.cfg.SerialPort, BaudRate: c.cfg.BaudRate})
		if err != nil {
			return nil, err
		}
		closers = append(closers, c.track(st))
		tx = st
		reader = newSensorIntensityReader(c.optical, c.cfg.IntensityKey)
	}
	if c.optical != nil {
		capturer = &sensorArtifactCapturer{sensor: c.optical}
	}

	resultsFile := c.cfg.ResultsFile
	if resultsFile == "" {
		resultsFile = defaultResultsFile
	}
	csvLog, err := OpenCSVResultLog(resultsFile)
	if err != nil {
		return nil, err
	}
	closers = append(closers, c.track(csvLog))
	sinks := multiSink{csvLog}

	if c.cfg.ResultsDB != "" {
		duck, err := OpenDuckResultLog(c.cfg.ResultsDB)
		if err != nil {
			return nil, err
		}
		closers = append(closers, c.track(duck))
		sinks = append(sinks, duck)
	}

	machine := NewMachine(MachineConfig{
		KnownGood: c.cfg.KnownGood,
		KnownBad:  c.cfg.KnownBad,
		Window:    c.cfg.window(),
		Clock:     c.clock,
	}, source, tx, sinks, capturer, c.logger)
	machine.metrics = c.metrics

	integrator := NewIntegrator(c.cfg.threshold())
	return &benchRun{
		runID:      "run-" + uuid.NewString(),
		startedAt:  c.clock.Now(),
		machine:    machine,
		integrator: integrator,
		runner:     newRunner(c.clock, reader, integrator, machine, c.cfg.SampleRateHz, c.cfg.window()),
		release:    release,
		done:       make(chan struct{}),
		status:     "running",
	}, nil
}

func (c *blinkTestController) track(cl io.Closer) io.Closer {
	if c.wrapCloser == nil {
		return cl
	}
	return c.wrapCloser(cl)
}

func (c *blinkTestController) execute(ctx context.Context, run *benchRun) {
	defer close(run.done)

	err := run.runner.Run(ctx)
	if relErr := run.release(); relErr != nil {
		c.logger.Warnf("run %s: releasing resources: %v", run.runID, relErr)
	}

	snap := run.machine.Snapshot()
	switch {
	case errors.Is(err, context.Canceled):
		run.finish("stopped", nil)
		c.logger.Infof("run %s stopped at %s after %d trials", run.runID, snap.State, snap.Trials)
	case err != nil:
		run.finish("failed", err)
		c.logger.Errorf("run %s failed at %s: %v", run.runID, snap.State, err)
	default:
		run.finish("finished", nil)
		c.logger.Infof("run %s finished: %d trials, %d passed, %d resets", run.runID, snap.Trials, snap.Passes, snap.Resets)
	}
}

func (c *blinkTestController) handleStop(ctx context.Context) (map[string]interface{}, error) {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	if run == nil || !run.active() {
		return nil, errNoRun
	}

	run.cancel()
	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	snap := run.machine.Snapshot()
	status, _ := run.outcome()
	return map[string]interface{}{
		"run_id":    run.runID,
		"run_state": status,
		"trials":    snap.Trials,
		"passes":    snap.Passes,
	}, nil
}

// handleTransmit sends a single pattern outside of a run, for bench checks.
func (c *blinkTestController) handleTransmit(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	pattern, ok := cmd["pattern"].(string)
	if !ok || pattern == "" {
		return nil, fmt.Errorf("missing or invalid 'pattern' field")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil && c.run.active() {
		return nil, errRunActive
	}

	if c.simulator != nil {
		if err := c.simulator.Send(ctx, pattern); err != nil {
			return nil, err
		}
	} else {
		st, err := OpenSerialTransmitter(SerialConfig{Port: c.cfg.SerialPort, BaudRate: c.cfg.BaudRate})
		if err != nil {
			return nil, err
		}
		err = st.Send(ctx, pattern)
		if err = multierr.Append(err, st.Close()); err != nil {
			return nil, err
		}
	}
	c.logger.Infof("manually transmitted %s", pattern)
	return map[string]interface{}{"status": "sent", "pattern": pattern}, nil
}

// GetState reports the controller and run progress. It backs the status
// command and the trial sensor.
func (c *blinkTestController) GetState() map[string]interface{} {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()

	state := map[string]interface{}{
		"state":       "idle",
		"should_sync": false,
	}
	if run == nil {
		return state
	}

	snap := run.machine.Snapshot()
	status, err := run.outcome()
	running := run.active()
	if running {
		state["state"] = "running"
	}
	state["should_sync"] = running
	state["run_id"] = run.runID
	state["run_state"] = status
	state["started_at"] = run.startedAt.Format(time.RFC3339)
	state["step"] = snap.State.String()
	state["candidate"] = snap.Candidate
	state["trials"] = snap.Trials
	state["passes"] = snap.Passes
	state["fails"] = snap.Trials - snap.Passes
	state["resets"] = snap.Resets
	state["pending_samples"] = run.integrator.Pending()
	state["last_percentage"] = snap.LastVerdict.Percentage
	state["last_blinking"] = snap.LastVerdict.Blinking
	if snap.LastResult != nil {
		state["last_pattern"] = snap.LastResult.Pattern
		state["last_outcome"] = string(snap.LastResult.Outcome)
	}
	if err != nil {
		state["last_error"] = err.Error()
	}
	return state
}

func (c *blinkTestController) Close(ctx context.Context) error {
	c.cancelFunc()

	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run != nil {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.metricsSrv != nil {
		return c.metricsSrv.Close()
	}
	return nil
}

// sensorArtifactCapturer asks the optical sensor to freeze evidence of a pass.
type sensorArtifactCapturer struct {
	sensor resource.Resource
}

func (s *sensorArtifactCapturer) Capture(ctx context.Context, label string) (string, error) {
	resp, err := s.sensor.DoCommand(ctx, map[string]interface{}{
		"command": "capture",
		"label":   label,
	})
	if err != nil {
		return "", err
	}
	ref, ok := resp["artifact"].(string)
	if !ok || ref == "" {
		return "", fmt.Errorf("capture response has no artifact")
	}
	return ref, nil
}
