package blinkbench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
)

const (
	KnownGoodPattern = "1111000101000100011"
	KnownBadPattern  = "1010101010101010101"

	// Candidates this short mean the source has run dry.
	minCandidateLength = 3
)

// TestState is one step of the test protocol. The machine advances at most
// one state per closed integration window.
type TestState int

const (
	StateTxSafe TestState = iota
	StateCheckAfterSafe
	StateTxBad
	StateWaitInertial
	StateCheckStopped
	StateTxTest
	StateCheckAfterTest
	StateErrorRecoverable
	StateExit
)

func (s TestState) String() string {
	switch s {
	case StateTxSafe:
		return "tx_safe"
	case StateCheckAfterSafe:
		return "check_after_safe"
	case StateTxBad:
		return "tx_bad"
	case StateWaitInertial:
		return "wait_inertial"
	case StateCheckStopped:
		return "check_stopped"
	case StateTxTest:
		return "tx_test"
	case StateCheckAfterTest:
		return "check_after_test"
	case StateErrorRecoverable:
		return "error_recoverable"
	case StateExit:
		return "exit"
	default:
		return fmt.Sprintf("TestState(%d)", int(s))
	}
}

// PatternSource yields candidate patterns in order, then ErrEndOfSource.
type PatternSource interface {
	Next(ctx context.Context) (string, error)
}

// Transmitter sends one pattern to the receiver. There is no acknowledgment.
type Transmitter interface {
	Send(ctx context.Context, pattern string) error
}

// ArtifactCapturer records evidence of a passing trial. Failures are tolerated.
type ArtifactCapturer interface {
	Capture(ctx context.Context, label string) (string, error)
}

// ResultSink durably appends trial results in order.
type ResultSink interface {
	Append(ctx context.Context, r TrialResult) error
}

type MachineConfig struct {
	KnownGood string
	KnownBad  string
	Window    time.Duration
	Clock     clock.Clock
}

// MachineStatus is a point-in-time copy of the machine's progress.
type MachineStatus struct {
	State       TestState
	Candidate   string
	Trials      int
	Passes      int
	Resets      int
	LastVerdict Verdict
	LastResult  *TrialResult
}

// Machine sequences the safe/bad/candidate protocol. Step is called from a
// single goroutine; Snapshot may be called from anywhere.
type Machine struct {
	cfg      MachineConfig
	source   PatternSource
	tx       Transmitter
	sink     ResultSink
	capturer ArtifactCapturer
	logger   logging.Logger
	metrics  *benchMetrics

	mu          sync.Mutex
	state       TestState
	candidate   string
	resetReason string
	trials      int
	passes      int
	resets      int
	lastVerdict Verdict
	lastResult  *TrialResult
}

// NewMachine returns a machine positioned at StateTxSafe. capturer may be nil.
func NewMachine(cfg MachineConfig, source PatternSource, tx Transmitter, sink ResultSink, capturer ArtifactCapturer, logger logging.Logger) *Machine {
	if cfg.KnownGood == "" {
		cfg.KnownGood = KnownGoodPattern
	}
	if cfg.KnownBad == "" {
		cfg.KnownBad = KnownBadPattern
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultStepWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Machine{
		cfg:      cfg,
		source:   source,
		tx:       tx,
		sink:     sink,
		capturer: capturer,
		logger:   logger,
		state:    StateTxSafe,
	}
}

func (m *Machine) State() TestState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Abort forces the terminal state.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateExit
	m.candidate = ""
}

func (m *Machine) Snapshot() MachineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MachineStatus{
		State:       m.state,
		Candidate:   m.candidate,
		Trials:      m.trials,
		Passes:      m.passes,
		Resets:      m.resets,
		LastVerdict: m.lastVerdict,
	}
	if m.lastResult != nil {
		r := *m.lastResult
		st.LastResult = &r
	}
	return st
}

// Step performs the current state's action using the verdict of the window
// that just closed and moves to the next state. On error the machine stays
// where it was.
func (m *Machine) Step(ctx context.Context, v Verdict) (TestState, error) {
	m.mu.Lock()
	state := m.state
	m.lastVerdict = v
	m.mu.Unlock()

	now := m.cfg.Clock.Now()
	if state == StateTxSafe {
		m.logger.Infof("******************************************************************************")
	}
	m.logger.Infof("%s   blink percentage = %.2f%% (%d samples)", now.Format(TimestampLayout), v.Percentage, v.Samples)
	m.metrics.observeWindow(v)

	next, err := m.evaluate(ctx, state, v, now)
	if err != nil {
		return state, err
	}

	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return next, nil
}

func (m *Machine) evaluate(ctx context.Context, state TestState, v Verdict, now time.Time) (TestState, error) {
	switch state {
	case StateTxSafe:
		if err := m.transmit(ctx, transmitSafe, m.cfg.KnownGood); err != nil {
			return state, err
		}
		return StateCheckAfterSafe, nil

	case StateCheckAfterSafe:
		m.logger.Infof("%s: blinking=%t", state, v.Blinking)
		if !v.Blinking {
			m.logger.Warnf("cannot detect blinking after the known-good pattern was transmitted")
			m.setResetReason("no_blink_after_safe")
			return StateErrorRecoverable, nil
		}
		return StateTxBad, nil

	case StateTxBad:
		if err := m.transmit(ctx, transmitBad, m.cfg.KnownBad); err != nil {
			return state, err
		}
		return StateWaitInertial, nil

	case StateWaitInertial:
		m.logger.Infof("%s: letting residual blinking decay", state)
		return StateCheckStopped, nil

	case StateCheckStopped:
		m.logger.Infof("%s: stopped=%t", state, !v.Blinking)
		if v.Blinking {
			m.logger.Warnf("still blinking after the known-bad pattern was transmitted")
			m.setResetReason("blink_after_bad")
			return StateErrorRecoverable, nil
		}
		return StateTxTest, nil

	case StateTxTest:
		pattern, err := m.source.Next(ctx)
		if errors.Is(err, ErrEndOfSource) {
			pattern = ""
		} else if err != nil {
			return state, fmt.Errorf("reading next candidate: %w", err)
		}
		if len(pattern) <= minCandidateLength {
			m.logger.Infof("%s: no more candidates (got %q), exiting", state, pattern)
			return StateExit, nil
		}
		if err := m.transmit(ctx, transmitCandidate, pattern); err != nil {
			return state, err
		}
		m.mu.Lock()
		m.candidate = pattern
		m.mu.Unlock()
		return StateCheckAfterTest, nil

	case StateCheckAfterTest:
		m.logger.Infof("%s: blinking=%t", state, v.Blinking)
		if err := m.recordTrial(ctx, v, now); err != nil {
			return state, err
		}
		return StateTxSafe, nil

	case StateErrorRecoverable:
		m.mu.Lock()
		reason := m.resetReason
		m.resetReason = ""
		m.mu.Unlock()
		if reason == "" {
			reason = "unspecified"
		}
		m.logger.Errorf("protocol error (%s), restarting at %s", reason, StateTxSafe)
		m.countReset(reason)
		return StateTxSafe, nil

	case StateExit:
		return StateExit, nil

	default:
		m.logger.Errorf("unknown test step %q, restarting at %s", state, StateTxSafe)
		m.countReset("unknown_state")
		return StateTxSafe, nil
	}
}

func (m *Machine) transmit(ctx context.Context, kind, pattern string) error {
	if err := m.tx.Send(ctx, pattern); err != nil {
		return fmt.Errorf("transmitting %s pattern %q: %w", kind, pattern, err)
	}
	m.logger.Infof("transmitted %s pattern: %s", kind, pattern)
	m.metrics.transmitted(kind)
	return nil
}

func (m *Machine) recordTrial(ctx context.Context, v Verdict, now time.Time) error {
	m.mu.Lock()
	pattern := m.candidate
	m.candidate = ""
	m.mu.Unlock()

	if pattern == "" {
		// Reached without a transmitted candidate; nothing to attribute the verdict to.
		m.logger.Errorf("%s reached with no candidate under test, restarting at %s", StateCheckAfterTest, StateTxSafe)
		m.countReset("no_candidate")
		return nil
	}

	res := TrialResult{
		Timestamp:  now,
		Pattern:    pattern,
		Outcome:    OutcomeFail,
		Percentage: v.Percentage,
		Threshold:  v.Threshold,
		Window:     m.cfg.Window,
	}
	if v.Blinking {
		res.Outcome = OutcomePass
		m.logger.Infof("    *****")
		m.logger.Infof("    ***** A good bitstream was found: %s", pattern)
		m.logger.Infof("    *****")
		if m.capturer != nil {
			ref, err := m.capturer.Capture(ctx, ArtifactLabel(pattern, now))
			if err != nil {
				m.logger.Warnf("artifact capture for %s failed: %v", pattern, err)
			} else {
				res.Artifact = ref
			}
		}
	}

	if err := m.sink.Append(ctx, res); err != nil {
		return fmt.Errorf("appending trial result for %s: %w", pattern, err)
	}
	m.metrics.trialRecorded(res)

	m.mu.Lock()
	m.trials++
	if res.Outcome == OutcomePass {
		m.passes++
	}
	m.lastResult = &res
	m.mu.Unlock()
	return nil
}

func (m *Machine) setResetReason(reason string) {
	m.mu.Lock()
	m.resetReason = reason
	m.mu.Unlock()
}

func (m *Machine) countReset(reason string) {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	m.metrics.protocolReset(reason)
}

// ArtifactLabel names the evidence captured for a passing pattern.
func ArtifactLabel(pattern string, at time.Time) string {
	return pattern + "_" + at.Format(TimestampLayout)
}
