package blinkbench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
)

type fakeSource struct {
	patterns []string
	calls    int
	err      error
}

func (f *fakeSource) Next(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.patterns) == 0 {
		return "", ErrEndOfSource
	}
	p := f.patterns[0]
	f.patterns = f.patterns[1:]
	return p, nil
}

type fakeTransmitter struct {
	sent []string
	err  error
}

func (f *fakeTransmitter) Send(ctx context.Context, pattern string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, pattern)
	return nil
}

type fakeSink struct {
	results []TrialResult
	err     error
}

func (f *fakeSink) Append(ctx context.Context, r TrialResult) error {
	if f.err != nil {
		return f.err
	}
	f.results = append(f.results, r)
	return nil
}

type fakeCapturer struct {
	labels []string
	ref    string
	err    error
}

func (f *fakeCapturer) Capture(ctx context.Context, label string) (string, error) {
	f.labels = append(f.labels, label)
	return f.ref, f.err
}

var (
	blinkingVerdict = Verdict{Percentage: 55, Blinking: true, Samples: 200, Threshold: DefaultBlinkThreshold}
	darkVerdict     = Verdict{Percentage: 1.5, Blinking: false, Samples: 200, Threshold: DefaultBlinkThreshold}
)

var testStart = time.Date(2026, 10, 17, 9, 30, 0, 0, time.Local)

func newTestMachine(t *testing.T, src PatternSource, tx Transmitter, sink ResultSink, capturer ArtifactCapturer) *Machine {
	clk := clock.NewMock()
	clk.Set(testStart)
	return NewMachine(MachineConfig{Clock: clk}, src, tx, sink, capturer, logging.NewTestLogger(t))
}

func verdictFor(value float64, samples int) Verdict {
	i := NewIntegrator(DefaultBlinkThreshold)
	for n := 0; n < samples; n++ {
		i.Add(value)
	}
	return i.Close()
}

func mustStep(t *testing.T, m *Machine, v Verdict) TestState {
	t.Helper()
	next, err := m.Step(context.Background(), v)
	if err != nil {
		t.Fatalf("Step from %s failed: %v", m.State(), err)
	}
	return next
}

func TestMachine_Defaults(t *testing.T) {
	m := newTestMachine(t, &fakeSource{}, &fakeTransmitter{}, &fakeSink{}, nil)
	if m.State() != StateTxSafe {
		t.Errorf("expected initial state tx_safe, got %s", m.State())
	}
	if m.cfg.KnownGood != KnownGoodPattern || m.cfg.KnownBad != KnownBadPattern {
		t.Errorf("expected default calibration patterns, got %q / %q", m.cfg.KnownGood, m.cfg.KnownBad)
	}
	if m.cfg.Window != DefaultStepWindow {
		t.Errorf("expected default window, got %v", m.cfg.Window)
	}
}

func TestMachine_FullTrial(t *testing.T) {
	src := &fakeSource{patterns: []string{"1100110011", "0000111100"}}
	tx := &fakeTransmitter{}
	sink := &fakeSink{}
	m := newTestMachine(t, src, tx, sink, nil)

	steps := []struct {
		verdict Verdict
		want    TestState
	}{
		{darkVerdict, StateCheckAfterSafe},
		{blinkingVerdict, StateTxBad},
		{blinkingVerdict, StateWaitInertial},
		{darkVerdict, StateCheckStopped},
		{darkVerdict, StateTxTest},
		{darkVerdict, StateCheckAfterTest},
		{blinkingVerdict, StateTxSafe},
		{darkVerdict, StateCheckAfterSafe},
		{blinkingVerdict, StateTxBad},
		{blinkingVerdict, StateWaitInertial},
		{darkVerdict, StateCheckStopped},
		{darkVerdict, StateTxTest},
		{darkVerdict, StateCheckAfterTest},
		{darkVerdict, StateTxSafe},
		{darkVerdict, StateCheckAfterSafe},
		{blinkingVerdict, StateTxBad},
		{blinkingVerdict, StateWaitInertial},
		{darkVerdict, StateCheckStopped},
		{darkVerdict, StateTxTest},
		{darkVerdict, StateExit},
	}
	for i, s := range steps {
		if got := mustStep(t, m, s.verdict); got != s.want {
			t.Fatalf("step %d: expected %s, got %s", i, s.want, got)
		}
	}

	wantSent := []string{
		KnownGoodPattern, KnownBadPattern, "1100110011",
		KnownGoodPattern, KnownBadPattern, "0000111100",
		KnownGoodPattern, KnownBadPattern,
	}
	if len(tx.sent) != len(wantSent) {
		t.Fatalf("expected %d transmissions, got %v", len(wantSent), tx.sent)
	}
	for i := range wantSent {
		if tx.sent[i] != wantSent[i] {
			t.Errorf("transmission %d: expected %s, got %s", i, wantSent[i], tx.sent[i])
		}
	}

	if len(sink.results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(sink.results))
	}
	if sink.results[0].Pattern != "1100110011" || sink.results[0].Outcome != OutcomePass {
		t.Errorf("unexpected first result: %+v", sink.results[0])
	}
	if sink.results[1].Pattern != "0000111100" || sink.results[1].Outcome != OutcomeFail {
		t.Errorf("unexpected second result: %+v", sink.results[1])
	}

	snap := m.Snapshot()
	if snap.Trials != 2 || snap.Passes != 1 || snap.Resets != 0 {
		t.Errorf("unexpected counters: %+v", snap)
	}

	// Exit is terminal
	if got := mustStep(t, m, blinkingVerdict); got != StateExit {
		t.Errorf("expected exit to stay exit, got %s", got)
	}
}

func TestMachine_CheckAfterSafe(t *testing.T) {
	t.Run("blinking at 60/255 moves on to tx_bad", func(t *testing.T) {
		m := newTestMachine(t, &fakeSource{}, &fakeTransmitter{}, &fakeSink{}, nil)
		m.state = StateCheckAfterSafe

		v := verdictFor(60, 210)
		if got := mustStep(t, m, v); got != StateTxBad {
			t.Errorf("expected tx_bad at %.2f%%, got %s", v.Percentage, got)
		}
	})

	t.Run("dark at 5/255 resets through error_recoverable", func(t *testing.T) {
		m := newTestMachine(t, &fakeSource{}, &fakeTransmitter{}, &fakeSink{}, nil)
		m.state = StateCheckAfterSafe

		v := verdictFor(5, 210)
		if got := mustStep(t, m, v); got != StateErrorRecoverable {
			t.Fatalf("expected error_recoverable at %.2f%%, got %s", v.Percentage, got)
		}
		if got := mustStep(t, m, v); got != StateTxSafe {
			t.Errorf("expected tx_safe after error_recoverable, got %s", got)
		}
		if m.Snapshot().Resets != 1 {
			t.Errorf("expected 1 reset, got %d", m.Snapshot().Resets)
		}
	})
}

func TestMachine_CheckStoppedStillBlinking(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMachine(t, &fakeSource{}, &fakeTransmitter{}, sink, nil)
	m.state = StateCheckStopped

	if got := mustStep(t, m, blinkingVerdict); got != StateErrorRecoverable {
		t.Fatalf("expected error_recoverable, got %s", got)
	}
	if got := mustStep(t, m, darkVerdict); got != StateTxSafe {
		t.Errorf("expected tx_safe, got %s", got)
	}
	if len(sink.results) != 0 {
		t.Errorf("expected no results on the error path, got %d", len(sink.results))
	}
}

func TestMachine_TxTest(t *testing.T) {
	t.Run("short pattern exits without a result", func(t *testing.T) {
		src := &fakeSource{patterns: []string{"10", "1100110011"}}
		tx := &fakeTransmitter{}
		sink := &fakeSink{}
		m := newTestMachine(t, src, tx, sink, nil)
		m.state = StateTxTest

		if got := mustStep(t, m, darkVerdict); got != StateExit {
			t.Fatalf("expected exit, got %s", got)
		}
		if len(sink.results) != 0 {
			t.Errorf("expected no results, got %d", len(sink.results))
		}
		if len(tx.sent) != 0 {
			t.Errorf("expected the sentinel not to be transmitted, got %v", tx.sent)
		}
	})

	t.Run("three characters is still the sentinel", func(t *testing.T) {
		m := newTestMachine(t, &fakeSource{patterns: []string{"101"}}, &fakeTransmitter{}, &fakeSink{}, nil)
		m.state = StateTxTest
		if got := mustStep(t, m, darkVerdict); got != StateExit {
			t.Errorf("expected exit for a 3-character pattern, got %s", got)
		}
	})

	t.Run("exhausted source exits", func(t *testing.T) {
		m := newTestMachine(t, &fakeSource{}, &fakeTransmitter{}, &fakeSink{}, nil)
		m.state = StateTxTest
		if got := mustStep(t, m, darkVerdict); got != StateExit {
			t.Errorf("expected exit, got %s", got)
		}
	})

	t.Run("four characters is a candidate", func(t *testing.T) {
		tx := &fakeTransmitter{}
		m := newTestMachine(t, &fakeSource{patterns: []string{"1010"}}, tx, &fakeSink{}, nil)
		m.state = StateTxTest
		if got := mustStep(t, m, darkVerdict); got != StateCheckAfterTest {
			t.Fatalf("expected check_after_test, got %s", got)
		}
		if len(tx.sent) != 1 || tx.sent[0] != "1010" {
			t.Errorf("expected candidate to be transmitted, got %v", tx.sent)
		}
		if m.Snapshot().Candidate != "1010" {
			t.Errorf("expected candidate under test, got %q", m.Snapshot().Candidate)
		}
	})

	t.Run("source failure is returned", func(t *testing.T) {
		m := newTestMachine(t, &fakeSource{err: errors.New("disk gone")}, &fakeTransmitter{}, &fakeSink{}, nil)
		m.state = StateTxTest
		if _, err := m.Step(context.Background(), darkVerdict); err == nil {
			t.Error("expected error from failing source")
		}
		if m.State() != StateTxTest {
			t.Errorf("expected machine to stay at tx_test, got %s", m.State())
		}
	})
}

func TestMachine_CheckAfterTest(t *testing.T) {
	t.Run("pass appends a result and captures an artifact", func(t *testing.T) {
		sink := &fakeSink{}
		capturer := &fakeCapturer{ref: "snap-1"}
		m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, sink, capturer)
		m.state = StateTxTest
		mustStep(t, m, darkVerdict)

		if got := mustStep(t, m, blinkingVerdict); got != StateTxSafe {
			t.Fatalf("expected tx_safe, got %s", got)
		}
		if len(sink.results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(sink.results))
		}
		r := sink.results[0]
		if r.Pattern != "1100110011" || r.Outcome != OutcomePass {
			t.Errorf("unexpected result: %+v", r)
		}
		if r.Percentage != blinkingVerdict.Percentage {
			t.Errorf("expected percentage %v, got %v", blinkingVerdict.Percentage, r.Percentage)
		}
		if r.Threshold != DefaultBlinkThreshold || r.Window != DefaultStepWindow {
			t.Errorf("expected threshold and window in result, got %v / %v", r.Threshold, r.Window)
		}
		if !r.Timestamp.Equal(testStart) {
			t.Errorf("expected timestamp %v, got %v", testStart, r.Timestamp)
		}
		if r.Artifact != "snap-1" {
			t.Errorf("expected artifact snap-1, got %q", r.Artifact)
		}
		wantLabel := "1100110011_2026-10-17_09_30_00"
		if len(capturer.labels) != 1 || capturer.labels[0] != wantLabel {
			t.Errorf("expected capture label %s, got %v", wantLabel, capturer.labels)
		}
	})

	t.Run("records the threshold the verdict was judged against", func(t *testing.T) {
		sink := &fakeSink{}
		m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, sink, nil)
		m.state = StateTxTest
		mustStep(t, m, darkVerdict)

		i := NewIntegrator(40)
		i.Add(60)
		v := i.Close()
		mustStep(t, m, v)

		if len(sink.results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(sink.results))
		}
		r := sink.results[0]
		if r.Outcome != OutcomeFail || r.Threshold != 40 {
			t.Errorf("expected FAIL at threshold 40 for %.2f%%, got %s at %v", r.Percentage, r.Outcome, r.Threshold)
		}
	})

	t.Run("fail appends a result without capture", func(t *testing.T) {
		sink := &fakeSink{}
		capturer := &fakeCapturer{ref: "snap-1"}
		m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, sink, capturer)
		m.state = StateTxTest
		mustStep(t, m, darkVerdict)
		mustStep(t, m, darkVerdict)

		if len(sink.results) != 1 || sink.results[0].Outcome != OutcomeFail {
			t.Fatalf("expected one FAIL result, got %+v", sink.results)
		}
		if sink.results[0].Artifact != "" {
			t.Errorf("expected no artifact on FAIL, got %q", sink.results[0].Artifact)
		}
		if len(capturer.labels) != 0 {
			t.Errorf("expected no capture on FAIL, got %v", capturer.labels)
		}
	})

	t.Run("capture failure does not fail the trial", func(t *testing.T) {
		sink := &fakeSink{}
		capturer := &fakeCapturer{err: errors.New("camera busy")}
		m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, sink, capturer)
		m.state = StateTxTest
		mustStep(t, m, darkVerdict)

		if got := mustStep(t, m, blinkingVerdict); got != StateTxSafe {
			t.Fatalf("expected tx_safe, got %s", got)
		}
		if len(sink.results) != 1 || sink.results[0].Outcome != OutcomePass {
			t.Fatalf("expected a PASS result, got %+v", sink.results)
		}
		if sink.results[0].Artifact != "" {
			t.Errorf("expected empty artifact after failed capture, got %q", sink.results[0].Artifact)
		}
	})

	t.Run("sink failure is returned", func(t *testing.T) {
		m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, &fakeSink{err: errors.New("disk full")}, nil)
		m.state = StateTxTest
		mustStep(t, m, darkVerdict)

		if _, err := m.Step(context.Background(), blinkingVerdict); err == nil {
			t.Error("expected error from failing sink")
		}
		if m.State() != StateCheckAfterTest {
			t.Errorf("expected machine to stay at check_after_test, got %s", m.State())
		}
	})

	t.Run("only one result per candidate", func(t *testing.T) {
		sink := &fakeSink{}
		m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, sink, nil)
		m.state = StateTxTest
		mustStep(t, m, darkVerdict)
		mustStep(t, m, blinkingVerdict)

		m.state = StateCheckAfterTest
		if got := mustStep(t, m, blinkingVerdict); got != StateTxSafe {
			t.Errorf("expected tx_safe, got %s", got)
		}
		if len(sink.results) != 1 {
			t.Errorf("expected exactly 1 result, got %d", len(sink.results))
		}
	})
}

func TestMachine_NoResultOutsideCheckAfterTest(t *testing.T) {
	for _, state := range []TestState{
		StateTxSafe, StateCheckAfterSafe, StateTxBad, StateWaitInertial,
		StateCheckStopped, StateErrorRecoverable, StateExit, TestState(99),
	} {
		for _, v := range []Verdict{blinkingVerdict, darkVerdict} {
			sink := &fakeSink{}
			m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, sink, nil)
			m.state = state
			mustStep(t, m, v)
			if len(sink.results) != 0 {
				t.Errorf("state %s wrote %d results", state, len(sink.results))
			}
		}
	}
}

func TestMachine_UnknownState(t *testing.T) {
	tx := &fakeTransmitter{}
	m := newTestMachine(t, &fakeSource{}, tx, &fakeSink{}, nil)
	m.state = TestState(42)

	next, err := m.Step(context.Background(), blinkingVerdict)
	if err != nil {
		t.Fatalf("unknown state must not fail: %v", err)
	}
	if next != StateTxSafe {
		t.Errorf("expected tx_safe after unknown state, got %s", next)
	}
	if m.Snapshot().Resets != 1 {
		t.Errorf("expected unknown state to count as a reset, got %d", m.Snapshot().Resets)
	}
	if len(tx.sent) != 0 {
		t.Errorf("expected no transmission from unknown state, got %v", tx.sent)
	}
	if got := TestState(42).String(); got != "TestState(42)" {
		t.Errorf("unexpected String for unknown state: %s", got)
	}
}

func TestMachine_TransmitFailure(t *testing.T) {
	m := newTestMachine(t, &fakeSource{}, &fakeTransmitter{err: errors.New("port unplugged")}, &fakeSink{}, nil)

	if _, err := m.Step(context.Background(), darkVerdict); err == nil {
		t.Error("expected transmit failure to be returned")
	}
	if m.State() != StateTxSafe {
		t.Errorf("expected machine to stay at tx_safe, got %s", m.State())
	}
}

func TestMachine_Abort(t *testing.T) {
	m := newTestMachine(t, &fakeSource{patterns: []string{"1100110011"}}, &fakeTransmitter{}, &fakeSink{}, nil)
	m.state = StateTxTest
	mustStep(t, m, darkVerdict)

	m.Abort()
	snap := m.Snapshot()
	if snap.State != StateExit {
		t.Errorf("expected exit after abort, got %s", snap.State)
	}
	if snap.Candidate != "" {
		t.Errorf("expected candidate cleared after abort, got %q", snap.Candidate)
	}
}
