package blinkbench

import (
	"math"
	"testing"
)

func TestIntegrator_EmptyWindow(t *testing.T) {
	i := NewIntegrator(DefaultBlinkThreshold)
	v := i.Close()
	if v.Percentage != 0 {
		t.Errorf("expected percentage=0 for empty window, got %v", v.Percentage)
	}
	if v.Blinking {
		t.Error("expected empty window to be not blinking")
	}
	if v.Samples != 0 {
		t.Errorf("expected 0 samples, got %d", v.Samples)
	}
}

func TestIntegrator_Percentage(t *testing.T) {
	t.Run("mean of 60 is above the default threshold", func(t *testing.T) {
		i := NewIntegrator(DefaultBlinkThreshold)
		for n := 0; n < 30; n++ {
			i.Add(60)
		}
		v := i.Close()
		want := 60 / 2.55
		if math.Abs(v.Percentage-want) > 1e-9 {
			t.Errorf("expected percentage=%v, got %v", want, v.Percentage)
		}
		if !v.Blinking {
			t.Errorf("expected blinking at %.2f%%", v.Percentage)
		}
	})

	t.Run("mean of 5 is below the default threshold", func(t *testing.T) {
		i := NewIntegrator(DefaultBlinkThreshold)
		for n := 0; n < 30; n++ {
			i.Add(5)
		}
		v := i.Close()
		if math.Abs(v.Percentage-5/2.55) > 1e-9 {
			t.Errorf("expected percentage=%v, got %v", 5/2.55, v.Percentage)
		}
		if v.Blinking {
			t.Errorf("expected not blinking at %.2f%%", v.Percentage)
		}
	})

	t.Run("averages mixed samples", func(t *testing.T) {
		i := NewIntegrator(DefaultBlinkThreshold)
		for _, s := range []float64{255, 0, 255, 0} {
			i.Add(s)
		}
		v := i.Close()
		if math.Abs(v.Percentage-50) > 1e-9 {
			t.Errorf("expected percentage=50, got %v", v.Percentage)
		}
		if v.Samples != 4 {
			t.Errorf("expected 4 samples, got %d", v.Samples)
		}
	})

	t.Run("is deterministic for the same sequence", func(t *testing.T) {
		seq := []float64{12, 200, 37, 90, 255, 3}
		a, b := NewIntegrator(20), NewIntegrator(20)
		for _, s := range seq {
			a.Add(s)
			b.Add(s)
		}
		if a.Close() != b.Close() {
			t.Error("expected identical verdicts for identical sequences")
		}
	})
}

func TestIntegrator_ThresholdIsStrict(t *testing.T) {
	i := NewIntegrator(20)
	// 51 / 2.55 is exactly 20
	i.Add(51)
	v := i.Close()
	if v.Percentage != 20 {
		t.Fatalf("expected percentage=20, got %v", v.Percentage)
	}
	if v.Blinking {
		t.Error("percentage equal to the threshold must not count as blinking")
	}

	i.Add(52)
	if !i.Close().Blinking {
		t.Error("expected blinking just above the threshold")
	}
}

func TestIntegrator_DefaultThreshold(t *testing.T) {
	for _, threshold := range []float64{0, -5} {
		i := NewIntegrator(threshold)
		// 10 / 2.55 is about 3.9%
		i.Add(10)
		v := i.Close()
		if v.Threshold != DefaultBlinkThreshold {
			t.Errorf("NewIntegrator(%v): expected threshold %v, got %v", threshold, DefaultBlinkThreshold, v.Threshold)
		}
		if v.Blinking {
			t.Errorf("NewIntegrator(%v): expected %.2f%% not to count as blinking", threshold, v.Percentage)
		}
	}
}

func TestIntegrator_CloseResetsWindow(t *testing.T) {
	i := NewIntegrator(20)
	i.Add(255)
	i.Add(255)
	if i.Pending() != 2 {
		t.Errorf("expected 2 pending samples, got %d", i.Pending())
	}

	first := i.Close()
	if !first.Blinking {
		t.Error("expected first window to be blinking")
	}
	if i.Pending() != 0 {
		t.Errorf("expected accumulator reset after Close, got %d pending", i.Pending())
	}

	i.Add(0)
	second := i.Close()
	if second.Percentage != 0 || second.Samples != 1 {
		t.Errorf("samples leaked across windows: %+v", second)
	}
}
