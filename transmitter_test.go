package blinkbench

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

type fakePort struct {
	bytes.Buffer
	closed bool
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialTransmitter(t *testing.T) {
	t.Run("frames patterns with a newline", func(t *testing.T) {
		port := &fakePort{}
		tx := newSerialTransmitter("fake", port)

		for _, p := range []string{KnownGoodPattern, "1100110011"} {
			if err := tx.Send(context.Background(), p); err != nil {
				t.Fatalf("Send failed: %v", err)
			}
		}
		want := KnownGoodPattern + "\n1100110011\n"
		if port.String() != want {
			t.Errorf("expected %q on the wire, got %q", want, port.String())
		}
	})

	t.Run("send after close fails", func(t *testing.T) {
		port := &fakePort{}
		tx := newSerialTransmitter("fake", port)
		if err := tx.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if !port.closed {
			t.Error("expected port to be closed")
		}
		if err := tx.Send(context.Background(), KnownBadPattern); err == nil {
			t.Error("expected error sending on a closed port")
		}
		if err := tx.Close(); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
	})

	t.Run("cancelled context sends nothing", func(t *testing.T) {
		port := &fakePort{}
		tx := newSerialTransmitter("fake", port)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := tx.Send(ctx, KnownBadPattern); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if port.Len() != 0 {
			t.Errorf("expected nothing written, got %q", port.String())
		}
	})
}

func TestSimulatedReceiver(t *testing.T) {
	sim := newSimulatedReceiver(KnownGoodPattern, []string{"1100110011"})
	ctx := context.Background()

	readWindow := func() Verdict {
		i := NewIntegrator(DefaultBlinkThreshold)
		for n := 0; n < 7; n++ {
			v, err := sim.ReadIntensity(ctx)
			if err != nil {
				t.Fatalf("ReadIntensity failed: %v", err)
			}
			i.Add(v)
		}
		return i.Close()
	}

	if readWindow().Blinking {
		t.Error("expected a dark indicator before any transmission")
	}
	sim.Send(ctx, KnownGoodPattern)
	if !readWindow().Blinking {
		t.Error("expected blinking after the known-good pattern")
	}
	sim.Send(ctx, KnownBadPattern)
	if readWindow().Blinking {
		t.Error("expected dark after the known-bad pattern")
	}
	sim.Send(ctx, "1100110011")
	if !readWindow().Blinking {
		t.Error("expected blinking after a matching candidate")
	}
	sim.Send(ctx, "0000111100")
	if readWindow().Blinking {
		t.Error("expected dark after a non-matching candidate")
	}

	if got := len(sim.Sent()); got != 4 {
		t.Errorf("expected 4 recorded transmissions, got %d", got)
	}
}
