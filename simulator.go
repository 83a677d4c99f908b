package blinkbench

import (
	"context"
	"sync"
)

const (
	simulatedBright = 255.0
	simulatedDim    = 60.0
	simulatedDark   = 5.0
)

// simulatedReceiver stands in for the receiver, its indicator and the camera.
// It blinks after any pattern in its match set and goes dark after anything else.
type simulatedReceiver struct {
	mu       sync.Mutex
	matches  map[string]bool
	blinking bool
	bright   bool
	sent     []string
}

func newSimulatedReceiver(knownGood string, matches []string) *simulatedReceiver {
	set := map[string]bool{knownGood: true}
	for _, p := range matches {
		set[p] = true
	}
	return &simulatedReceiver{matches: set}
}

func (s *simulatedReceiver) Send(ctx context.Context, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, pattern)
	s.blinking = s.matches[pattern]
	return nil
}

func (s *simulatedReceiver) ReadIntensity(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blinking {
		return simulatedDark, nil
	}
	s.bright = !s.bright
	if s.bright {
		return simulatedBright, nil
	}
	return simulatedDim, nil
}

func (s *simulatedReceiver) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}
