package blinkbench

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
)

const DefaultBaudRate = 9600

type SerialConfig struct {
	Port     string
	BaudRate int
}

// SerialTransmitter writes newline-terminated patterns to the TX emulator.
// The emulator sends nothing back.
type SerialTransmitter struct {
	mu   sync.Mutex
	name string
	port io.WriteCloser
}

func OpenSerialTransmitter(cfg SerialConfig) (*SerialTransmitter, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	options := serial.OpenOptions{
		PortName:        cfg.Port,
		BaudRate:        uint(baud),
		DataBits:        8,
		ParityMode:      serial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 0,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Port, err)
	}
	return newSerialTransmitter(cfg.Port, port), nil
}

func newSerialTransmitter(name string, port io.WriteCloser) *SerialTransmitter {
	return &SerialTransmitter{name: name, port: port}
}

func (t *SerialTransmitter) Send(ctx context.Context, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return fmt.Errorf("serial port %s is closed", t.name)
	}
	if _, err := io.WriteString(t.port, pattern+"\n"); err != nil {
		return fmt.Errorf("writing to %s: %w", t.name, err)
	}
	return nil
}

func (t *SerialTransmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
