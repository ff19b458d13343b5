package relay

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"valve-go-home/internal/valve"
)

const lcusHeader = 0xA0

// SerialBoard drives an LCUS-style USB relay board. Pins are 1-based
// channel numbers.
type SerialBoard struct {
	port   io.WriteCloser
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSerialBoard opens the board's serial port.
func NewSerialBoard(portName string, baud int, logger *slog.Logger) (*SerialBoard, error) {
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial relay: open %s: %w", portName, err)
	}
	logger.Info("serial relay board ready", "port", portName, "baud", baud)
	return newSerialBoard(port, logger), nil
}

func newSerialBoard(port io.WriteCloser, logger *slog.Logger) *SerialBoard {
	return &SerialBoard{port: port, logger: logger}
}

// lcusFrame encodes a switch command: header, channel, state, checksum.
func lcusFrame(channel int, energized bool) []byte {
	var state byte
	if energized {
		state = 1
	}
	ch := byte(channel)
	return []byte{lcusHeader, ch, state, lcusHeader + ch + state}
}

func (b *SerialBoard) Switch(openPin, closePin int) (valve.Switch, error) {
	if openPin < 1 || closePin < 1 || openPin > 0xFF || closePin > 0xFF {
		return nil, fmt.Errorf("serial relay: channels must be 1-255, got %d, %d", openPin, closePin)
	}
	return newPinSwitch(b, &b.mu, openPin, closePin)
}

func (b *SerialBoard) writePin(pin int, energized bool) error {
	if _, err := b.port.Write(lcusFrame(pin, energized)); err != nil {
		return fmt.Errorf("serial relay: channel %d: %w", pin, err)
	}
	return nil
}

func (b *SerialBoard) Close() error {
	return b.port.Close()
}
