// Package relay provides the relay boards that drive valve motors. Each
// board exposes per-valve switches implementing valve.Switch.
package relay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"valve-go-home/internal/valve"
)

// Config selects and parameterizes a relay board.
type Config struct {
	Type      string // "gpio", "modbus-rtu", "modbus-tcp", "serial", "sim"
	ActiveLow bool
	Port      string
	Baud      int
	TCPAddr   string
	SlaveID   byte
	Timeout   time.Duration
}

// Board is a bank of relays addressed by pin or channel number.
type Board interface {
	// Switch returns the relay pair for one valve.
	Switch(openPin, closePin int) (valve.Switch, error)
	Close() error
}

// pinWriter is the primitive every board implements.
type pinWriter interface {
	writePin(pin int, energized bool) error
}

// Open creates the board described by cfg.
func Open(cfg Config, logger *slog.Logger) (Board, error) {
	logger = logger.With("component", "relay", "type", cfg.Type)
	switch strings.ToLower(cfg.Type) {
	case "gpio":
		return NewGPIOBoard(cfg.ActiveLow, logger)
	case "modbus-rtu", "modbus-tcp", "modbus":
		return NewModbusBoard(cfg, logger)
	case "serial":
		return NewSerialBoard(cfg.Port, cfg.Baud, logger)
	case "sim", "":
		return NewSimBoard(logger), nil
	default:
		return nil, fmt.Errorf("unknown relay type: %q (supported: gpio, modbus-rtu, modbus-tcp, serial, sim)", cfg.Type)
	}
}

// pinSwitch maps valve directions onto two pins of a shared board.
type pinSwitch struct {
	w        pinWriter
	openPin  int
	closePin int
	mu       *sync.Mutex
}

func newPinSwitch(w pinWriter, mu *sync.Mutex, openPin, closePin int) (*pinSwitch, error) {
	if openPin == closePin {
		return nil, fmt.Errorf("open and close relay share pin %d", openPin)
	}
	if openPin < 0 || closePin < 0 {
		return nil, fmt.Errorf("negative relay pin (%d, %d)", openPin, closePin)
	}
	return &pinSwitch{w: w, mu: mu, openPin: openPin, closePin: closePin}, nil
}

func (s *pinSwitch) Set(dir valve.Direction, energized bool) error {
	var pin int
	switch dir {
	case valve.DirectionOpen:
		pin = s.openPin
	case valve.DirectionClose:
		pin = s.closePin
	default:
		return fmt.Errorf("%w: %q", valve.ErrInvalidDirection, dir)
	}
	// Boards are shared by every valve loop on the agent.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.writePin(pin, energized)
}
