package relay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"valve-go-home/internal/valve"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ModbusBoard drives the coils of a Modbus relay module. Pins are coil
// addresses.
type ModbusBoard struct {
	client  modbus.Client
	closeFn func() error
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewModbusBoard connects over RTU (cfg.Port) or TCP (cfg.TCPAddr).
func NewModbusBoard(cfg Config, logger *slog.Logger) (*ModbusBoard, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	slave := cfg.SlaveID
	if slave == 0 {
		slave = 1
	}

	b := &ModbusBoard{logger: logger}
	useTCP := strings.EqualFold(cfg.Type, "modbus-tcp") || (cfg.TCPAddr != "" && cfg.Port == "")
	if useTCP {
		h := modbus.NewTCPClientHandler(cfg.TCPAddr)
		h.Timeout = timeout
		h.SlaveId = slave
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("modbus tcp: connect %s: %w", cfg.TCPAddr, err)
		}
		b.client = modbus.NewClient(h)
		b.closeFn = h.Close
		logger.Info("modbus relay board ready", "addr", cfg.TCPAddr, "slave", slave)
		return b, nil
	}

	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	h := modbus.NewRTUClientHandler(cfg.Port)
	h.BaudRate = baud
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = slave
	h.Timeout = timeout
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus rtu: open %s: %w", cfg.Port, err)
	}
	b.client = modbus.NewClient(h)
	b.closeFn = h.Close
	logger.Info("modbus relay board ready", "port", cfg.Port, "baud", baud, "slave", slave)
	return b, nil
}

func (b *ModbusBoard) Switch(openPin, closePin int) (valve.Switch, error) {
	if openPin > 0xFFFF || closePin > 0xFFFF {
		return nil, fmt.Errorf("modbus: coil address out of range (%d, %d)", openPin, closePin)
	}
	return newPinSwitch(b, &b.mu, openPin, closePin)
}

func (b *ModbusBoard) writePin(pin int, energized bool) error {
	val := coilOff
	if energized {
		val = coilOn
	}
	if _, err := b.client.WriteSingleCoil(uint16(pin), val); err != nil {
		return fmt.Errorf("modbus: write coil %d: %w", pin, err)
	}
	return nil
}

func (b *ModbusBoard) Close() error {
	return b.closeFn()
}
