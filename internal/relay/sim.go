package relay

import (
	"log/slog"
	"sync"

	"valve-go-home/internal/valve"
)

// SimBoard keeps relay state in memory. Used when no hardware is attached.
type SimBoard struct {
	logger *slog.Logger
	mu     sync.Mutex
	pins   map[int]bool
	writes int
}

func NewSimBoard(logger *slog.Logger) *SimBoard {
	return &SimBoard{logger: logger, pins: make(map[int]bool)}
}

func (b *SimBoard) Switch(openPin, closePin int) (valve.Switch, error) {
	return newPinSwitch(b, &b.mu, openPin, closePin)
}

func (b *SimBoard) writePin(pin int, energized bool) error {
	b.pins[pin] = energized
	b.writes++
	b.logger.Debug("sim relay", "pin", pin, "energized", energized)
	return nil
}

// Energized reports the current state of pin.
func (b *SimBoard) Energized(pin int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins[pin]
}

// Writes counts relay writes since creation.
func (b *SimBoard) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *SimBoard) Close() error { return nil }
