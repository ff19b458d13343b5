package relay

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"gobot.io/x/gobot/drivers/gpio"
	"gobot.io/x/gobot/platforms/raspi"

	"valve-go-home/internal/valve"
)

// GPIOBoard drives relays wired to Raspberry Pi header pins.
type GPIOBoard struct {
	adaptor   *raspi.Adaptor
	activeLow bool
	logger    *slog.Logger

	mu      sync.Mutex
	drivers map[int]*gpio.RelayDriver
}

// NewGPIOBoard connects to the Pi GPIO. Relay modules that switch on a low
// level need activeLow.
func NewGPIOBoard(activeLow bool, logger *slog.Logger) (*GPIOBoard, error) {
	a := raspi.NewAdaptor()
	if err := a.Connect(); err != nil {
		return nil, fmt.Errorf("gpio: connect: %w", err)
	}
	logger.Info("gpio relay board ready", "active_low", activeLow)
	return &GPIOBoard{
		adaptor:   a,
		activeLow: activeLow,
		logger:    logger,
		drivers:   make(map[int]*gpio.RelayDriver),
	}, nil
}

func (b *GPIOBoard) driver(pin int) (*gpio.RelayDriver, error) {
	if d, ok := b.drivers[pin]; ok {
		return d, nil
	}
	d := gpio.NewRelayDriver(b.adaptor, strconv.Itoa(pin))
	d.Inverted = b.activeLow
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("gpio: start relay on pin %d: %w", pin, err)
	}
	b.drivers[pin] = d
	return d, nil
}

func (b *GPIOBoard) Switch(openPin, closePin int) (valve.Switch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pin := range []int{openPin, closePin} {
		if _, err := b.driver(pin); err != nil {
			return nil, err
		}
	}
	return newPinSwitch(b, &b.mu, openPin, closePin)
}

func (b *GPIOBoard) writePin(pin int, energized bool) error {
	d, err := b.driver(pin)
	if err != nil {
		return err
	}
	if energized {
		return d.On()
	}
	return d.Off()
}

// Close releases every relay before disconnecting.
func (b *GPIOBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pin, d := range b.drivers {
		if err := d.Off(); err != nil {
			b.logger.Warn("gpio: release relay", "pin", pin, "err", err)
		}
	}
	return b.adaptor.Finalize()
}
