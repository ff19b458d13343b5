package valve

import (
	"errors"
	"fmt"
	"time"
)

// Direction selects which of the two relays is pulsed.
type Direction string

const (
	DirectionOpen  Direction = "open"
	DirectionClose Direction = "close"
)

// ErrInvalidDirection is returned for any direction other than open/close.
var ErrInvalidDirection = errors.New("invalid direction")

func (d Direction) valid() bool {
	return d == DirectionOpen || d == DirectionClose
}

// Actuator drives a valve motor for a raw duration. It has no notion of
// position.
type Actuator interface {
	Actuate(dir Direction, durationMs int) error
}

// Switch energizes or releases the relay wired to one direction.
// Implementations live in package relay.
type Switch interface {
	Set(dir Direction, energized bool) error
}

// RelayActuator implements Actuator on top of a pair of relays.
type RelayActuator struct {
	sw    Switch
	sleep func(time.Duration)
}

// NewRelayActuator releases both relays, so the valve starts at rest, and
// returns an actuator that pulses them.
func NewRelayActuator(sw Switch) (*RelayActuator, error) {
	for _, dir := range []Direction{DirectionOpen, DirectionClose} {
		if err := sw.Set(dir, false); err != nil {
			return nil, fmt.Errorf("release %s relay: %w", dir, err)
		}
	}
	return &RelayActuator{sw: sw, sleep: time.Sleep}, nil
}

// Actuate energizes the relay for dir, holds it for durationMs and releases
// it. A zero duration does not touch the relay at all. The pulse is never
// interrupted once started.
func (a *RelayActuator) Actuate(dir Direction, durationMs int) error {
	if !dir.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if durationMs < 0 {
		return fmt.Errorf("negative duration %dms", durationMs)
	}
	if durationMs == 0 {
		return nil
	}

	if err := a.sw.Set(dir, true); err != nil {
		// The write may have partially applied; always try to release.
		_ = a.sw.Set(dir, false)
		return fmt.Errorf("energize %s relay: %w", dir, err)
	}
	a.sleep(time.Duration(durationMs) * time.Millisecond)
	if err := a.sw.Set(dir, false); err != nil {
		return fmt.Errorf("release %s relay: %w", dir, err)
	}
	return nil
}
