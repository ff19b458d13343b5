package agent

import (
	"fmt"
	"log/slog"

	"valve-go-home/internal/relay"
	"valve-go-home/internal/store"
	"valve-go-home/internal/valve"
)

// NewValveFactory builds positioners wired to relays of board. A device
// without a model uses defaultModel.
func NewValveFactory(board relay.Board, models map[string]valve.Model, defaultModel string, logger *slog.Logger) Factory {
	return func(dev *store.DeviceConfig) (Positioner, error) {
		name := dev.Model
		if name == "" {
			name = defaultModel
		}
		model, ok := valve.LookupModel(models, name)
		if !ok {
			return nil, fmt.Errorf("unknown valve model %q", name)
		}

		sw, err := board.Switch(dev.PinRelayOpen, dev.PinRelayClose)
		if err != nil {
			return nil, fmt.Errorf("relay switch: %w", err)
		}
		act, err := valve.NewRelayActuator(sw)
		if err != nil {
			return nil, fmt.Errorf("release relays: %w", err)
		}
		return valve.NewPositionController(act, model, logger.With("device_id", dev.ID)), nil
	}
}
