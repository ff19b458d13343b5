package valve

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInvalidPercent is returned for targets outside Percents.
var ErrInvalidPercent = errors.New("invalid percent")

// Phase is the step of a positioning sequence currently running.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseOpening     Phase = "opening-to-reference"
	PhaseStabilize   Phase = "stabilizing"
	PhaseClosing     Phase = "closing-to-target"
	coldStartPercent       = 100
)

// PositionController converts target percentages into timed actuations.
// It is owned by a single device loop and is not safe for concurrent use.
type PositionController struct {
	act    Actuator
	model  Model
	logger *slog.Logger
	sleep  func(time.Duration)

	phase Phase
	last  int
}

// NewPositionController returns a controller that assumes the valve is
// fully open, the rest position of a de-energized valve.
func NewPositionController(act Actuator, model Model, logger *slog.Logger) *PositionController {
	return &PositionController{
		act:    act,
		model:  model,
		logger: logger.With("model", model.Name),
		sleep:  time.Sleep,
		phase:  PhaseIdle,
		last:   coldStartPercent,
	}
}

// LastKnownPercent is the position reached by the last completed sequence.
func (p *PositionController) LastKnownPercent() int {
	return p.last
}

// Phase reports the step in progress; PhaseIdle between sequences.
func (p *PositionController) Phase() Phase {
	return p.phase
}

func (p *PositionController) enter(ph Phase) {
	p.phase = ph
	p.logger.Debug("valve phase", "phase", ph)
}

// GoToPercent drives the valve fully open against the mechanical stop and,
// unless the target is 100, closes it by the amount needed to reach target.
// LastKnownPercent changes only if every pulse succeeds.
func (p *PositionController) GoToPercent(target int) error {
	if !ValidPercent(target) {
		return fmt.Errorf("%w: %d", ErrInvalidPercent, target)
	}
	defer p.enter(PhaseIdle)

	p.enter(PhaseOpening)
	if err := p.act.Actuate(DirectionOpen, p.model.FullOpenMs()); err != nil {
		return fmt.Errorf("open to reference: %w", err)
	}

	if target == 100 {
		p.last = 100
		return nil
	}

	p.enter(PhaseStabilize)
	p.sleep(p.model.Stabilization)

	p.enter(PhaseClosing)
	closeMs := p.model.CloseMs(100 - target)
	if err := p.act.Actuate(DirectionClose, closeMs); err != nil {
		return fmt.Errorf("close to %d%%: %w", target, err)
	}
	p.last = target
	p.logger.Debug("valve positioned", "percent", target, "close_ms", closeMs)
	return nil
}

// Maintenance exercises the full stroke: it closes the valve completely,
// dwells for closeDwell, and restores the position held before the cycle
// started. openDwell is not waited on; the cycle ends once the position is
// restored.
func (p *PositionController) Maintenance(closeDwell, openDwell time.Duration) error {
	original := p.last

	p.logger.Info("maintenance: closing valve", "restore_to", original, "open_dwell", openDwell)
	if err := p.GoToPercent(0); err != nil {
		return fmt.Errorf("maintenance close: %w", err)
	}

	p.logger.Info("maintenance: dwelling closed", "dwell", closeDwell)
	p.sleep(closeDwell)

	p.logger.Info("maintenance: restoring position", "percent", original)
	if err := p.GoToPercent(original); err != nil {
		return fmt.Errorf("maintenance restore: %w", err)
	}
	return nil
}
