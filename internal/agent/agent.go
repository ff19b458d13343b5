// Package agent runs the device side: one polling loop per valve that
// fetches commands from the controller, moves the valve, and reports back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"valve-go-home/internal/client"
	"valve-go-home/internal/store"
	"valve-go-home/internal/valve"
)

// DefaultPollInterval is the pause between two iterations of a valve loop.
const DefaultPollInterval = time.Second

// ErrNoValves is returned by Init when no device ended up with a running
// loop.
var ErrNoValves = errors.New("no valves to drive")

// noCommand is reported as last_command until the first command runs.
const noCommand = "-"

// Controller is the part of the controller API the agent needs.
type Controller interface {
	Devices(ctx context.Context) (map[string]*store.DeviceConfig, error)
	TakeCommand(ctx context.Context, id string) (client.Command, bool, error)
	ReportStatus(ctx context.Context, id string, st store.DeviceStatus) error
}

// Positioner is the valve-side state machine, implemented by
// *valve.PositionController.
type Positioner interface {
	GoToPercent(target int) error
	Maintenance(closeDwell, openDwell time.Duration) error
	LastKnownPercent() int
}

// Factory builds the positioner for one device. An error excludes the
// device from polling.
type Factory func(dev *store.DeviceConfig) (Positioner, error)

type Config struct {
	PollInterval time.Duration
	CloseDwell   time.Duration
	OpenDwell    time.Duration
	// Devices restricts the agent to these ids; empty means all.
	Devices []string
}

type valveLoop struct {
	id          string
	pos         Positioner
	lastCommand string
	logger      *slog.Logger
}

// Agent owns the valve loops.
type Agent struct {
	ctrl    Controller
	factory Factory
	cfg     Config
	logger  *slog.Logger

	valves []*valveLoop
	wg     sync.WaitGroup
}

func New(ctrl Controller, factory Factory, cfg Config, logger *slog.Logger) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Agent{
		ctrl:    ctrl,
		factory: factory,
		cfg:     cfg,
		logger:  logger.With("component", "agent"),
	}
}

// Init fetches the device configurations once and builds a loop for every
// device that initializes. It fails when the fetch fails or when no device
// is left to drive.
func (a *Agent) Init(ctx context.Context) error {
	configs, err := a.ctrl.Devices(ctx)
	if err != nil {
		return fmt.Errorf("fetch device configs: %w", err)
	}

	allow := make(map[string]bool, len(a.cfg.Devices))
	for _, id := range a.cfg.Devices {
		allow[id] = true
	}

	ids := make([]string, 0, len(configs))
	for id := range configs {
		if len(allow) > 0 && !allow[id] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		dev := configs[id]
		dev.ID = id
		pos, err := a.factory(dev)
		if err != nil {
			a.logger.Error("valve init failed, skipping", "device_id", id, "err", err)
			continue
		}
		a.valves = append(a.valves, &valveLoop{
			id:          id,
			pos:         pos,
			lastCommand: noCommand,
			logger:      a.logger.With("device_id", id),
		})
	}

	for _, id := range a.cfg.Devices {
		if _, ok := configs[id]; !ok {
			a.logger.Warn("configured device unknown to controller", "device_id", id)
		}
	}
	if len(a.valves) == 0 {
		return fmt.Errorf("%w: %d candidate(s), %d configured on controller", ErrNoValves, len(ids), len(configs))
	}
	a.logger.Info("agent initialized", "devices", len(a.valves), "configured", len(configs))
	return nil
}

// Devices returns the ids of the active valves.
func (a *Agent) Devices() []string {
	ids := make([]string, len(a.valves))
	for i, v := range a.valves {
		ids[i] = v.id
	}
	return ids
}

// Run starts one loop per valve and blocks until ctx is done and every
// loop has returned. A loop finishes the actuation in progress before
// returning.
func (a *Agent) Run(ctx context.Context) {
	for _, v := range a.valves {
		a.wg.Add(1)
		go func(v *valveLoop) {
			defer a.wg.Done()
			a.loop(ctx, v)
		}(v)
	}
	a.wg.Wait()
	a.logger.Info("agent stopped")
}

func (a *Agent) loop(ctx context.Context, v *valveLoop) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := a.step(ctx, v); err != nil && ctx.Err() == nil {
			v.logger.Warn("loop iteration failed", "err", err)
		}
		timer.Reset(a.cfg.PollInterval)
	}
}

// step is one poll / execute / report iteration.
func (a *Agent) step(ctx context.Context, v *valveLoop) error {
	cmd, ok, err := a.ctrl.TakeCommand(ctx, v.id)
	if err != nil {
		return fmt.Errorf("poll command: %w", err)
	}
	if ok {
		if err := a.execute(v, cmd); err != nil {
			return err
		}
	}

	pct := v.pos.LastKnownPercent()
	st := store.DeviceStatus{LastCommand: v.lastCommand, StatusOpenPercent: &pct}
	// Report even when shutting down mid-iteration so the controller sees
	// where the valve stopped.
	rctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := a.ctrl.ReportStatus(rctx, v.id, st); err != nil {
		return fmt.Errorf("report status: %w", err)
	}
	return nil
}

// execute runs cmd to completion. Unknown commands are logged and dropped.
func (a *Agent) execute(v *valveLoop, cmd client.Command) error {
	c := valve.Command(cmd.Command)
	start := time.Now()
	switch {
	case c.IsMaintenance():
		v.logger.Info("maintenance started", "command_id", cmd.CommandID)
		if err := v.pos.Maintenance(a.cfg.CloseDwell, a.cfg.OpenDwell); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	default:
		pct, ok := c.Percent()
		if !ok || !valve.ValidPercent(pct) {
			v.logger.Warn("ignoring unrecognized command", "command", cmd.Command, "command_id", cmd.CommandID)
			return nil
		}
		v.logger.Info("moving valve", "command", cmd.Command, "from", v.pos.LastKnownPercent(), "command_id", cmd.CommandID)
		if err := v.pos.GoToPercent(pct); err != nil {
			return fmt.Errorf("go to %d%%: %w", pct, err)
		}
	}
	v.lastCommand = cmd.Command
	v.logger.Info("command done", "command", cmd.Command, "percent", v.pos.LastKnownPercent(), "took", time.Since(start).Round(time.Millisecond))
	return nil
}
