// Package controller owns the controller's device table and command
// mailboxes. All mutations of a device's config, status or pending command
// are serialized through a single Hub lock; bolt is the durable copy.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"valve-go-home/internal/metrics"
	"valve-go-home/internal/store"
	"valve-go-home/internal/valve"
)

var (
	ErrUnknownDevice      = errors.New("unknown device")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidMaintenance = errors.New("invalid maintenance settings")
	ErrInvalidDevice      = errors.New("invalid device")
)

// Command sources, recorded on mailbox entries and events.
const (
	SourceAPI        = "api"
	SourceMQTT       = "mqtt"
	SourceAutomation = "automation"
	SourceScheduler  = "scheduler"
)

const timeLayout = "15:04"

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records hub activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub is the controller's state container.
type Hub struct {
	mu      sync.Mutex
	store   store.Store
	mail    *mailbox
	events  *EventBus
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

func New(st store.Store, events *EventBus, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		store:  st,
		mail:   newMailbox(),
		events: events,
		now:    time.Now,
		logger: logger.With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Events() *EventBus { return h.events }

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// lookup translates store.ErrNotFound. Caller holds h.mu.
func (h *Hub) lookup(id string) (*store.DeviceConfig, error) {
	dev, err := h.store.GetDevice(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", id, err)
	}
	return dev, nil
}

// Device returns a copy of one device's configuration.
func (h *Hub) Device(id string) (*store.DeviceConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lookup(id)
}

// Devices returns every device ordered by id.
func (h *Hub) Devices() ([]*store.DeviceConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.ListDevices()
}

// DeviceSpec is the input of AddDevice. Empty fields take defaults.
type DeviceSpec struct {
	ID                   string
	Zone                 string
	ZoneColor            string
	PinRelayOpen         int
	PinRelayClose        int
	Model                string
	MaintenanceEnabled   bool
	MaintenanceTime      string
	MaintenanceFrequency store.Frequency
}

// AddDevice creates or replaces a device record. Replacing resets status
// and maintenance history; a pending command survives.
func (h *Hub) AddDevice(spec DeviceSpec) (*store.DeviceConfig, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidDevice)
	}
	if spec.PinRelayOpen == spec.PinRelayClose {
		return nil, fmt.Errorf("%w: open and close relay share pin %d", ErrInvalidDevice, spec.PinRelayOpen)
	}

	dev := &store.DeviceConfig{
		ID:                   id,
		Zone:                 spec.Zone,
		ZoneColor:            spec.ZoneColor,
		PinRelayOpen:         spec.PinRelayOpen,
		PinRelayClose:        spec.PinRelayClose,
		Model:                strings.ToLower(spec.Model),
		MaintenanceEnabled:   spec.MaintenanceEnabled,
		MaintenanceTime:      spec.MaintenanceTime,
		MaintenanceFrequency: spec.MaintenanceFrequency,
	}
	if dev.ZoneColor == "" {
		dev.ZoneColor = store.DefaultZoneColor
	}
	if dev.MaintenanceTime == "" {
		dev.MaintenanceTime = store.DefaultMaintenanceTime
	}
	if dev.MaintenanceFrequency == "" {
		dev.MaintenanceFrequency = store.FrequencyDaily
	}
	if err := validateSchedule(dev.MaintenanceTime, dev.MaintenanceFrequency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}

	h.mu.Lock()
	err := h.store.SaveDevice(dev)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save device %s: %w", id, err)
	}

	h.logger.Info("device added", "device_id", id, "zone", dev.Zone)
	h.events.Emit(newEvent(EventDeviceAdded, id, "zone", dev.Zone, "model", dev.Model))
	return dev, nil
}

// SetCommand validates cmd and deposits it in the device's mailbox,
// replacing any undelivered command. Percent commands also overwrite the
// recorded status with the expected position; the device's next report
// overwrites it again. An error leaves mailbox and status untouched.
func (h *Hub) SetCommand(id, raw, source string) (PendingCommand, error) {
	h.mu.Lock()
	dev, err := h.lookup(id)
	if err != nil {
		h.mu.Unlock()
		h.metrics.Rejected(metrics.ReasonUnknownDevice)
		return PendingCommand{}, err
	}

	cmd := valve.Command(raw)
	if !cmd.Valid() {
		h.mu.Unlock()
		h.metrics.Rejected(metrics.ReasonInvalidCommand)
		return PendingCommand{}, fmt.Errorf("%w: %q", ErrInvalidCommand, raw)
	}

	if pct, ok := cmd.Percent(); ok {
		dev.Status = &store.DeviceStatus{LastCommand: string(cmd), StatusOpenPercent: &pct}
		if err := h.store.SaveDevice(dev); err != nil {
			h.mu.Unlock()
			return PendingCommand{}, fmt.Errorf("save expected status for %s: %w", id, err)
		}
	}

	pc, replaced := h.mail.put(id, cmd, source, h.now())
	pending := h.mail.len()
	h.mu.Unlock()

	h.metrics.CommandSet(string(cmd), replaced != nil)
	h.metrics.SetPending(pending)
	if replaced != nil {
		h.logger.Debug("undelivered command replaced", "device_id", id, "old", replaced.Command, "new", cmd)
	}
	h.logger.Info("command set", "device_id", id, "command", cmd, "source", source, "command_id", pc.ID)
	h.events.Emit(newEvent(EventCommandSet, id, "command", string(cmd), "command_id", pc.ID, "source", source))
	return pc, nil
}

// TakeCommand returns the device's pending command and clears the slot.
// Unknown ids simply have no command.
func (h *Hub) TakeCommand(id string) (PendingCommand, bool) {
	h.mu.Lock()
	pc, ok := h.mail.take(id)
	pending := h.mail.len()
	h.mu.Unlock()

	if !ok {
		return PendingCommand{}, false
	}
	h.metrics.CommandDelivered()
	h.metrics.SetPending(pending)
	h.logger.Info("command delivered", "device_id", id, "command", pc.Command, "command_id", pc.ID)
	h.events.Emit(newEvent(EventCommandTaken, id, "command", string(pc.Command), "command_id", pc.ID))
	return pc, true
}

// PendingCommand reports the undelivered command without consuming it.
func (h *Hub) PendingCommand(id string) (PendingCommand, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mail.peek(id)
}

// ReportStatus records the position reported by the device.
func (h *Hub) ReportStatus(id string, st store.DeviceStatus) error {
	if st.StatusOpenPercent != nil && !valve.ValidPercent(*st.StatusOpenPercent) {
		h.metrics.Rejected(metrics.ReasonBadRequest)
		return fmt.Errorf("%w: status_open_percent %d", ErrInvalidStatus, *st.StatusOpenPercent)
	}

	h.mu.Lock()
	err := h.store.UpdateDevice(id, func(dev *store.DeviceConfig) error {
		s := st
		if st.StatusOpenPercent != nil {
			p := *st.StatusOpenPercent
			s.StatusOpenPercent = &p
		}
		dev.Status = &s
		return nil
	})
	h.mu.Unlock()
	if errors.Is(err, store.ErrNotFound) {
		h.metrics.Rejected(metrics.ReasonUnknownDevice)
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err != nil {
		return fmt.Errorf("save status for %s: %w", id, err)
	}

	h.metrics.StatusReported()
	var pct interface{}
	if st.StatusOpenPercent != nil {
		pct = *st.StatusOpenPercent
	}
	h.logger.Debug("status reported", "device_id", id, "percent", pct, "last_command", st.LastCommand)
	h.events.Emit(newEvent(EventStatusReported, id, "status_open_percent", pct, "last_command", st.LastCommand))
	return nil
}

// Status returns the last recorded status, or nil if the device never
// reported and no command was set.
func (h *Hub) Status(id string) (*store.DeviceStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, err := h.lookup(id)
	if err != nil {
		return nil, err
	}
	return dev.Status, nil
}

// MaintenanceSettings is the user-editable part of a device's maintenance
// schedule.
type MaintenanceSettings struct {
	Enabled   bool            `json:"enabled"`
	Time      string          `json:"time"`
	Frequency store.Frequency `json:"frequency"`
}

func validateSchedule(hhmm string, freq store.Frequency) error {
	if _, err := time.Parse(timeLayout, hhmm); err != nil {
		return fmt.Errorf("maintenance_time %q is not HH:MM", hhmm)
	}
	if !freq.Valid() {
		return fmt.Errorf("maintenance_frequency %q must be daily, weekly or monthly", freq)
	}
	return nil
}

// SetMaintenance replaces the device's maintenance schedule. The last
// maintenance date is kept.
func (h *Hub) SetMaintenance(id string, ms MaintenanceSettings) error {
	if err := validateSchedule(ms.Time, ms.Frequency); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMaintenance, err)
	}

	h.mu.Lock()
	err := h.store.UpdateDevice(id, func(dev *store.DeviceConfig) error {
		dev.MaintenanceEnabled = ms.Enabled
		dev.MaintenanceTime = ms.Time
		dev.MaintenanceFrequency = ms.Frequency
		return nil
	})
	h.mu.Unlock()
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err != nil {
		return fmt.Errorf("save maintenance for %s: %w", id, err)
	}

	h.logger.Info("maintenance updated", "device_id", id, "enabled", ms.Enabled, "time", ms.Time, "frequency", ms.Frequency)
	h.events.Emit(newEvent(EventMaintenanceUpdated, id,
		"enabled", ms.Enabled, "time", ms.Time, "frequency", string(ms.Frequency)))
	return nil
}

func (h *Hub) Maintenance(id string) (MaintenanceSettings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dev, err := h.lookup(id)
	if err != nil {
		return MaintenanceSettings{}, err
	}
	freq := dev.MaintenanceFrequency
	if freq == "" {
		freq = store.FrequencyDaily
	}
	return MaintenanceSettings{
		Enabled:   dev.MaintenanceEnabled,
		Time:      dev.MaintenanceTime,
		Frequency: freq,
	}, nil
}

// DueFunc decides whether a device's maintenance should fire at now.
type DueFunc func(dev *store.DeviceConfig, now time.Time) bool

// SweepMaintenance evaluates every enabled device under the hub lock. Due
// devices get their last maintenance date set to today, persisted in a
// single transaction, and a maintenance command in their mailbox. Nothing
// is queued if the write fails. Returns the triggered device ids.
func (h *Hub) SweepMaintenance(now time.Time, due DueFunc) ([]string, error) {
	h.mu.Lock()
	devices, err := h.store.ListDevices()
	if err != nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var (
		changed []*store.DeviceConfig
		enabled int
	)
	for _, dev := range devices {
		if !dev.MaintenanceEnabled {
			continue
		}
		enabled++
		if !due(dev, now) {
			continue
		}
		dev.LastMaintenanceDate = now.Format(store.DateLayout)
		changed = append(changed, dev)
	}
	if err := h.store.SaveDevices(changed); err != nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("persist sweep: %w", err)
	}

	queued := make([]PendingCommand, len(changed))
	replaced := make([]bool, len(changed))
	for i, dev := range changed {
		var old *PendingCommand
		queued[i], old = h.mail.put(dev.ID, valve.CommandMaintenance, SourceScheduler, now)
		replaced[i] = old != nil
	}
	pending := h.mail.len()
	h.mu.Unlock()

	h.metrics.SweepEvaluated(enabled)
	h.metrics.SetPending(pending)

	ids := make([]string, len(changed))
	for i, dev := range changed {
		ids[i] = dev.ID
		pc := queued[i]
		h.metrics.MaintenanceTriggered(string(dev.MaintenanceFrequency))
		h.metrics.CommandSet(string(pc.Command), replaced[i])
		h.logger.Info("maintenance triggered", "device_id", dev.ID, "frequency", dev.MaintenanceFrequency, "command_id", pc.ID)
		h.events.Emit(newEvent(EventMaintenanceTriggered, dev.ID,
			"frequency", string(dev.MaintenanceFrequency), "date", dev.LastMaintenanceDate, "command_id", pc.ID))
		h.events.Emit(newEvent(EventCommandSet, dev.ID, "command", string(pc.Command), "command_id", pc.ID, "source", SourceScheduler))
	}
	return ids, nil
}

// Zone groups devices sharing a zone name.
type Zone struct {
	Color   string   `json:"color"`
	Devices []string `json:"devices"`
}

// Zones groups devices by zone in id order. Devices without a zone are
// left out; the first device of a zone sets its color.
func (h *Hub) Zones() (map[string]*Zone, error) {
	devices, err := h.Devices()
	if err != nil {
		return nil, err
	}
	zones := make(map[string]*Zone)
	for _, dev := range devices {
		if dev.Zone == "" {
			continue
		}
		z, ok := zones[dev.Zone]
		if !ok {
			color := dev.ZoneColor
			if color == "" {
				color = store.DefaultZoneColor
			}
			z = &Zone{Color: color}
			zones[dev.Zone] = z
		}
		z.Devices = append(z.Devices, dev.ID)
	}
	return zones, nil
}
