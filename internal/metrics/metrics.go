// Package metrics exposes controller counters in Prometheus format.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "valve"

// Rejection reasons.
const (
	ReasonUnknownDevice  = "unknown_device"
	ReasonInvalidCommand = "invalid_command"
	ReasonBadRequest     = "bad_request"
)

type Metrics struct {
	registry *prometheus.Registry

	commandsSet         *prometheus.CounterVec
	commandsDelivered   prometheus.Counter
	commandsReplaced    prometheus.Counter
	statusReports       prometheus.Counter
	maintenanceTriggers *prometheus.CounterVec
	rejectedRequests    *prometheus.CounterVec
	pendingCommands     prometheus.Gauge
	lastSweepDevices    prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commandsSet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_set_total",
			Help:      "Commands deposited into device mailboxes.",
		}, []string{"command"}),
		commandsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_delivered_total",
			Help:      "Commands handed to a polling device.",
		}),
		commandsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_replaced_total",
			Help:      "Undelivered commands overwritten by a newer one.",
		}),
		statusReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_reports_total",
			Help:      "Status reports received from devices.",
		}),
		maintenanceTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_triggers_total",
			Help:      "Maintenance cycles injected by the scheduler.",
		}, []string{"frequency"}),
		rejectedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_requests_total",
			Help:      "Requests rejected at the boundary.",
		}, []string{"reason"}),
		pendingCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "Devices with an undelivered command.",
		}),
		lastSweepDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maintenance_sweep_devices",
			Help:      "Devices with maintenance enabled at the last sweep.",
		}),
	}

	m.registry.MustRegister(
		m.commandsSet,
		m.commandsDelivered,
		m.commandsReplaced,
		m.statusReports,
		m.maintenanceTriggers,
		m.rejectedRequests,
		m.pendingCommands,
		m.lastSweepDevices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandSet(command string, replaced bool) {
	if m == nil {
		return
	}
	m.commandsSet.WithLabelValues(command).Inc()
	if replaced {
		m.commandsReplaced.Inc()
	}
}

func (m *Metrics) CommandDelivered() {
	if m == nil {
		return
	}
	m.commandsDelivered.Inc()
}

func (m *Metrics) StatusReported() {
	if m == nil {
		return
	}
	m.statusReports.Inc()
}

func (m *Metrics) MaintenanceTriggered(frequency string) {
	if m == nil {
		return
	}
	m.maintenanceTriggers.WithLabelValues(frequency).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedRequests.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingCommands.Set(float64(n))
}

func (m *Metrics) SweepEvaluated(enabled int) {
	if m == nil {
		return
	}
	m.lastSweepDevices.Set(float64(enabled))
}
