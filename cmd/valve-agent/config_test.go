package main

import (
	"testing"
	"time"

	"valve-go-home/internal/valve"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("controller:\n  url: http://localhost:5000\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.controllerTimeout != 5*time.Second {
		t.Errorf("controller timeout = %s", cfg.controllerTimeout)
	}
	if cfg.agent.PollInterval != time.Second {
		t.Errorf("poll interval = %s", cfg.agent.PollInterval)
	}
	if cfg.agent.CloseDwell != 5*time.Second || cfg.agent.OpenDwell != 10*time.Second {
		t.Errorf("dwells = %s/%s", cfg.agent.CloseDwell, cfg.agent.OpenDwell)
	}
	if cfg.relay.Type != "gpio" || !cfg.relay.ActiveLow {
		t.Errorf("relay = %+v, want active-low gpio", cfg.relay)
	}
	if cfg.relay.SlaveID != 1 || cfg.relay.Timeout != time.Second {
		t.Errorf("relay = %+v", cfg.relay)
	}
	if m, ok := valve.LookupModel(cfg.models, "HL2102"); !ok || m != valve.HL2102() {
		t.Errorf("default model = %+v, %v", m, ok)
	}
}

func TestParseConfigModelsAndRelay(t *testing.T) {
	cfg, err := parseConfig([]byte(`
controller:
  url: http://10.0.0.2:5000
  timeout: 2s
poll_interval: 500ms
devices: [valve1, valve2]
default_model: Big
models:
  Big:
    diameter_mm: 25
    error_close_to_open_mm: 5
    error_open_to_close_mm: 2
    ms_per_mm: 200
    inertia_compensation_ms: 300
    stabilization: 3s
relay:
  type: modbus-tcp
  tcp_addr: 127.0.0.1:1502
  slave_id: 7
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	big, ok := valve.LookupModel(cfg.models, "big")
	if !ok {
		t.Fatal("model big missing")
	}
	if big.DiameterMM != 25 || big.Stabilization != 3*time.Second {
		t.Errorf("big = %+v", big)
	}
	if _, ok := valve.LookupModel(cfg.models, "hl2102"); !ok {
		t.Error("built-in model should remain available")
	}
	if len(cfg.agent.Devices) != 2 || cfg.agent.PollInterval != 500*time.Millisecond {
		t.Errorf("agent = %+v", cfg.agent)
	}
	if cfg.relay.SlaveID != 7 || cfg.relay.TCPAddr != "127.0.0.1:1502" {
		t.Errorf("relay = %+v", cfg.relay)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no url", "poll_interval: 1s\n"},
		{"bad poll", "controller: {url: http://x}\npoll_interval: fast\n"},
		{"zero poll", "controller: {url: http://x}\npoll_interval: 0s\n"},
		{"negative dwell", "controller: {url: http://x}\nmaintenance: {close_dwell: -1s}\n"},
		{"unknown default", "controller: {url: http://x}\ndefault_model: nope\n"},
		{"bad model", "controller: {url: http://x}\nmodels: {broken: {diameter_mm: 0, ms_per_mm: 10}}\n"},
		{"bad stabilization", "controller: {url: http://x}\nmodels: {m: {diameter_mm: 1, ms_per_mm: 1, stabilization: soon}}\n"},
		{"slave id", "controller: {url: http://x}\nrelay: {type: modbus-rtu, port: /dev/ttyUSB0, slave_id: 300}\n"},
		{"serial without port", "controller: {url: http://x}\nrelay: {type: serial}\n"},
		{"tcp without addr", "controller: {url: http://x}\nrelay: {type: modbus-tcp}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestModelStabilizationDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
controller: {url: http://x}
models:
  hl2102:
    diameter_mm: 19
    error_close_to_open_mm: 4
    error_open_to_close_mm: 1
    ms_per_mm: 250
    inertia_compensation_ms: 250
  quick:
    diameter_mm: 10
    ms_per_mm: 100
    stabilization: 0s
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if m, _ := valve.LookupModel(cfg.models, "hl2102"); m.Stabilization != 2*time.Second {
		t.Errorf("hl2102 stabilization without key = %s, want 2s", m.Stabilization)
	}
	if m, _ := valve.LookupModel(cfg.models, "quick"); m.Stabilization != 0 {
		t.Errorf("explicit 0s stabilization = %s, want 0s", m.Stabilization)
	}
}
