package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"valve-go-home/internal/agent"
	"valve-go-home/internal/logging"
	"valve-go-home/internal/relay"
	"valve-go-home/internal/valve"
)

type modelConfig struct {
	DiameterMM            int `yaml:"diameter_mm"`
	ErrorCloseToOpenMM    int `yaml:"error_close_to_open_mm"`
	ErrorOpenToCloseMM    int `yaml:"error_open_to_close_mm"`
	MsPerMM               int `yaml:"ms_per_mm"`
	InertiaCompensationMs int `yaml:"inertia_compensation_ms"`
	// Stabilization defaults to the HL2102 settle time when omitted.
	Stabilization string `yaml:"stabilization"`
}

type Config struct {
	Controller struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"controller"`
	PollInterval string                 `yaml:"poll_interval"`
	Devices      []string               `yaml:"devices"`
	DefaultModel string                 `yaml:"default_model"`
	Models       map[string]modelConfig `yaml:"models"`
	Maintenance  struct {
		CloseDwell string `yaml:"close_dwell"`
		OpenDwell  string `yaml:"open_dwell"`
	} `yaml:"maintenance"`
	Relay struct {
		Type      string `yaml:"type"`
		ActiveLow bool   `yaml:"active_low"`
		Port      string `yaml:"port"`
		Baud      int    `yaml:"baud"`
		TCPAddr   string `yaml:"tcp_addr"`
		SlaveID   int    `yaml:"slave_id"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"relay"`
	Log logging.Config `yaml:"log"`

	// Filled by validate.
	controllerTimeout time.Duration
	agent             agent.Config
	relay             relay.Config
	models            map[string]valve.Model
}

func (c *Config) validate() error {
	if c.Controller.URL == "" {
		return fmt.Errorf("controller.url is required")
	}

	var err error
	if c.controllerTimeout, err = parseDuration("controller.timeout", c.Controller.Timeout); err != nil {
		return err
	}
	if c.agent.PollInterval, err = parseDuration("poll_interval", c.PollInterval); err != nil {
		return err
	}
	if c.agent.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.agent.CloseDwell, err = parseDuration("maintenance.close_dwell", c.Maintenance.CloseDwell); err != nil {
		return err
	}
	if c.agent.OpenDwell, err = parseDuration("maintenance.open_dwell", c.Maintenance.OpenDwell); err != nil {
		return err
	}
	c.agent.Devices = c.Devices

	c.models = valve.KnownModels()
	for name, mc := range c.Models {
		m, err := mc.model(name)
		if err != nil {
			return err
		}
		c.models[m.Name] = m
	}
	if _, ok := valve.LookupModel(c.models, c.DefaultModel); !ok {
		return fmt.Errorf("default_model %q is not a known model", c.DefaultModel)
	}

	if c.Relay.SlaveID < 0 || c.Relay.SlaveID > 247 {
		return fmt.Errorf("relay.slave_id must be 0-247, got %d", c.Relay.SlaveID)
	}
	relayTimeout, err := parseDuration("relay.timeout", c.Relay.Timeout)
	if err != nil {
		return err
	}
	c.relay = relay.Config{
		Type:      c.Relay.Type,
		ActiveLow: c.Relay.ActiveLow,
		Port:      c.Relay.Port,
		Baud:      c.Relay.Baud,
		TCPAddr:   c.Relay.TCPAddr,
		SlaveID:   byte(c.Relay.SlaveID),
		Timeout:   relayTimeout,
	}
	switch strings.ToLower(c.Relay.Type) {
	case "serial", "modbus-rtu":
		if c.Relay.Port == "" {
			return fmt.Errorf("relay.port is required for relay type %q", c.Relay.Type)
		}
	case "modbus":
		if c.Relay.Port == "" && c.Relay.TCPAddr == "" {
			return fmt.Errorf("relay.port is required for relay type %q", c.Relay.Type)
		}
	case "modbus-tcp":
		if c.Relay.TCPAddr == "" {
			return fmt.Errorf("relay.tcp_addr is required for relay type %q", c.Relay.Type)
		}
	}
	return nil
}

func (mc modelConfig) model(name string) (valve.Model, error) {
	m := valve.Model{
		Name:                  strings.ToLower(name),
		DiameterMM:            mc.DiameterMM,
		ErrorCloseToOpenMM:    mc.ErrorCloseToOpenMM,
		ErrorOpenToCloseMM:    mc.ErrorOpenToCloseMM,
		MsPerMM:               mc.MsPerMM,
		InertiaCompensationMs: mc.InertiaCompensationMs,
		Stabilization:         valve.HL2102().Stabilization,
	}
	if mc.Stabilization != "" {
		d, err := time.ParseDuration(mc.Stabilization)
		if err != nil {
			return m, fmt.Errorf("models.%s.stabilization: %w", name, err)
		}
		m.Stabilization = d
	}
	return m, m.Validate()
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Controller.Timeout == "" {
		cfg.Controller.Timeout = "5s"
	}
	if cfg.PollInterval == "" {
		cfg.PollInterval = agent.DefaultPollInterval.String()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = valve.HL2102().Name
	}
	if cfg.Maintenance.CloseDwell == "" {
		cfg.Maintenance.CloseDwell = "5s"
	}
	if cfg.Maintenance.OpenDwell == "" {
		cfg.Maintenance.OpenDwell = "10s"
	}
	if cfg.Relay.Type == "" {
		cfg.Relay.Type = "gpio"
		cfg.Relay.ActiveLow = true
	}
	if cfg.Relay.Baud == 0 {
		cfg.Relay.Baud = 9600
	}
	if cfg.Relay.SlaveID == 0 {
		cfg.Relay.SlaveID = 1
	}
	if cfg.Relay.Timeout == "" {
		cfg.Relay.Timeout = "1s"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}
