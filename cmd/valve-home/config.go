package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"valve-go-home/internal/logging"
	"valve-go-home/internal/scheduler"
)

type Config struct {
	Web struct {
		Listen         string   `yaml:"listen"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Scheduler struct {
		Interval string `yaml:"interval"`
	} `yaml:"scheduler"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		TopicPrefix     string `yaml:"topic_prefix"`
		Discovery       bool   `yaml:"discovery"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	Log        logging.Config `yaml:"log"`
	ScriptsDir string         `yaml:"scripts_dir"`

	sweepInterval time.Duration
}

func (c *Config) validate() error {
	if c.Web.Listen == "" {
		return fmt.Errorf("web.listen is required")
	}
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return fmt.Errorf("scheduler.interval: %w", err)
	}
	if d < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s, got %s", d)
	}
	c.sweepInterval = d
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
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
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "0.0.0.0:5000"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "valve-home.db"
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = scheduler.DefaultInterval.String()
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "valves"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}
