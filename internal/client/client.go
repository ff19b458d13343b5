// Package client talks to the controller's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"valve-go-home/internal/store"
)

// ErrNotFound is returned when the controller answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx answer from the controller.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("controller returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the controller at baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse controller url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("controller url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Command is a mailbox entry handed out by /get-command.
type Command struct {
	Command   string `json:"command"`
	CommandID string `json:"command_id,omitempty"`
}

// Maintenance mirrors /get-maintenance.
type Maintenance struct {
	Enabled   bool            `json:"enabled"`
	Time      string          `json:"time"`
	Frequency store.Frequency `json:"frequency"`
}

// Zone mirrors one entry of /zones-devices.
type Zone struct {
	Color   string   `json:"color"`
	Devices []string `json:"devices"`
}

// Devices returns every device config. The map key is filled into ID.
func (c *Client) Devices(ctx context.Context) (map[string]*store.DeviceConfig, error) {
	var out map[string]*store.DeviceConfig
	if err := c.do(ctx, http.MethodGet, "/get-devices-config", nil, &out); err != nil {
		return nil, err
	}
	for id, dev := range out {
		dev.ID = id
	}
	return out, nil
}

// Config returns one device config, or ErrNotFound for an unknown id.
func (c *Client) Config(ctx context.Context, id string) (*store.DeviceConfig, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/get-config/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	if isEmptyObject(raw) {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	var dev store.DeviceConfig
	if err := json.Unmarshal(raw, &dev); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	dev.ID = id
	return &dev, nil
}

// TakeCommand polls the device's mailbox. ok is false when it was empty.
func (c *Client) TakeCommand(ctx context.Context, id string) (cmd Command, ok bool, err error) {
	var resp struct {
		Command   *string `json:"command"`
		CommandID string  `json:"command_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/get-command/"+url.PathEscape(id), nil, &resp); err != nil {
		return Command{}, false, err
	}
	if resp.Command == nil {
		return Command{}, false, nil
	}
	return Command{Command: *resp.Command, CommandID: resp.CommandID}, true, nil
}

func (c *Client) ReportStatus(ctx context.Context, id string, st store.DeviceStatus) error {
	return c.do(ctx, http.MethodPost, "/status-report/"+url.PathEscape(id), st, nil)
}

// Status returns the recorded status, or nil if there is none.
func (c *Client) Status(ctx context.Context, id string) (*store.DeviceStatus, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/get-status/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	if isEmptyObject(raw) {
		return nil, nil
	}
	var st store.DeviceStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func (c *Client) SetCommand(ctx context.Context, id, command string) error {
	body := map[string]string{"device_id": id, "command": command}
	return c.do(ctx, http.MethodPost, "/set-command", body, nil)
}

func (c *Client) Maintenance(ctx context.Context, id string) (*Maintenance, error) {
	var m Maintenance
	if err := c.do(ctx, http.MethodGet, "/get-maintenance/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) SetMaintenance(ctx context.Context, id string, m Maintenance) error {
	body := map[string]interface{}{
		"device_id":             id,
		"maintenance_enabled":   m.Enabled,
		"maintenance_time":      m.Time,
		"maintenance_frequency": m.Frequency,
	}
	return c.do(ctx, http.MethodPost, "/set-maintenance", body, nil)
}

// AddDevice registers dev; empty fields take controller defaults.
func (c *Client) AddDevice(ctx context.Context, dev *store.DeviceConfig) error {
	body := map[string]interface{}{
		"device_id":             dev.ID,
		"zone":                  dev.Zone,
		"zone_color":            dev.ZoneColor,
		"pin_relay_open":        dev.PinRelayOpen,
		"pin_relay_close":       dev.PinRelayClose,
		"model":                 dev.Model,
		"maintenance_enabled":   dev.MaintenanceEnabled,
		"maintenance_time":      dev.MaintenanceTime,
		"maintenance_frequency": dev.MaintenanceFrequency,
	}
	return c.do(ctx, http.MethodPost, "/add-device", body, nil)
}

func (c *Client) Zones(ctx context.Context) (map[string]Zone, error) {
	var out map[string]Zone
	if err := c.do(ctx, http.MethodGet, "/zones-devices", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends body as JSON (if non-nil) and decodes a JSON answer into out (if
// non-nil). Non-2xx answers become *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func isEmptyObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "{}" || s == "" || s == "null"
}
