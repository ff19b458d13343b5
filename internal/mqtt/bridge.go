//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	Discovery       bool
	DiscoveryPrefix string
}

// Controller is the part of the hub the bridge uses.
type Controller interface {
	Events() *controller.EventBus
	Devices() ([]*store.DeviceConfig, error)
	Status(id string) (*store.DeviceStatus, error)
	SetCommand(id, raw, source string) (controller.PendingCommand, error)
}

// Bridge mirrors controller state to MQTT and accepts commands on
// <prefix>/<device>/set.
type Bridge struct {
	client  pahomqtt.Client
	ctrl    Controller
	cfg     Config
	prefix  string
	logger  *slog.Logger
	unsub   func()
	publish func(topic string, payload []byte, retained bool)
}

func newBridge(ctrl Controller, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	b := &Bridge{
		ctrl:   ctrl,
		cfg:    cfg,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}
	b.publish = b.publishMQTT
	return b
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(ctrl, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("valve-go-home-"+uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.bridgeStateTopic(), "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.bridgeStateTopic(), []byte("online"), true)
			b.subscribeCommands(c)
			b.publishAll()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// client must be set before the connect handler can publish
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to controller events.
func (b *Bridge) Start() {
	b.unsub = b.ctrl.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.bridgeStateTopic(), []byte("offline"), true)
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) bridgeStateTopic() string { return b.prefix + "/bridge/state" }

func (b *Bridge) deviceTopic(id, leaf string) string {
	return b.prefix + "/" + id + "/" + leaf
}

func (b *Bridge) handleEvent(event controller.Event) {
	id := event.DeviceID()
	if id == "" {
		return
	}

	switch event.Type {
	case controller.EventStatusReported:
		b.publishStatus(id)
	case controller.EventCommandSet:
		// percent commands rewrite the status optimistically
		b.publishStatus(id)
		b.publish(b.deviceTopic(id, "command"), mustJSON(event.Data), false)
	case controller.EventMaintenanceTriggered:
		b.publish(b.deviceTopic(id, "maintenance"), mustJSON(event.Data), false)
	case controller.EventDeviceAdded:
		devices, err := b.ctrl.Devices()
		if err != nil {
			b.logger.Error("list devices", "err", err)
			return
		}
		for _, dev := range devices {
			if dev.ID == id {
				b.publishDiscovery(dev)
			}
		}
	}
}

func (b *Bridge) publishStatus(id string) {
	st, err := b.ctrl.Status(id)
	if err != nil {
		b.logger.Debug("status for publish", "device_id", id, "err", err)
		return
	}
	if st == nil {
		st = &store.DeviceStatus{}
	}
	b.publish(b.deviceTopic(id, "status"), mustJSON(st), true)
}

// publishAll runs on every (re)connect: discovery and retained status for
// every device.
func (b *Bridge) publishAll() {
	devices, err := b.ctrl.Devices()
	if err != nil {
		b.logger.Error("list devices for publish", "err", err)
		return
	}
	for _, dev := range devices {
		b.publishDiscovery(dev)
		if dev.Status != nil {
			b.publish(b.deviceTopic(dev.ID, "status"), mustJSON(dev.Status), true)
		}
	}
}

func (b *Bridge) publishDiscovery(dev *store.DeviceConfig) {
	if !b.cfg.Discovery {
		return
	}
	for _, msg := range buildDiscovery(dev, b.prefix, b.cfg.DiscoveryPrefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Debug("published HA discovery", "device_id", dev.ID)
}

// subscribeCommands uses one wildcard subscription so devices added later
// are covered without resubscribing.
func (b *Bridge) subscribeCommands(c pahomqtt.Client) {
	topic := b.prefix + "/+/set"
	token := c.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMessage(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) handleMessage(topic string, payload []byte) {
	id, ok := commandDevice(b.prefix, topic)
	if !ok {
		return
	}
	cmd, err := parseCommandPayload(payload)
	if err != nil {
		b.logger.Warn("invalid command payload", "device_id", id, "err", err)
		return
	}
	if _, err := b.ctrl.SetCommand(id, cmd, controller.SourceMQTT); err != nil {
		b.logger.Warn("mqtt command rejected", "device_id", id, "command", cmd, "err", err)
	}
}

// commandDevice extracts the device id from <prefix>/<id>/set.
func commandDevice(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// parseCommandPayload accepts a bare command ("percent_50"), a bare
// position ("50", as sent by Home Assistant's set_position_topic), or a
// JSON object {"command": "..."} / {"position": 50}. Vocabulary checks are
// left to the controller.
func parseCommandPayload(payload []byte) (string, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return "", fmt.Errorf("empty payload")
	}

	if strings.HasPrefix(s, "{") {
		var req struct {
			Command  string   `json:"command"`
			Position *float64 `json:"position"`
		}
		if err := json.Unmarshal([]byte(s), &req); err != nil {
			return "", fmt.Errorf("decode command JSON: %w", err)
		}
		switch {
		case req.Command != "":
			return req.Command, nil
		case req.Position != nil:
			return positionCommand(*req.Position)
		}
		return "", fmt.Errorf("payload has neither command nor position")
	}

	if pos, err := strconv.ParseFloat(s, 64); err == nil {
		return positionCommand(pos)
	}
	return strings.Trim(s, `"`), nil
}

func positionCommand(pos float64) (string, error) {
	if pos != float64(int(pos)) {
		return "", fmt.Errorf("position %v is not a whole percent", pos)
	}
	return fmt.Sprintf("percent_%d", int(pos)), nil
}

func (b *Bridge) publishMQTT(topic string, payload []byte, retained bool) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
