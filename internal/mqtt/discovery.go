//go:build !no_mqtt

package mqtt

import (
	"strings"

	"valve-go-home/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/valve/valve_garden1/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers   []string `json:"identifiers"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Model         string   `json:"model,omitempty"`
	Name          string   `json:"name"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

// haDiscovery covers the fields used by the valve, sensor and button
// components.
type haDiscovery struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic,omitempty"`
	CommandTopic      string `json:"command_topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic"`
	ValueTemplate     string `json:"value_template,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	Icon              string `json:"icon,omitempty"`

	// valve
	ReportsPosition  bool   `json:"reports_position,omitempty"`
	PositionTemplate string `json:"position_template,omitempty"`
	SetPositionTopic string `json:"set_position_topic,omitempty"`
	PayloadOpen      string `json:"payload_open,omitempty"`
	PayloadClose     string `json:"payload_close,omitempty"`

	// button
	PayloadPress string `json:"payload_press,omitempty"`

	Device haDevice `json:"device"`
}

// nodeID is the HA object id; HA accepts only [a-zA-Z0-9_-].
func nodeID(id string) string {
	return "valve_" + strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, id)
}

// buildDiscovery returns the valve entity, a last-command sensor and a
// maintenance button for one device.
func buildDiscovery(dev *store.DeviceConfig, prefix, haPrefix string) []discoveryMsg {
	node := nodeID(dev.ID)
	avail := prefix + "/bridge/state"
	statusTopic := prefix + "/" + dev.ID + "/status"
	setTopic := prefix + "/" + dev.ID + "/set"

	model := dev.Model
	if model == "" {
		model = "hl2102"
	}
	haDev := haDevice{
		Identifiers:   []string{node},
		Manufacturer:  "valve-go-home",
		Model:         model,
		Name:          dev.ID,
		SuggestedArea: dev.Zone,
	}

	valve := haDiscovery{
		Name:              dev.ID,
		UniqueID:          node,
		StateTopic:        statusTopic,
		CommandTopic:      setTopic,
		AvailabilityTopic: avail,
		DeviceClass:       "water",
		ReportsPosition:   true,
		PositionTemplate:  "{{ value_json.status_open_percent }}",
		SetPositionTopic:  setTopic,
		PayloadOpen:       "percent_100",
		PayloadClose:      "percent_0",
		Device:            haDev,
	}
	lastCmd := haDiscovery{
		Name:              dev.ID + " last command",
		UniqueID:          node + "_last_command",
		StateTopic:        statusTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.last_command }}",
		Icon:              "mdi:console-line",
		Device:            haDev,
	}
	maint := haDiscovery{
		Name:              dev.ID + " maintenance",
		UniqueID:          node + "_maintenance",
		CommandTopic:      setTopic,
		AvailabilityTopic: avail,
		PayloadPress:      "maintenance",
		Icon:              "mdi:wrench-clock",
		Device:            haDev,
	}

	return []discoveryMsg{
		{Topic: haPrefix + "/valve/" + node + "/config", Payload: mustJSON(valve)},
		{Topic: haPrefix + "/sensor/" + node + "/last_command/config", Payload: mustJSON(lastCmd)},
		{Topic: haPrefix + "/button/" + node + "/maintenance/config", Payload: mustJSON(maint)},
	}
}
