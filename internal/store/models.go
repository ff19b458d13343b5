package store

// Frequency is the recurrence of a device's maintenance cycle.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is one of the known recurrence values.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// DateLayout is the format of LastMaintenanceDate.
const DateLayout = "2006-01-02"

// Defaults applied to newly registered devices.
const (
	DefaultZoneColor       = "#cccccc"
	DefaultMaintenanceTime = "12:00"
)

// DeviceStatus is the last known state of a valve. It is written
// optimistically by the controller when a percent command is set and
// authoritatively by the device's own status report.
type DeviceStatus struct {
	LastCommand       string `json:"last_command,omitempty"`
	StatusOpenPercent *int   `json:"status_open_percent"`
}

// DeviceConfig is the persisted record of one valve device.
// ID is the bucket key and is not serialized into the record itself.
type DeviceConfig struct {
	ID                   string        `json:"-"`
	Zone                 string        `json:"zone"`
	ZoneColor            string        `json:"zone_color"`
	PinRelayOpen         int           `json:"pin_relay_open"`
	PinRelayClose        int           `json:"pin_relay_close"`
	Model                string        `json:"model,omitempty"`
	MaintenanceEnabled   bool          `json:"maintenance_enabled"`
	MaintenanceTime      string        `json:"maintenance_time"`
	MaintenanceFrequency Frequency     `json:"maintenance_frequency"`
	LastMaintenanceDate  string        `json:"last_maintenance_date,omitempty"`
	Status               *DeviceStatus `json:"status,omitempty"`
}

// Clone returns a deep copy of the config, so callers outside the store
// cannot mutate shared status pointers.
func (d *DeviceConfig) Clone() *DeviceConfig {
	if d == nil {
		return nil
	}
	c := *d
	if d.Status != nil {
		st := *d.Status
		if d.Status.StatusOpenPercent != nil {
			p := *d.Status.StatusOpenPercent
			st.StatusOpenPercent = &p
		}
		c.Status = &st
	}
	return &c
}
