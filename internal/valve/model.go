package valve

import (
	"fmt"
	"strings"
	"time"
)

// Model is the calibrated timing table of one valve hardware model.
// All lengths are in millimetres of stem travel.
type Model struct {
	Name                  string
	DiameterMM            int
	ErrorCloseToOpenMM    int
	ErrorOpenToCloseMM    int
	MsPerMM               int
	InertiaCompensationMs int
	Stabilization         time.Duration
}

// HL2102 is the Daver Ambient HL2102 two-way motorised valve.
func HL2102() Model {
	return Model{
		Name:                  "hl2102",
		DiameterMM:            19,
		ErrorCloseToOpenMM:    4,
		ErrorOpenToCloseMM:    1,
		MsPerMM:               250,
		InertiaCompensationMs: 250,
		Stabilization:         2 * time.Second,
	}
}

// KnownModels returns the built-in timing tables keyed by lower-case name.
func KnownModels() map[string]Model {
	m := HL2102()
	return map[string]Model{m.Name: m}
}

// LookupModel finds a model by case-insensitive name.
func LookupModel(models map[string]Model, name string) (Model, bool) {
	m, ok := models[strings.ToLower(name)]
	return m, ok
}

// Validate rejects tables that would produce negative or zero travel.
func (m Model) Validate() error {
	if m.DiameterMM <= 0 {
		return fmt.Errorf("model %s: diameter_mm must be > 0", m.Name)
	}
	if m.MsPerMM <= 0 {
		return fmt.Errorf("model %s: ms_per_mm must be > 0", m.Name)
	}
	if m.ErrorCloseToOpenMM < 0 || m.ErrorOpenToCloseMM < 0 || m.InertiaCompensationMs < 0 {
		return fmt.Errorf("model %s: error margins and inertia compensation must be >= 0", m.Name)
	}
	if m.Stabilization < 0 {
		return fmt.Errorf("model %s: stabilization must be >= 0", m.Name)
	}
	return nil
}

// FullOpenMs is the over-driven open pulse that always reaches the
// mechanical open stop regardless of the starting position.
func (m Model) FullOpenMs() int {
	return (m.DiameterMM + m.ErrorCloseToOpenMM) * m.MsPerMM
}

// CloseMs is the close pulse, starting from fully open, that leaves the
// valve percentToClose percent closed. Partial closes truncate to whole
// millimetres, so they undershoot rather than overshoot.
func (m Model) CloseMs(percentToClose int) int {
	switch {
	case percentToClose <= 0:
		return 0
	case percentToClose >= 100:
		return (m.DiameterMM+m.ErrorCloseToOpenMM)*m.MsPerMM + m.InertiaCompensationMs
	default:
		return (percentToClose * m.DiameterMM / 100) * m.MsPerMM
	}
}
