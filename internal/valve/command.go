// Package valve implements open-loop positioning of two-relay motorised
// valves: the command vocabulary shared by controller and device, per-model
// timing tables, timed relay pulses, and the re-zero-then-close positioning
// algorithm.
package valve

import (
	"strconv"
	"strings"
)

// Command is a value of the controller/device command vocabulary.
type Command string

const (
	CommandPercent0    Command = "percent_0"
	CommandPercent25   Command = "percent_25"
	CommandPercent50   Command = "percent_50"
	CommandPercent75   Command = "percent_75"
	CommandPercent100  Command = "percent_100"
	CommandMaintenance Command = "maintenance"
)

const percentPrefix = "percent_"

// Percents lists the only positions a valve can be driven to.
var Percents = []int{0, 25, 50, 75, 100}

// ValidPercent reports whether p is one of Percents.
func ValidPercent(p int) bool {
	switch p {
	case 0, 25, 50, 75, 100:
		return true
	}
	return false
}

// Valid reports whether c belongs to the command vocabulary.
func (c Command) Valid() bool {
	switch c {
	case CommandPercent0, CommandPercent25, CommandPercent50, CommandPercent75, CommandPercent100, CommandMaintenance:
		return true
	}
	return false
}

// Percent returns the position encoded in a percent_N command. A malformed
// or missing suffix yields ok=false rather than an error.
func (c Command) Percent() (int, bool) {
	s := string(c)
	if !strings.HasPrefix(s, percentPrefix) {
		return 0, false
	}
	p, err := strconv.Atoi(strings.TrimPrefix(s, percentPrefix))
	if err != nil {
		return 0, false
	}
	return p, true
}

// IsMaintenance reports whether c requests a maintenance cycle.
func (c Command) IsMaintenance() bool {
	return c == CommandMaintenance
}

// PercentCommand builds the command that drives a valve to p.
func PercentCommand(p int) (Command, bool) {
	if !ValidPercent(p) {
		return "", false
	}
	return Command(percentPrefix + strconv.Itoa(p)), true
}
