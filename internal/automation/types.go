// Package automation runs user Lua scripts that react to controller events
// and issue valve commands.
package automation

import (
	"errors"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/store"
)

// ErrScriptNotFound is returned for ids with no script file.
var ErrScriptNotFound = errors.New("script not found")

// Controller is the part of the hub scripts can reach.
type Controller interface {
	Events() *controller.EventBus
	SetCommand(id, raw, source string) (controller.PendingCommand, error)
	Status(id string) (*store.DeviceStatus, error)
	Devices() ([]*store.DeviceConfig, error)
}

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation stored as a .lua file.
type Script struct {
	ID       string     `json:"id"` // filename stem
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Commands []string `json:"commands,omitempty"`
	Duration string   `json:"duration"`
}
