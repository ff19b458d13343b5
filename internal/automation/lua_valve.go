//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"valve-go-home/internal/controller"
)

const maxHandlersPerScript = 100

// registerValveModule installs the `valve` global:
//
//	valve.on(event_type, {device_id=..., command=...}, fn)
//	valve.set_command(device_id, command) -> ok, err
//	valve.status(device_id) -> {status_open_percent, last_command} | nil
//	valve.devices() -> {{id, zone, model, maintenance_enabled}, ...}
//	valve.after(seconds, fn)
//	valve.log(msg)
func registerValveModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":          func(L *lua.LState) int { return valveOn(L, vm) },
		"set_command": func(L *lua.LState) int { return valveSetCommand(L, vm, e) },
		"status":      func(L *lua.LState) int { return valveStatus(L, e) },
		"devices":     func(L *lua.LState) int { return valveDevices(L, e) },
		"after":       func(L *lua.LState) int { return valveAfter(L, vm, e) },
		"log":         func(L *lua.LState) int { return valveLog(L, vm, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("valve", mod)
}

func valveOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	var fn *lua.LFunction
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		if v := tbl.RawGetString("device_id"); v != lua.LNil {
			h.deviceID = v.String()
		}
		if v := tbl.RawGetString("command"); v != lua.LNil {
			h.command = v.String()
		}
		fn = L.CheckFunction(3)
	} else {
		// valve.on(type, fn)
		fn = L.CheckFunction(2)
	}
	h.fn = fn

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

func valveSetCommand(L *lua.LState, vm *scriptVM, e *Engine) int {
	id := L.CheckString(1)
	cmd := L.CheckString(2)

	if _, err := e.ctrl.SetCommand(id, cmd, controller.SourceAutomation); err != nil {
		e.logger.Warn("script command rejected", "script", vm.id, "device_id", id, "command", cmd, "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	vm.capture(&vm.issued, id+" "+cmd)
	L.Push(lua.LTrue)
	return 1
}

func valveStatus(L *lua.LState, e *Engine) int {
	st, err := e.ctrl.Status(L.CheckString(1))
	if err != nil || st == nil {
		L.Push(lua.LNil)
		return 1
	}
	t := L.NewTable()
	if st.StatusOpenPercent != nil {
		t.RawSetString("status_open_percent", lua.LNumber(*st.StatusOpenPercent))
	}
	t.RawSetString("last_command", lua.LString(st.LastCommand))
	L.Push(t)
	return 1
}

func valveDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	devices, err := e.ctrl.Devices()
	if err != nil {
		e.logger.Error("list devices for script", "err", err)
		L.Push(tbl)
		return 1
	}
	for i, dev := range devices {
		d := L.NewTable()
		d.RawSetString("id", lua.LString(dev.ID))
		d.RawSetString("zone", lua.LString(dev.Zone))
		d.RawSetString("model", lua.LString(dev.Model))
		d.RawSetString("maintenance_enabled", lua.LBool(dev.MaintenanceEnabled))
		tbl.RawSetInt(i+1, d)
	}
	L.Push(tbl)
	return 1
}

// valve.after(seconds, fn) runs fn on the script's VM once the delay has
// passed, unless the script is stopped first.
func valveAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		}:
		default:
			e.logger.Warn("after: script queue full", "id", vm.id)
		}
	}()
	return 0
}

func valveLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	vm.capture(&vm.logs, msg)
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}
