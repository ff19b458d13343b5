package controller

import (
	"sync/atomic"
	"testing"
)

func TestEventBusOn(t *testing.T) {
	eb := NewEventBus(testLogger())
	var got Event
	eb.On(EventCommandSet, func(e Event) { got = e })

	eb.Emit(newEvent(EventCommandSet, "valve1", "command", "percent_50"))
	if got.DeviceID() != "valve1" || got.Data["command"] != "percent_50" {
		t.Errorf("event = %+v", got)
	}
}

func TestEventBusFiltersType(t *testing.T) {
	eb := NewEventBus(testLogger())
	called := false
	eb.On(EventCommandSet, func(Event) { called = true })
	eb.Emit(newEvent(EventStatusReported, "valve1"))
	if called {
		t.Error("handler called for wrong event type")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(testLogger())
	var count atomic.Int32
	unsub := eb.OnAll(func(Event) { count.Add(1) })
	eb.Emit(newEvent(EventDeviceAdded, "a"))
	unsub()
	eb.Emit(newEvent(EventDeviceAdded, "b"))
	if count.Load() != 1 {
		t.Errorf("calls = %d, want 1", count.Load())
	}
}

func TestEventBusRecoversPanic(t *testing.T) {
	eb := NewEventBus(testLogger())
	var after atomic.Bool
	eb.On(EventCommandTaken, func(Event) { panic("boom") })
	eb.On(EventCommandTaken, func(Event) { after.Store(true) })
	eb.Emit(newEvent(EventCommandTaken, "valve1"))
	if !after.Load() {
		t.Error("panicking handler stopped delivery")
	}
}
