package valve

import (
	"errors"
	"testing"
	"time"
)

type switchCall struct {
	dir Direction
	on  bool
}

type fakeSwitch struct {
	calls   []switchCall
	failOn  bool
	failAll bool
}

func (f *fakeSwitch) Set(dir Direction, on bool) error {
	f.calls = append(f.calls, switchCall{dir, on})
	if f.failAll || (f.failOn && on) {
		return errors.New("relay fault")
	}
	return nil
}

func newTestActuator(t *testing.T, sw *fakeSwitch) (*RelayActuator, *[]time.Duration) {
	t.Helper()
	a, err := NewRelayActuator(sw)
	if err != nil {
		t.Fatal(err)
	}
	var slept []time.Duration
	a.sleep = func(d time.Duration) { slept = append(slept, d) }
	sw.calls = nil
	return a, &slept
}

func TestNewRelayActuatorReleasesBoth(t *testing.T) {
	sw := &fakeSwitch{}
	if _, err := NewRelayActuator(sw); err != nil {
		t.Fatal(err)
	}
	want := []switchCall{{DirectionOpen, false}, {DirectionClose, false}}
	if len(sw.calls) != 2 || sw.calls[0] != want[0] || sw.calls[1] != want[1] {
		t.Errorf("init calls = %+v, want %+v", sw.calls, want)
	}

	if _, err := NewRelayActuator(&fakeSwitch{failAll: true}); err == nil {
		t.Error("expected init failure")
	}
}

func TestActuatePulse(t *testing.T) {
	sw := &fakeSwitch{}
	a, slept := newTestActuator(t, sw)

	if err := a.Actuate(DirectionClose, 2250); err != nil {
		t.Fatal(err)
	}
	if len(sw.calls) != 2 || sw.calls[0] != (switchCall{DirectionClose, true}) || sw.calls[1] != (switchCall{DirectionClose, false}) {
		t.Errorf("calls = %+v", sw.calls)
	}
	if len(*slept) != 1 || (*slept)[0] != 2250*time.Millisecond {
		t.Errorf("slept = %v", *slept)
	}
}

func TestActuateZeroIsNoop(t *testing.T) {
	sw := &fakeSwitch{}
	a, slept := newTestActuator(t, sw)

	if err := a.Actuate(DirectionOpen, 0); err != nil {
		t.Fatal(err)
	}
	if len(sw.calls) != 0 || len(*slept) != 0 {
		t.Errorf("zero pulse touched relays: %+v %v", sw.calls, *slept)
	}
}

func TestActuateRejectsBadInput(t *testing.T) {
	a, _ := newTestActuator(t, &fakeSwitch{})

	if err := a.Actuate("sideways", 100); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("err = %v, want ErrInvalidDirection", err)
	}
	if err := a.Actuate(DirectionOpen, -1); err == nil {
		t.Error("expected error for negative duration")
	}
}

func TestActuateReleasesOnEnergizeFailure(t *testing.T) {
	sw := &fakeSwitch{}
	a, _ := newTestActuator(t, sw)
	sw.failOn = true

	if err := a.Actuate(DirectionOpen, 100); err == nil {
		t.Fatal("expected error")
	}
	last := sw.calls[len(sw.calls)-1]
	if last != (switchCall{DirectionOpen, false}) {
		t.Errorf("last call = %+v, want release", last)
	}
}
