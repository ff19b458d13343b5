package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/store"
	"valve-go-home/internal/web"
)

func newTestServer(t *testing.T) (string, *controller.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	hub := controller.New(st, controller.NewEventBus(logger), logger)
	srv := web.NewServer(hub, logger)
	t.Cleanup(srv.Stop)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	if _, err := hub.AddDevice(controller.DeviceSpec{ID: "valve1", Zone: "garden", PinRelayOpen: 14, PinRelayClose: 15}); err != nil {
		t.Fatal(err)
	}
	return ts.URL, hub
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", url}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDevicesTable(t *testing.T) {
	url, _ := newTestServer(t)

	out, err := run(t, url, "devices")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ID") || !strings.Contains(out, "valve1") || !strings.Contains(out, "garden") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "14/15") {
		t.Errorf("pins missing: %q", out)
	}
}

func TestSetCommand(t *testing.T) {
	url, hub := newTestServer(t)

	out, err := run(t, url, "set", "valve1", "percent_50")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "command 'percent_50' set for valve1") {
		t.Errorf("output = %q", out)
	}
	pc, ok := hub.PendingCommand("valve1")
	if !ok || pc.Command != "percent_50" {
		t.Errorf("pending = %+v, %v", pc, ok)
	}

	out, err = run(t, url, "status", "valve1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "position 50%") {
		t.Errorf("status output = %q", out)
	}
}

func TestSetCommandRejectsLocally(t *testing.T) {
	url, hub := newTestServer(t)

	if _, err := run(t, url, "set", "valve1", "percent_30"); err == nil {
		t.Fatal("expected error for invalid command")
	}
	if _, ok := hub.PendingCommand("valve1"); ok {
		t.Error("invalid command should not reach the mailbox")
	}
}

func TestSetCommandUnknownDevice(t *testing.T) {
	url, _ := newTestServer(t)

	_, err := run(t, url, "set", "ghost", "percent_0")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want 400 from controller", err)
	}
}

func TestStatusNone(t *testing.T) {
	url, _ := newTestServer(t)

	out, err := run(t, url, "status", "valve1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no status reported") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigUnknown(t *testing.T) {
	url, _ := newTestServer(t)

	if _, err := run(t, url, "config", "ghost"); err == nil {
		t.Fatal("expected not found error")
	}
	out, err := run(t, url, "config", "valve1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"pin_relay_open": 14`) {
		t.Errorf("config output = %q", out)
	}
}

func TestAddAndZones(t *testing.T) {
	url, hub := newTestServer(t)

	if _, err := run(t, url, "add", "valve2", "--open-pin", "16", "--close-pin", "17", "--zone", "garden"); err != nil {
		t.Fatal(err)
	}
	dev, err := hub.Device("valve2")
	if err != nil {
		t.Fatal(err)
	}
	if dev.PinRelayOpen != 16 || dev.ZoneColor != store.DefaultZoneColor {
		t.Errorf("dev = %+v", dev)
	}

	out, err := run(t, url, "zones")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[valve1 valve2]") {
		t.Errorf("zones output = %q", out)
	}

	if _, err := run(t, url, "add", "valve3", "--open-pin", "1"); err == nil {
		t.Error("expected error for missing --close-pin")
	}
}

func TestMaintenanceSetKeepsUnsetFields(t *testing.T) {
	url, hub := newTestServer(t)

	if _, err := run(t, url, "maintenance", "set", "valve1", "--enabled", "--frequency", "weekly"); err != nil {
		t.Fatal(err)
	}
	ms, err := hub.Maintenance("valve1")
	if err != nil {
		t.Fatal(err)
	}
	if !ms.Enabled || ms.Frequency != store.FrequencyWeekly || ms.Time != store.DefaultMaintenanceTime {
		t.Errorf("maintenance = %+v", ms)
	}

	if _, err := run(t, url, "maintenance", "set", "valve1", "--time", "06:45"); err != nil {
		t.Fatal(err)
	}
	ms, _ = hub.Maintenance("valve1")
	if !ms.Enabled || ms.Frequency != store.FrequencyWeekly || ms.Time != "06:45" {
		t.Errorf("maintenance = %+v", ms)
	}

	out, err := run(t, url, "maintenance", "get", "valve1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "enabled, weekly at 06:45") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, url, "maintenance", "set", "valve1", "--frequency", "hourly"); err == nil {
		t.Error("expected error for invalid frequency")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "http://unused", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "valvectl ") {
		t.Errorf("output = %q", out)
	}
}
