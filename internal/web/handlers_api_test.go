package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/metrics"
	"valve-go-home/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, opts ...ServerOption) (*Server, *controller.Hub) {
	t.Helper()
	logger := testLogger()

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	hub := controller.New(db, controller.NewEventBus(logger), logger, controller.WithMetrics(metrics.New()))
	srv := NewServer(hub, logger, opts...)
	t.Cleanup(srv.Stop)
	return srv, hub
}

func addDevice(t *testing.T, hub *controller.Hub, id string) {
	t.Helper()
	if _, err := hub.AddDevice(controller.DeviceSpec{ID: id, Zone: "garden", PinRelayOpen: 14, PinRelayClose: 15}); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestSetAndGetCommand(t *testing.T) {
	srv, hub := setupTestServer(t)
	addDevice(t, hub, "valve1")

	w := do(t, srv, "POST", "/set-command", `{"device_id":"valve1","command":"percent_50"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d, body %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "percent_50") {
		t.Errorf("body = %q", w.Body.String())
	}

	w = do(t, srv, "GET", "/get-command/valve1", "")
	var resp struct {
		Command   *string `json:"command"`
		CommandID string  `json:"command_id"`
	}
	decode(t, w, &resp)
	if resp.Command == nil || *resp.Command != "percent_50" {
		t.Fatalf("command = %v, want percent_50", resp.Command)
	}
	if resp.CommandID == "" {
		t.Error("expected command_id")
	}

	// second poll sees nothing
	w = do(t, srv, "GET", "/get-command/valve1", "")
	if got := strings.TrimSpace(w.Body.String()); got != `{"command":null}` {
		t.Errorf("second poll = %s, want {\"command\":null}", got)
	}
}

func TestGetCommandUnknownDevice(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv, "GET", "/get-command/ghost", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"command":null}` {
		t.Errorf("body = %s", got)
	}
}

func TestSetCommandRejections(t *testing.T) {
	srv, hub := setupTestServer(t)
	addDevice(t, hub, "valve1")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown device", `{"device_id":"ghost","command":"percent_0"}`, http.StatusBadRequest},
		{"invalid command", `{"device_id":"valve1","command":"percent_33"}`, http.StatusBadRequest},
		{"empty command", `{"device_id":"valve1"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"maintenance", `{"device_id":"valve1","command":"maintenance"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, "POST", "/set-command", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestInvalidCommandLeavesMailboxUnchanged(t *testing.T) {
	srv, hub := setupTestServer(t)
	addDevice(t, hub, "valve1")

	if w := do(t, srv, "POST", "/set-command", `{"device_id":"valve1","command":"percent_75"}`); w.Code != http.StatusOK {
		t.Fatalf("set status = %d", w.Code)
	}
	if w := do(t, srv, "POST", "/set-command", `{"device_id":"valve1","command":"percent_abc"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("percent_abc status = %d, want 400", w.Code)
	}

	pc, ok := hub.PendingCommand("valve1")
	if !ok || pc.Command != "percent_75" {
		t.Fatalf("pending = %+v, %v; want percent_75", pc, ok)
	}

	var st map[string]interface{}
	decode(t, do(t, srv, "GET", "/get-status/valve1", ""), &st)
	if st["last_command"] != "percent_75" || st["status_open_percent"] != float64(75) {
		t.Errorf("status = %v, want optimistic percent_75", st)
	}
}

func TestStatusReport(t *testing.T) {
	srv, hub := setupTestServer(t)
	addDevice(t, hub, "valve1")

	var st map[string]interface{}
	decode(t, do(t, srv, "GET", "/get-status/valve1", ""), &st)
	if len(st) != 0 {
		t.Errorf("status before any report = %v, want {}", st)
	}

	w := do(t, srv, "POST", "/status-report/valve1", `{"status_open_percent":25,"last_command":"percent_25"}`)
	if w.Code != http.StatusOK || w.Body.String() != "status received" {
		t.Fatalf("report = %d %q", w.Code, w.Body.String())
	}

	st = nil
	decode(t, do(t, srv, "GET", "/get-status/valve1", ""), &st)
	if st["status_open_percent"] != float64(25) || st["last_command"] != "percent_25" {
		t.Errorf("status = %v", st)
	}

	if w := do(t, srv, "POST", "/status-report/ghost", `{"status_open_percent":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown device: status = %d, want 400", w.Code)
	}
	if w := do(t, srv, "POST", "/status-report/valve1", `{"status_open_percent":33}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad percent: status = %d, want 400", w.Code)
	}

	st = nil
	decode(t, do(t, srv, "GET", "/get-status/ghost", ""), &st)
	if len(st) != 0 {
		t.Errorf("unknown device status = %v, want {}", st)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	srv, hub := setupTestServer(t)
	addDevice(t, hub, "valve1")

	w := do(t, srv, "POST", "/set-maintenance", `{"device_id":"valve1","maintenance_enabled":true,"maintenance_time":"06:30","maintenance_frequency":"weekly"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d %s", w.Code, w.Body.String())
	}
	var ok map[string]bool
	decode(t, w, &ok)
	if !ok["success"] {
		t.Errorf("body = %v", ok)
	}

	var ms controller.MaintenanceSettings
	decode(t, do(t, srv, "GET", "/get-maintenance/valve1", ""), &ms)
	if !ms.Enabled || ms.Time != "06:30" || ms.Frequency != store.FrequencyWeekly {
		t.Errorf("settings = %+v", ms)
	}

	// absent fields reset to defaults
	if w := do(t, srv, "POST", "/set-maintenance", `{"device_id":"valve1"}`); w.Code != http.StatusOK {
		t.Fatalf("defaults status = %d", w.Code)
	}
	ms = controller.MaintenanceSettings{}
	decode(t, do(t, srv, "GET", "/get-maintenance/valve1", ""), &ms)
	if ms.Enabled || ms.Time != "12:00" || ms.Frequency != store.FrequencyDaily {
		t.Errorf("defaults = %+v", ms)
	}

	if w := do(t, srv, "POST", "/set-maintenance", `{"device_id":"ghost"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown set: status = %d, want 404", w.Code)
	}
	if w := do(t, srv, "GET", "/get-maintenance/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown get: status = %d, want 404", w.Code)
	}
	if w := do(t, srv, "POST", "/set-maintenance", `{"device_id":"valve1","maintenance_frequency":"hourly"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad frequency: status = %d, want 400", w.Code)
	}
}

func TestAddDeviceAndConfig(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/add-device", `{"device_id":"valve1","zone":"garden","pin_relay_open":14,"pin_relay_close":15}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d %s", w.Code, w.Body.String())
	}

	var all map[string]store.DeviceConfig
	decode(t, do(t, srv, "GET", "/get-devices-config", ""), &all)
	dev, ok := all["valve1"]
	if !ok {
		t.Fatalf("configs = %v", all)
	}
	if dev.ZoneColor != store.DefaultZoneColor || dev.MaintenanceTime != "12:00" || dev.MaintenanceFrequency != store.FrequencyDaily {
		t.Errorf("defaults not applied: %+v", dev)
	}

	var one store.DeviceConfig
	decode(t, do(t, srv, "GET", "/get-config/valve1", ""), &one)
	if one.PinRelayOpen != 14 || one.PinRelayClose != 15 {
		t.Errorf("config = %+v", one)
	}

	if got := strings.TrimSpace(do(t, srv, "GET", "/get-config/ghost", "").Body.String()); got != "{}" {
		t.Errorf("unknown config = %s, want {}", got)
	}

	if w := do(t, srv, "POST", "/add-device", `{"device_id":"bad","pin_relay_open":3,"pin_relay_close":3}`); w.Code != http.StatusBadRequest {
		t.Errorf("shared pin: status = %d, want 400", w.Code)
	}
}

func TestZonesDevices(t *testing.T) {
	srv, hub := setupTestServer(t)
	for _, spec := range []controller.DeviceSpec{
		{ID: "a", Zone: "lawn", ZoneColor: "#00ff00", PinRelayOpen: 1, PinRelayClose: 2},
		{ID: "b", Zone: "lawn", ZoneColor: "#ff0000", PinRelayOpen: 3, PinRelayClose: 4},
		{ID: "c", PinRelayOpen: 5, PinRelayClose: 6},
	} {
		if _, err := hub.AddDevice(spec); err != nil {
			t.Fatal(err)
		}
	}

	var zones map[string]controller.Zone
	decode(t, do(t, srv, "GET", "/zones-devices", ""), &zones)
	if len(zones) != 1 {
		t.Fatalf("zones = %v", zones)
	}
	lawn := zones["lawn"]
	if lawn.Color != "#00ff00" || len(lawn.Devices) != 2 {
		t.Errorf("lawn = %+v", lawn)
	}
}

func TestGraphAndFlows(t *testing.T) {
	srv, _ := setupTestServer(t)

	if got := strings.TrimSpace(do(t, srv, "GET", "/load-graph", "").Body.String()); got != "{}" {
		t.Errorf("empty graph = %s", got)
	}
	if got := strings.TrimSpace(do(t, srv, "GET", "/get-flows", "").Body.String()); got != "{}" {
		t.Errorf("empty flows = %s", got)
	}

	if w := do(t, srv, "POST", "/save-graph", `{"nodes":[1,2]}`); w.Code != http.StatusOK {
		t.Fatalf("save graph = %d", w.Code)
	}
	var graph map[string][]int
	decode(t, do(t, srv, "GET", "/load-graph", ""), &graph)
	if len(graph["nodes"]) != 2 {
		t.Errorf("graph = %v", graph)
	}

	for i := 1; i <= 2; i++ {
		var resp struct {
			Status     string `json:"status"`
			TotalFlows int    `json:"total_flows"`
		}
		decode(t, do(t, srv, "POST", "/save-flows", `{"name":"f"}`), &resp)
		if resp.Status != "ok" || resp.TotalFlows != i {
			t.Errorf("save flow %d = %+v", i, resp)
		}
	}
	var flows []map[string]string
	decode(t, do(t, srv, "GET", "/get-flows", ""), &flows)
	if len(flows) != 2 {
		t.Errorf("flows = %v", flows)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, hub := setupTestServer(t)
	addDevice(t, hub, "valve1")
	do(t, srv, "POST", "/set-command", `{"device_id":"valve1","command":"percent_0"}`)
	do(t, srv, "POST", "/set-command", `{"device_id":"ghost","command":"percent_0"}`)

	w := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`valve_commands_set_total{command="percent_0"} 1`,
		`valve_rejected_requests_total{reason="unknown_device"} 1`,
		"valve_pending_commands 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORS(t *testing.T) {
	srv, hub := setupTestServer(t, WithAllowedOrigins([]string{"http://ui.local"}))
	addDevice(t, hub, "valve1")

	body := `{"device_id":"valve1","command":"percent_0"}`

	req := httptest.NewRequest("POST", "/set-command", bytes.NewBufferString(body))
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin: status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest("POST", "/set-command", bytes.NewBufferString(body))
	req.Header.Set("Origin", "http://ui.local")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "http://ui.local" {
		t.Errorf("allowed origin: status = %d, acao = %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	// agents send no Origin
	if w := do(t, srv, "GET", "/get-command/valve1", ""); w.Code != http.StatusOK {
		t.Errorf("no origin: status = %d", w.Code)
	}

	req = httptest.NewRequest("OPTIONS", "/set-command", nil)
	req.Header.Set("Origin", "http://ui.local")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want 204", w.Code)
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _ := setupTestServer(t, WithVersion("1.2.3"))
	var v map[string]string
	decode(t, do(t, srv, "GET", "/api/version", ""), &v)
	if v["version"] != "1.2.3" {
		t.Errorf("version = %v", v)
	}
}
