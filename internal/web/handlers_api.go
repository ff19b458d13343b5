package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/metrics"
	"valve-go-home/internal/store"
)

type setCommandRequest struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

func (s *Server) handleSetCommand(w http.ResponseWriter, r *http.Request) {
	var req setCommandRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	_, err := s.hub.SetCommand(req.DeviceID, req.Command, controller.SourceAPI)
	switch {
	case errors.Is(err, controller.ErrUnknownDevice):
		s.writeText(w, http.StatusBadRequest, "invalid device")
		return
	case errors.Is(err, controller.ErrInvalidCommand):
		s.writeText(w, http.StatusBadRequest, fmt.Sprintf("invalid command: %s", req.Command))
		return
	case err != nil:
		s.logger.Error("set command", "device_id", req.DeviceID, "err", err)
		s.writeText(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeText(w, http.StatusOK, fmt.Sprintf("command '%s' set for %s", req.Command, req.DeviceID))
}

type getCommandResponse struct {
	Command   *string `json:"command"`
	CommandID string  `json:"command_id,omitempty"`
}

// handleGetCommand hands the pending command to the polling device and
// clears it. Unknown devices get {"command": null} like an empty mailbox.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	var resp getCommandResponse
	if pc, ok := s.hub.TakeCommand(r.PathValue("device_id")); ok {
		cmd := string(pc.Command)
		resp.Command = &cmd
		resp.CommandID = pc.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("device_id")

	var st store.DeviceStatus
	if !s.decodeBody(w, r, &st) {
		return
	}

	err := s.hub.ReportStatus(id, st)
	switch {
	case errors.Is(err, controller.ErrUnknownDevice):
		s.writeText(w, http.StatusBadRequest, "invalid device")
		return
	case errors.Is(err, controller.ErrInvalidStatus):
		s.writeText(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("status report", "device_id", id, "err", err)
		s.writeText(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeText(w, http.StatusOK, "status received")
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.hub.Status(r.PathValue("device_id"))
	if err != nil || st == nil {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// setMaintenanceRequest uses pointers so absent fields fall back to the
// registry defaults instead of zero values.
type setMaintenanceRequest struct {
	DeviceID  string           `json:"device_id"`
	Enabled   *bool            `json:"maintenance_enabled"`
	Time      *string          `json:"maintenance_time"`
	Frequency *store.Frequency `json:"maintenance_frequency"`
}

func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req setMaintenanceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if _, err := s.hub.Device(req.DeviceID); err != nil {
		s.writeText(w, http.StatusNotFound, "unknown device")
		return
	}

	ms := controller.MaintenanceSettings{
		Time:      store.DefaultMaintenanceTime,
		Frequency: store.FrequencyDaily,
	}
	if req.Enabled != nil {
		ms.Enabled = *req.Enabled
	}
	if req.Time != nil {
		ms.Time = *req.Time
	}
	if req.Frequency != nil {
		ms.Frequency = *req.Frequency
	}

	err := s.hub.SetMaintenance(req.DeviceID, ms)
	switch {
	case errors.Is(err, controller.ErrUnknownDevice):
		s.writeText(w, http.StatusNotFound, "unknown device")
		return
	case errors.Is(err, controller.ErrInvalidMaintenance):
		s.hub.Metrics().Rejected(metrics.ReasonBadRequest)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("set maintenance", "device_id", req.DeviceID, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	ms, err := s.hub.Maintenance(r.PathValue("device_id"))
	if err != nil {
		s.writeText(w, http.StatusNotFound, "unknown device")
		return
	}
	s.writeJSON(w, http.StatusOK, ms)
}

// handleListDevices returns every device config keyed by id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.hub.Devices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, devicesByID(devices))
}

// devicesByID keys configs by id, since the id is not part of the record.
func devicesByID(devices []*store.DeviceConfig) map[string]*store.DeviceConfig {
	out := make(map[string]*store.DeviceConfig, len(devices))
	for _, dev := range devices {
		out[dev.ID] = dev
	}
	return out
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	dev, err := s.hub.Device(r.PathValue("device_id"))
	if err != nil {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

// decodeBody reads a JSON body of at most 1 MB into v and writes a 400 on
// failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.hub.Metrics().Rejected(metrics.ReasonBadRequest)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(msg)); err != nil {
		s.logger.Debug("write text response", "err", err)
	}
}
