package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/store"
)

type addDeviceRequest struct {
	DeviceID             string          `json:"device_id"`
	Zone                 string          `json:"zone"`
	ZoneColor            string          `json:"zone_color"`
	PinRelayOpen         int             `json:"pin_relay_open"`
	PinRelayClose        int             `json:"pin_relay_close"`
	Model                string          `json:"model"`
	MaintenanceEnabled   bool            `json:"maintenance_enabled"`
	MaintenanceTime      string          `json:"maintenance_time"`
	MaintenanceFrequency store.Frequency `json:"maintenance_frequency"`
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	_, err := s.hub.AddDevice(controller.DeviceSpec{
		ID:                   req.DeviceID,
		Zone:                 req.Zone,
		ZoneColor:            req.ZoneColor,
		PinRelayOpen:         req.PinRelayOpen,
		PinRelayClose:        req.PinRelayClose,
		Model:                req.Model,
		MaintenanceEnabled:   req.MaintenanceEnabled,
		MaintenanceTime:      req.MaintenanceTime,
		MaintenanceFrequency: req.MaintenanceFrequency,
	})
	if errors.Is(err, controller.ErrInvalidDevice) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("add device", "device_id", req.DeviceID, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.hub.Zones()
	if err != nil {
		s.logger.Error("list zones", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, zones)
}

func (s *Server) handleSaveGraph(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if !s.decodeBody(w, r, &doc) {
		return
	}
	if err := s.hub.SaveGraph(doc); err != nil {
		s.logger.Error("save graph", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoadGraph(w http.ResponseWriter, r *http.Request) {
	doc, err := s.hub.Graph()
	if err != nil {
		s.logger.Error("load graph", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if doc == nil {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSaveFlows(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if !s.decodeBody(w, r, &doc) {
		return
	}
	n, err := s.hub.AppendFlow(doc)
	if err != nil {
		s.logger.Error("save flow", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "total_flows": n})
}

func (s *Server) handleGetFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.hub.Flows()
	if err != nil {
		s.logger.Error("load flows", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if len(flows) == 0 {
		s.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, flows)
}
