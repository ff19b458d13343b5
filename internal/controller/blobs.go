package controller

import (
	"encoding/json"
	"errors"
	"fmt"

	"valve-go-home/internal/store"
)

const (
	blobGraph = "graph"
	blobFlows = "flows"
)

// SaveGraph overwrites the stored graph editor document.
func (h *Hub) SaveGraph(doc json.RawMessage) error {
	if !json.Valid(doc) {
		return fmt.Errorf("graph is not valid JSON")
	}
	return h.store.SaveBlob(blobGraph, doc)
}

// Graph returns the stored graph document, or nil if none was saved.
func (h *Hub) Graph() (json.RawMessage, error) {
	data, err := h.store.GetBlob(blobGraph)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// AppendFlow adds doc to the stored flow list and returns the new length.
// A stored value that is not a list is discarded.
func (h *Hub) AppendFlow(doc json.RawMessage) (int, error) {
	if !json.Valid(doc) {
		return 0, fmt.Errorf("flow is not valid JSON")
	}
	var total int
	err := h.store.UpdateBlob(blobFlows, func(old []byte) ([]byte, error) {
		var flows []json.RawMessage
		if old != nil {
			if err := json.Unmarshal(old, &flows); err != nil {
				flows = nil
			}
		}
		flows = append(flows, doc)
		total = len(flows)
		return json.Marshal(flows)
	})
	if err != nil {
		return 0, fmt.Errorf("append flow: %w", err)
	}
	return total, nil
}

// Flows returns the stored flow list, or nil if none was saved.
func (h *Hub) Flows() ([]json.RawMessage, error) {
	data, err := h.store.GetBlob(blobFlows)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var flows []json.RawMessage
	if err := json.Unmarshal(data, &flows); err != nil {
		return nil, fmt.Errorf("decode flows: %w", err)
	}
	return flows, nil
}
