package controller

import (
	"time"

	"github.com/google/uuid"

	"valve-go-home/internal/valve"
)

// PendingCommand is the content of a device's mailbox slot.
type PendingCommand struct {
	ID       string        `json:"command_id"`
	Command  valve.Command `json:"command"`
	Source   string        `json:"source"`
	QueuedAt time.Time     `json:"queued_at"`
}

// mailbox holds at most one undelivered command per device. A newer
// command replaces an older one; reading clears the slot. It is not
// persisted and is guarded by the hub lock.
type mailbox struct {
	slots map[string]PendingCommand
}

func newMailbox() *mailbox {
	return &mailbox{slots: make(map[string]PendingCommand)}
}

// put stores cmd for deviceID and returns the new entry and the one it
// replaced, if any.
func (m *mailbox) put(deviceID string, cmd valve.Command, source string, now time.Time) (PendingCommand, *PendingCommand) {
	var replaced *PendingCommand
	if old, ok := m.slots[deviceID]; ok {
		replaced = &old
	}
	pc := PendingCommand{
		ID:       uuid.NewString(),
		Command:  cmd,
		Source:   source,
		QueuedAt: now,
	}
	m.slots[deviceID] = pc
	return pc, replaced
}

func (m *mailbox) take(deviceID string) (PendingCommand, bool) {
	pc, ok := m.slots[deviceID]
	if ok {
		delete(m.slots, deviceID)
	}
	return pc, ok
}

func (m *mailbox) peek(deviceID string) (PendingCommand, bool) {
	pc, ok := m.slots[deviceID]
	return pc, ok
}

func (m *mailbox) drop(deviceID string) {
	delete(m.slots, deviceID)
}

func (m *mailbox) len() int {
	return len(m.slots)
}
