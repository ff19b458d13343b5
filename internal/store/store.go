package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Device operations
	SaveDevice(dev *DeviceConfig) error
	GetDevice(id string) (*DeviceConfig, error)
	DeleteDevice(id string) error
	ListDevices() ([]*DeviceConfig, error)

	// SaveDevices writes all given devices in a single transaction.
	SaveDevices(devs []*DeviceConfig) error

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(id string, fn func(dev *DeviceConfig) error) error

	// Opaque JSON documents (graph layout, flows).
	GetBlob(name string) ([]byte, error)
	SaveBlob(name string, data []byte) error
	UpdateBlob(name string, fn func(old []byte) ([]byte, error)) error

	// Close the store
	Close() error
}
