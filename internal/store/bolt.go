package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketBlobs   = []byte("blobs")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketBlobs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func putDevice(b *bolt.Bucket, dev *DeviceConfig) error {
	if dev.ID == "" {
		return fmt.Errorf("device id is empty")
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return b.Put([]byte(dev.ID), data)
}

func decodeDevice(k, v []byte) (*DeviceConfig, error) {
	var dev DeviceConfig
	if err := json.Unmarshal(v, &dev); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", k, err)
	}
	dev.ID = string(k)
	return &dev, nil
}

func (s *BoltStore) SaveDevice(dev *DeviceConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return putDevice(b, dev)
	})
}

func (s *BoltStore) SaveDevices(devs []*DeviceConfig) error {
	if len(devs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		for _, dev := range devs {
			if err := putDevice(b, dev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetDevice(id string) (*DeviceConfig, error) {
	var dev *DeviceConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		var err error
		dev, err = decodeDevice([]byte(id), data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *BoltStore) UpdateDevice(id string, fn func(dev *DeviceConfig) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		dev, err := decodeDevice([]byte(id), data)
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return err
		}
		dev.ID = id
		return putDevice(b, dev)
	})
}

func (s *BoltStore) DeleteDevice(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return b.Delete([]byte(id))
	})
}

// ListDevices returns all devices ordered by id.
func (s *BoltStore) ListDevices() ([]*DeviceConfig, error) {
	var devices []*DeviceConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*DeviceConfig, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			dev, err := decodeDevice(k, v)
			if err != nil {
				return err
			}
			devices = append(devices, dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) GetBlob(name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketBlobs)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("blob %s: %w", name, ErrNotFound)
		}
		// Bolt memory is only valid inside the transaction.
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

func (s *BoltStore) SaveBlob(name string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketBlobs)
		}
		return b.Put([]byte(name), data)
	})
}

// UpdateBlob reads the current blob (nil if absent), passes it to fn, and
// stores the result in the same transaction.
func (s *BoltStore) UpdateBlob(name string, fn func(old []byte) ([]byte, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketBlobs)
		}
		var old []byte
		if data := b.Get([]byte(name)); data != nil {
			old = append([]byte(nil), data...)
		}
		next, err := fn(old)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), next)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
