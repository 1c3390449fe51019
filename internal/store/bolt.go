package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"netcontrol/internal/device"
)

var (
	bucketDevices = []byte("devices")
	bucketPorts   = []byte("ports")
	bucketStats   = []byte("stats")
)

// BoltStore implements Store using BoltDB. Ports and statistics live in a
// nested bucket per device.
type BoltStore struct {
	db          *bolt.DB
	now         func() time.Time
	masterCheck func(device.ID) bool

	mu       sync.RWMutex
	delegate Delegate
}

// Option configures a BoltStore.
type Option func(*BoltStore)

// WithMasterCheck makes MarkOnline and MarkOffline fail with ErrNotMaster
// when check reports this instance is not the device's master.
func WithMasterCheck(check func(device.ID) bool) Option {
	return func(s *BoltStore) { s.masterCheck = check }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *BoltStore) { s.now = now }
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketPorts, bucketStats} {
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

	s := &BoltStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *BoltStore) SetDelegate(d Delegate) {
	s.mu.Lock()
	s.delegate = d
	s.mu.Unlock()
}

func (s *BoltStore) notify(ev *device.Event) {
	s.mu.RLock()
	d := s.delegate
	s.mu.RUnlock()
	if d != nil && ev != nil {
		d(*ev)
	}
}

func portKey(n device.PortNumber) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(n))
	return k[:]
}

func readDevice(tx *bolt.Tx, id device.ID) (*device.Device, error) {
	data := tx.Bucket(bucketDevices).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var dev device.Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", id, err)
	}
	return &dev, nil
}

func writeDevice(tx *bolt.Tx, dev *device.Device) error {
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDevices).Put([]byte(dev.ID), data)
}

func readPort(b *bolt.Bucket, n device.PortNumber) (*device.Port, error) {
	if b == nil {
		return nil, nil
	}
	data := b.Get(portKey(n))
	if data == nil {
		return nil, nil
	}
	var p device.Port
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode port %d: %w", n, err)
	}
	return &p, nil
}

func writePort(b *bolt.Bucket, p *device.Port) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.Put(portKey(p.Number), data)
}

func (s *BoltStore) event(t device.EventType, dev *device.Device, p *device.Port) *device.Event {
	return &device.Event{Type: t, Device: dev, Port: p, Time: s.now()}
}

func (s *BoltStore) CreateOrUpdateDevice(pid device.ProviderID, id device.ID, desc *device.Description) (*device.Event, error) {
	if desc == nil {
		return nil, fmt.Errorf("device %s: nil description", id)
	}
	var ev, avail *device.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		old, err := readDevice(tx, id)
		if err != nil {
			return err
		}
		dev := &device.Device{
			ID:           id,
			ProviderID:   pid,
			Type:         desc.Type,
			Manufacturer: desc.Manufacturer,
			HWVersion:    desc.HWVersion,
			SWVersion:    desc.SWVersion,
			SerialNumber: desc.SerialNumber,
			ChassisID:    desc.ChassisID,
			Annotations:  desc.Annotations.Copy(),
			Available:    true,
			Updated:      s.now(),
		}
		if old == nil {
			ev = s.event(device.DeviceAdded, dev, nil)
			return writeDevice(tx, dev)
		}

		changed := old.ProviderID != pid ||
			old.Type != desc.Type ||
			old.Manufacturer != desc.Manufacturer ||
			old.HWVersion != desc.HWVersion ||
			old.SWVersion != desc.SWVersion ||
			old.SerialNumber != desc.SerialNumber ||
			old.ChassisID != desc.ChassisID ||
			!old.Annotations.Equal(desc.Annotations)
		if !changed && old.Available {
			return nil
		}
		if changed {
			ev = s.event(device.DeviceUpdated, dev, nil)
		}
		if !old.Available {
			avail = s.event(device.DeviceAvailabilityChanged, dev, nil)
		}
		return writeDevice(tx, dev)
	})
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return avail, nil
	}
	s.notify(avail)
	return ev, nil
}

func (s *BoltStore) RemoveDevice(id device.ID) (*device.Event, error) {
	var ev *device.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		dev, err := readDevice(tx, id)
		if err != nil || dev == nil {
			return err
		}
		if err := tx.Bucket(bucketDevices).Delete([]byte(id)); err != nil {
			return err
		}
		for _, name := range [][]byte{bucketPorts, bucketStats} {
			parent := tx.Bucket(name)
			if parent.Bucket([]byte(id)) != nil {
				if err := parent.DeleteBucket([]byte(id)); err != nil {
					return err
				}
			}
		}
		ev = s.event(device.DeviceRemoved, dev, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *BoltStore) MarkOnline(id device.ID) (*device.Event, error) {
	return s.setAvailable(id, true)
}

func (s *BoltStore) MarkOffline(id device.ID) (*device.Event, error) {
	return s.setAvailable(id, false)
}

func (s *BoltStore) setAvailable(id device.ID, available bool) (*device.Event, error) {
	if s.masterCheck != nil && !s.masterCheck(id) {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotMaster)
	}
	var ev *device.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		dev, err := readDevice(tx, id)
		if err != nil || dev == nil || dev.Available == available {
			return err
		}
		dev.Available = available
		dev.Updated = s.now()
		ev = s.event(device.DeviceAvailabilityChanged, dev, nil)
		return writeDevice(tx, dev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func newPort(pid device.ProviderID, id device.ID, d *device.PortDescription, now time.Time) *device.Port {
	return &device.Port{
		DeviceID:    id,
		ProviderID:  pid,
		Number:      d.Number,
		Enabled:     d.Enabled,
		Removed:     d.Removed,
		Type:        d.Type,
		Speed:       d.Speed,
		Annotations: d.Annotations.Copy(),
		Updated:     now,
	}
}

func portChanged(old, p *device.Port) bool {
	return old.Enabled != p.Enabled ||
		old.Removed != p.Removed ||
		old.Type != p.Type ||
		old.Speed != p.Speed ||
		old.ProviderID != p.ProviderID ||
		!old.Annotations.Equal(p.Annotations)
}

func (s *BoltStore) UpdatePorts(pid device.ProviderID, id device.ID, descs []*device.PortDescription) ([]device.Event, error) {
	var events []device.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		dev, err := readDevice(tx, id)
		if err != nil {
			return err
		}
		if dev == nil {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		b, err := tx.Bucket(bucketPorts).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		now := s.now()
		seen := make(map[device.PortNumber]bool, len(descs))
		for _, d := range descs {
			if d == nil {
				continue
			}
			seen[d.Number] = true
			old, err := readPort(b, d.Number)
			if err != nil {
				return err
			}
			p := newPort(pid, id, d, now)
			var t device.EventType
			switch {
			case old == nil:
				t = device.PortAdded
			case portChanged(old, p):
				t = device.PortUpdated
			default:
				continue
			}
			if err := writePort(b, p); err != nil {
				return err
			}
			events = append(events, *s.event(t, dev, p))
		}

		var stale []*device.Port
		err = b.ForEach(func(_, v []byte) error {
			var p device.Port
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.ProviderID == pid && !seen[p.Number] {
				stale = append(stale, &p)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, p := range stale {
			if err := b.Delete(portKey(p.Number)); err != nil {
				return err
			}
			events = append(events, *s.event(device.PortRemoved, dev, p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *BoltStore) UpdatePortStatus(pid device.ProviderID, id device.ID, d *device.PortDescription) (*device.Event, error) {
	if d == nil {
		return nil, fmt.Errorf("device %s: nil port description", id)
	}
	var ev *device.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		dev, err := readDevice(tx, id)
		if err != nil {
			return err
		}
		if dev == nil {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		b, err := tx.Bucket(bucketPorts).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		old, err := readPort(b, d.Number)
		if err != nil {
			return err
		}
		p := newPort(pid, id, d, s.now())
		var t device.EventType
		switch {
		case p.Removed:
			if old != nil && old.Removed {
				return nil
			}
			t = device.PortRemoved
		case old == nil:
			t = device.PortAdded
		case portChanged(old, p):
			t = device.PortUpdated
		default:
			return nil
		}
		ev = s.event(t, dev, p)
		return writePort(b, p)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *BoltStore) UpdatePortStatistics(pid device.ProviderID, id device.ID, stats []device.PortStatistics) (*device.Event, error) {
	var ev *device.Event
	err := s.db.Update(func(tx *bolt.Tx) error {
		dev, err := readDevice(tx, id)
		if err != nil {
			return err
		}
		if dev == nil {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		b, err := tx.Bucket(bucketStats).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		for _, st := range stats {
			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			if err := b.Put(portKey(st.Port), data); err != nil {
				return err
			}
		}
		ev = s.event(device.PortStatsUpdated, dev, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *BoltStore) GetDevice(id device.ID) (*device.Device, error) {
	var dev *device.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = readDevice(tx, id)
		if err != nil {
			return err
		}
		if dev == nil {
			return fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *BoltStore) GetDevices() ([]*device.Device, error) {
	var devices []*device.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		devices = make([]*device.Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev device.Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) GetPort(id device.ID, n device.PortNumber) (*device.Port, error) {
	var p *device.Port
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = readPort(tx.Bucket(bucketPorts).Bucket([]byte(id)), n)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("port %s/%d: %w", id, n, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BoltStore) GetPorts(id device.ID) ([]*device.Port, error) {
	var ports []*device.Port
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPorts).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var p device.Port
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			ports = append(ports, &p)
			return nil
		})
	})
	return ports, err
}

func (s *BoltStore) GetPortStatistics(id device.ID) ([]device.PortStatistics, error) {
	var stats []device.PortStatistics
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var st device.PortStatistics
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			stats = append(stats, st)
			return nil
		})
	})
	return stats, err
}

func (s *BoltStore) IsAvailable(id device.ID) bool {
	dev, err := s.GetDevice(id)
	return err == nil && dev.Available
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
