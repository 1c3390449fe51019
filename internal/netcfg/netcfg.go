// Package netcfg holds operator network configuration: per-device and
// per-port overlays loaded from YAML and changed at runtime.
package netcfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"netcontrol/internal/device"
	"netcontrol/internal/overlay"
)

// EventType is the kind of config change.
type EventType string

const (
	ConfigAdded   EventType = "config_added"
	ConfigUpdated EventType = "config_updated"
	ConfigRemoved EventType = "config_removed"
)

// Event reports a config change. Subject.Port is meaningful only for port
// kinds. Prev and Config hold the typed overlay (e.g.
// *overlay.BasicDeviceConfig) or nil.
type Event struct {
	Type    EventType
	Kind    overlay.Kind
	Subject device.ConnectPoint
	Prev    any
	Config  any
}

// Listener receives config events.
type Listener func(Event)

// File is the on-disk layout.
//
//	devices:
//	  "of:0000000000000001":
//	    basic: {name: core-1, allowed: true}
//	    ports:
//	      "3":
//	        optical: {type: OCH, name: och-3}
//	        annotations: {circuit: c-17}
type File struct {
	Devices map[device.ID]DeviceEntry `yaml:"devices"`
}

// DeviceEntry is one device's section.
type DeviceEntry struct {
	Basic *overlay.BasicDeviceConfig `yaml:"basic,omitempty"`
	Ports map[string]PortEntry        `yaml:"ports,omitempty"`
}

// PortEntry is one port's section.
type PortEntry struct {
	Optical     *overlay.OpticalPortConfig `yaml:"optical,omitempty"`
	Annotations device.Annotations         `yaml:"annotations,omitempty"`
}

type snapshot struct {
	basic       map[device.ID]*overlay.BasicDeviceConfig
	optical     map[device.ConnectPoint]*overlay.OpticalPortConfig
	annotations map[device.ConnectPoint]*overlay.PortAnnotationConfig
}

func newSnapshot() snapshot {
	return snapshot{
		basic:       make(map[device.ID]*overlay.BasicDeviceConfig),
		optical:     make(map[device.ConnectPoint]*overlay.OpticalPortConfig),
		annotations: make(map[device.ConnectPoint]*overlay.PortAnnotationConfig),
	}
}

// Registry is the in-memory config source.
type Registry struct {
	logger *slog.Logger

	mu   sync.RWMutex
	cfg  snapshot
	path string

	lmu       sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("component", "netcfg"),
		cfg:       newSnapshot(),
		listeners: make(map[uint64]Listener),
	}
}

// BasicDevice returns the device overlay for id, or nil.
func (r *Registry) BasicDevice(id device.ID) *overlay.BasicDeviceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.basic[id]
}

// OpticalPort returns the optical overlay for cp, or nil.
func (r *Registry) OpticalPort(cp device.ConnectPoint) *overlay.OpticalPortConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.optical[cp]
}

// PortAnnotations returns the annotation overlay for cp, or nil.
func (r *Registry) PortAnnotations(cp device.ConnectPoint) *overlay.PortAnnotationConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.annotations[cp]
}

// AddListener registers fn for config events. Returns a removal function.
func (r *Registry) AddListener(fn Listener) func() {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.lmu.Lock()
		defer r.lmu.Unlock()
		delete(r.listeners, id)
	}
}

// SetBasic sets or, with a nil cfg, removes a device overlay.
func (r *Registry) SetBasic(id device.ID, cfg *overlay.BasicDeviceConfig) {
	r.mu.Lock()
	prev := r.cfg.basic[id]
	if cfg == nil {
		delete(r.cfg.basic, id)
	} else {
		r.cfg.basic[id] = cfg
	}
	r.mu.Unlock()
	if ev, ok := diffOne(overlay.KindBasic, device.ConnectPoint{Device: id}, prev, cfg); ok {
		r.notify([]Event{ev})
	}
}

// SetOptical sets or, with a nil cfg, removes an optical port overlay.
func (r *Registry) SetOptical(cp device.ConnectPoint, cfg *overlay.OpticalPortConfig) {
	r.mu.Lock()
	prev := r.cfg.optical[cp]
	if cfg == nil {
		delete(r.cfg.optical, cp)
	} else {
		r.cfg.optical[cp] = cfg
	}
	r.mu.Unlock()
	if ev, ok := diffOne(overlay.KindOptical, cp, prev, cfg); ok {
		r.notify([]Event{ev})
	}
}

// SetPortAnnotations sets or, with a nil cfg, removes a port annotation
// overlay.
func (r *Registry) SetPortAnnotations(cp device.ConnectPoint, cfg *overlay.PortAnnotationConfig) {
	r.mu.Lock()
	prev := r.cfg.annotations[cp]
	if cfg == nil {
		delete(r.cfg.annotations, cp)
	} else {
		r.cfg.annotations[cp] = cfg
	}
	r.mu.Unlock()
	if ev, ok := diffOne(overlay.KindAnnotations, cp, prev, cfg); ok {
		r.notify([]Event{ev})
	}
}

// Load reads path and applies it. A missing file is an empty config.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("no network config file, starting empty", "path", path)
			data = nil
		} else {
			return fmt.Errorf("read network config: %w", err)
		}
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse network config %s: %w", path, err)
	}
	if err := r.Apply(&f); err != nil {
		return err
	}
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return nil
}

// Reload re-reads the file last passed to Load.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no network config file loaded")
	}
	return r.Load(path)
}

// Apply replaces the whole config with f and emits one event per change.
func (r *Registry) Apply(f *File) error {
	next := newSnapshot()
	for id, d := range f.Devices {
		if d.Basic != nil {
			next.basic[id] = d.Basic
		}
		for key, p := range d.Ports {
			n, err := device.ParsePortNumber(key)
			if err != nil {
				return fmt.Errorf("device %s: port %q: %w", id, key, err)
			}
			cp := device.ConnectPoint{Device: id, Port: n}
			if p.Optical != nil {
				next.optical[cp] = p.Optical
			}
			if len(p.Annotations) > 0 {
				next.annotations[cp] = &overlay.PortAnnotationConfig{Annotations: p.Annotations}
			}
		}
	}

	r.mu.Lock()
	prev := r.cfg
	r.cfg = next
	r.mu.Unlock()

	var events []Event
	events = append(events, diffMaps(overlay.KindBasic, prev.basic, next.basic, func(id device.ID) device.ConnectPoint {
		return device.ConnectPoint{Device: id}
	})...)
	events = append(events, diffMaps(overlay.KindOptical, prev.optical, next.optical, identity)...)
	events = append(events, diffMaps(overlay.KindAnnotations, prev.annotations, next.annotations, identity)...)
	r.logger.Info("network config applied", "devices", len(next.basic), "changes", len(events))
	r.notify(events)
	return nil
}

func identity(cp device.ConnectPoint) device.ConnectPoint { return cp }

func diffMaps[K comparable, V any](kind overlay.Kind, prev, next map[K]*V, subject func(K) device.ConnectPoint) []Event {
	var events []Event
	for k, v := range next {
		if ev, ok := diffOne(kind, subject(k), prev[k], v); ok {
			events = append(events, ev)
		}
	}
	for k, v := range prev {
		if _, ok := next[k]; !ok {
			events = append(events, Event{Type: ConfigRemoved, Kind: kind, Subject: subject(k), Prev: v})
		}
	}
	slices.SortFunc(events, func(a, b Event) int {
		if c := cmp.Compare(a.Subject.Device, b.Subject.Device); c != 0 {
			return c
		}
		return cmp.Compare(a.Subject.Port, b.Subject.Port)
	})
	return events
}

func diffOne[V any](kind overlay.Kind, subject device.ConnectPoint, prev, next *V) (Event, bool) {
	switch {
	case prev == nil && next == nil:
		return Event{}, false
	case prev == nil:
		return Event{Type: ConfigAdded, Kind: kind, Subject: subject, Config: next}, true
	case next == nil:
		return Event{Type: ConfigRemoved, Kind: kind, Subject: subject, Prev: prev}, true
	case reflect.DeepEqual(prev, next):
		return Event{}, false
	}
	return Event{Type: ConfigUpdated, Kind: kind, Subject: subject, Prev: prev, Config: next}, true
}

func (r *Registry) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	r.lmu.RLock()
	ids := make([]uint64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, r.listeners[id])
	}
	r.lmu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.logger.Error("config listener panic", "kind", ev.Kind, "panic", rec)
					}
				}()
				l(ev)
			}()
		}
	}
}
