package device

import (
	"fmt"
	"sync"
	"time"
)

// nowFunc is swapped in tests to pin snapshot timestamps.
var nowFunc = time.Now

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the authoritative in-memory map of device state.
//
// All components read and write through it; devices are never deleted
// (immutable identity, mutable state, process lifetime). State mutation
// happens on the engine's single event-processing path, but paho and
// stick callbacks arrive on separate goroutines, so one mutex guards
// the map.
//
// All public methods are thread-safe. Returned devices are deep copies;
// callers can safely inspect them without holding any lock.
type Registry struct {
	devices map[string]*Device
	mu      sync.RWMutex
	logger  Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Get retrieves a device by SNR.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(snr string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[snr]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// Upsert creates the device if absent, otherwise updates only its kind
// and preserves all mutable state fields.
//
// Returns the resulting device and whether it was newly created.
func (r *Registry) Upsert(snr string, kind Kind) (*Device, bool, error) {
	if !kind.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[snr]; ok {
		if existing.Kind != kind {
			r.logger.Info("device kind updated", "snr", snr, "kind", kind)
			existing.Kind = kind
		}
		return existing.DeepCopy(), false, nil
	}

	d := &Device{SNR: snr, Kind: kind}
	r.devices[snr] = d
	r.logger.Info("device registered", "snr", snr, "kind", kind)
	return d.DeepCopy(), true, nil
}

// ApplyObservation merges hardware-confirmed fields into the device and
// marks it observed. Position updates roll the previous value into
// LastPosition so movement direction can be derived from the delta.
//
// Events for unregistered devices lazily register them with the given
// fallback kind rather than failing the event.
func (r *Registry) ApplyObservation(snr string, fallback Kind, obs Observation) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[snr]
	if !ok {
		if !fallback.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, fallback)
		}
		d = &Device{SNR: snr, Kind: fallback}
		r.devices[snr] = d
		r.logger.Warn("observation for unregistered device, registering",
			"snr", snr, "kind", fallback)
	}

	if obs.Position != nil {
		d.LastPosition = d.Position
		d.Position = *obs.Position
	}
	if obs.Tilt != nil && d.Kind.HasTilt() {
		d.Tilt = copyIntPtr(obs.Tilt)
	}
	if obs.Brightness != nil && d.Kind.IsLight() {
		d.Brightness = copyIntPtr(obs.Brightness)
		if *obs.Brightness > 0 {
			d.LastBrightness = copyIntPtr(obs.Brightness)
		}
	}
	d.Observed = true

	return d.DeepCopy(), nil
}

// ApplyIntent merges optimistic fields from a control-plane command
// before the hardware confirms them. Observed is left untouched: an
// intent is not a hardware confirmation. Position and LastPosition are
// never written here; they belong to ApplyObservation so movement
// derivation always compares against confirmed hardware state.
func (r *Registry) ApplyIntent(snr string, intent Intent) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[snr]
	if !ok {
		return nil, ErrDeviceNotFound
	}

	if intent.Tilt != nil && d.Kind.HasTilt() {
		d.Tilt = copyIntPtr(intent.Tilt)
	}
	if intent.Brightness != nil && d.Kind.IsLight() {
		d.Brightness = copyIntPtr(intent.Brightness)
		if *intent.Brightness > 0 {
			d.LastBrightness = copyIntPtr(intent.Brightness)
		}
	}

	return d.DeepCopy(), nil
}

// All returns deep copies of every registered device.
func (r *Registry) All() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Seed populates the registry from persisted snapshots.
//
// Seeded values are not hardware-confirmed, so Observed stays false and
// the first live observation still publishes with retain per the
// first-observation policy. Snapshots with unknown kinds are skipped.
func (r *Registry) Seed(snapshots []Snapshot) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	seeded := 0
	for _, s := range snapshots {
		if !s.Kind.Valid() {
			r.logger.Warn("skipping snapshot with unknown kind",
				"snr", s.SNR, "kind", s.Kind)
			continue
		}
		if _, exists := r.devices[s.SNR]; exists {
			continue
		}
		d := &Device{
			SNR:          s.SNR,
			Kind:         s.Kind,
			Position:     s.Position,
			LastPosition: s.Position,
		}
		if s.Kind.HasTilt() {
			d.Tilt = copyIntPtr(s.Tilt)
		}
		if s.Kind.IsLight() {
			d.Brightness = copyIntPtr(s.Brightness)
			d.LastBrightness = copyIntPtr(s.LastBrightness)
		}
		r.devices[s.SNR] = d
		seeded++
	}

	if seeded > 0 {
		r.logger.Info("registry seeded from snapshots", "count", seeded)
	}
	return seeded
}

// Snapshots extracts the persisted subset of every device that carries
// snapshot-worthy state (everything except weather stations, whose
// readings are transient by nature).
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.devices))
	for _, d := range r.devices {
		if d.Kind == KindWeatherStation {
			continue
		}
		snapshots = append(snapshots, d.ToSnapshot(nowFunc()))
	}
	return snapshots
}
