// Package mapping loads the coach-specific device mapping: which (PGN,
// instance) pairs correspond to which logical entities, and what those
// entities are. Immutable after load, like the protocol catalog.
package mapping

import "sort"

// Device type constants (closed set).
const (
	DeviceTypeLight       = "light"
	DeviceTypeLock        = "lock"
	DeviceTypeTank        = "tank"
	DeviceTypeTemperature = "temperature"
	DeviceTypeSwitch      = "switch"
	DeviceTypeFan         = "fan"
	DeviceTypeSensor      = "sensor"
)

// Capability constants.
const (
	CapOnOff       = "on_off"
	CapBrightness  = "brightness"
	CapLockUnlock  = "lock_unlock"
	CapLevel       = "level"
	CapTemperature = "temperature"
	CapSpeed       = "speed"
)

// deviceCapabilities defines, per device type, the capabilities a binding may
// declare. A binding's capability set must be a subset of its type's set.
var deviceCapabilities = map[string][]string{
	DeviceTypeLight:       {CapOnOff, CapBrightness},
	DeviceTypeLock:        {CapLockUnlock},
	DeviceTypeTank:        {CapLevel},
	DeviceTypeTemperature: {CapTemperature},
	DeviceTypeSwitch:      {CapOnOff},
	DeviceTypeFan:         {CapOnOff, CapSpeed},
	DeviceTypeSensor:      {},
}

// DeviceTypes returns the closed set of device types, sorted.
func DeviceTypes() []string {
	out := make([]string, 0, len(deviceCapabilities))
	for t := range deviceCapabilities {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MappingFile represents the coach mapping file (mapping.json).
type MappingFile struct {
	Version  string           `json:"version"`
	Coach    string           `json:"coach,omitempty"`
	Bindings []*DeviceBinding `json:"bindings"`
}

// DeviceBinding binds one (PGN, instance) pair to a logical entity.
type DeviceBinding struct {
	PGNHex   string `json:"pgn"` // hex key, e.g. "0x1FEDA"
	PGN      uint32 `json:"-"`   // filled by the loader
	Instance *int   `json:"instance"` // nil for single-instance PGNs

	EntityID     string   `json:"entity_id"`
	FriendlyName string   `json:"name"`
	DeviceType   string   `json:"device_type"`
	Area         string   `json:"area,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Protocol     string   `json:"protocol,omitempty"`  // defaults to "rvc"
	Interface    string   `json:"interface,omitempty"` // logical interface for commands ("house", "chassis")

	// StateSignals renames decoded signals into entity state keys, e.g.
	// {"operating_status": "brightness"}. Signals not listed are dropped from
	// entity state when the map is non-empty; when empty, every non-instance
	// signal is kept under its own name.
	StateSignals map[string]string `json:"state_signals,omitempty"`
}

// HasCapability reports whether the binding declares the capability.
func (b *DeviceBinding) HasCapability(cap string) bool {
	for _, c := range b.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// bindingKey identifies a binding by protocol bus coordinates.
type bindingKey struct {
	pgn      uint32
	instance int // -1 for wildcard
}

// Mapping is the loaded, indexed device mapping. Read-only after load.
type Mapping struct {
	coach    string
	byKey    map[bindingKey]*DeviceBinding
	byEntity map[string]*DeviceBinding
	byType   map[string][]*DeviceBinding
}

// Coach returns the coach identifier from the mapping file.
func (m *Mapping) Coach() string {
	return m.coach
}

// Resolve returns the binding for (pgn, instance), trying the exact instance
// first and falling back to a wildcard binding.
func (m *Mapping) Resolve(pgn uint32, instance int) (*DeviceBinding, bool) {
	if b, ok := m.byKey[bindingKey{pgn, instance}]; ok {
		return b, true
	}
	b, ok := m.byKey[bindingKey{pgn, -1}]
	return b, ok
}

// ByEntityID returns the binding owning an entity id.
func (m *Mapping) ByEntityID(id string) (*DeviceBinding, bool) {
	b, ok := m.byEntity[id]
	return b, ok
}

// EntitiesByType returns the bindings of one device type, ordered by entity id.
func (m *Mapping) EntitiesByType(deviceType string) []*DeviceBinding {
	return m.byType[deviceType]
}

// Entities returns every binding ordered by entity id.
func (m *Mapping) Entities() []*DeviceBinding {
	out := make([]*DeviceBinding, 0, len(m.byEntity))
	for _, b := range m.byEntity {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Len returns the number of bindings.
func (m *Mapping) Len() int {
	return len(m.byEntity)
}
