// Package store owns all entity state. A single writer task serializes every
// mutation through one inbox; readers receive immutable snapshots produced
// under the same serialization point, so no reader-side locking exists.
package store

import (
	"sort"
	"time"

	"github.com/rvlink-network/rvlink/pkg/decode"
	"github.com/rvlink-network/rvlink/pkg/mapping"
)

// DefaultHistoryDepth is the per-entity state history ring size.
const DefaultHistoryDepth = 256

// Staleness windows per device type: an entity with no update inside its
// window becomes unavailable.
var stalenessWindows = map[string]time.Duration{
	mapping.DeviceTypeLight:       60 * time.Second,
	mapping.DeviceTypeLock:        30 * time.Second,
	mapping.DeviceTypeTank:        600 * time.Second,
	mapping.DeviceTypeTemperature: 300 * time.Second,
}

// defaultStalenessWindow applies to device types without a specific window.
const defaultStalenessWindow = 300 * time.Second

func stalenessWindow(deviceType string) time.Duration {
	if w, ok := stalenessWindows[deviceType]; ok {
		return w
	}
	return defaultStalenessWindow
}

// entity is the store-private mutable record. Never escapes the writer task.
type entity struct {
	binding *mapping.DeviceBinding

	state       map[string]interface{}
	available   bool
	seenTraffic bool // at least one frame accepted since boot
	lastUpdated time.Time

	history []HistoryEntry // ring, oldest overwritten
	histPos int
	histLen int
}

func newEntity(b *mapping.DeviceBinding) *entity {
	return &entity{
		binding: b,
		state:   map[string]interface{}{},
		history: make([]HistoryEntry, DefaultHistoryDepth),
	}
}

// merge applies decoded signals at signal level: present signals replace
// their previous values, absent signals are untouched, and not-available
// readings never overwrite known state. Returns the changed state keys.
func (e *entity) merge(signals map[string]decode.Value) []string {
	var changed []string
	for sigName, v := range signals {
		key, ok := e.stateKey(sigName)
		if !ok || v.NA {
			continue
		}
		val := stateValue(v)
		if prev, exists := e.state[key]; !exists || prev != val {
			e.state[key] = val
			changed = append(changed, key)
		}
	}

	if c := e.deriveOnOff(); c != "" {
		changed = append(changed, c)
	}
	sort.Strings(changed)
	return changed
}

// stateKey maps a bus signal name to an entity state key per the binding's
// rename map. With an empty map every non-instance signal keeps its name.
func (e *entity) stateKey(sigName string) (string, bool) {
	if len(e.binding.StateSignals) > 0 {
		key, ok := e.binding.StateSignals[sigName]
		return key, ok
	}
	if sigName == "instance" {
		return "", false
	}
	return sigName, true
}

// deriveOnOff maintains the "state" on/off field from brightness for
// bindings with the on_off capability. Returns "state" when it changed.
func (e *entity) deriveOnOff() string {
	if !e.binding.HasCapability(mapping.CapOnOff) {
		return ""
	}
	brightness, ok := e.state["brightness"].(float64)
	if !ok {
		return ""
	}
	next := "off"
	if brightness > 0 {
		next = "on"
	}
	if prev, exists := e.state["state"]; exists && prev == next {
		return ""
	}
	e.state["state"] = next
	return "state"
}

// stateValue converts a decoded value to its entity-state representation.
func stateValue(v decode.Value) interface{} {
	if v.Label != "" {
		return v.Label
	}
	return v.Num
}

// record appends a state snapshot to the history ring.
func (e *entity) record(ts time.Time) {
	e.history[e.histPos] = HistoryEntry{Timestamp: ts, State: copyState(e.state)}
	e.histPos = (e.histPos + 1) % len(e.history)
	if e.histLen < len(e.history) {
		e.histLen++
	}
}

// historySnapshot returns the ring contents oldest-first.
func (e *entity) historySnapshot() []HistoryEntry {
	out := make([]HistoryEntry, 0, e.histLen)
	start := e.histPos - e.histLen
	if start < 0 {
		start += len(e.history)
	}
	for i := 0; i < e.histLen; i++ {
		out = append(out, e.history[(start+i)%len(e.history)])
	}
	return out
}

func (e *entity) snapshot() Snapshot {
	return Snapshot{
		EntityID:     e.binding.EntityID,
		FriendlyName: e.binding.FriendlyName,
		DeviceType:   e.binding.DeviceType,
		Area:         e.binding.Area,
		Capabilities: append([]string(nil), e.binding.Capabilities...),
		Protocol:     e.binding.Protocol,
		Interface:    e.binding.Interface,
		State:        copyState(e.state),
		Available:    e.available,
		LastUpdated:  e.lastUpdated,
	}
}

func copyState(state map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// Snapshot is an immutable view of one entity.
type Snapshot struct {
	EntityID     string                 `json:"entity_id"`
	FriendlyName string                 `json:"name"`
	DeviceType   string                 `json:"device_type"`
	Area         string                 `json:"area,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Protocol     string                 `json:"protocol"`
	Interface    string                 `json:"interface,omitempty"`
	State        map[string]interface{} `json:"state"`
	Available    bool                   `json:"available"`
	LastUpdated  time.Time              `json:"last_updated"`
}

// HistoryEntry is one historical state snapshot.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	State     map[string]interface{} `json:"state"`
}
