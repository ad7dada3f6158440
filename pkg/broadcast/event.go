// Package broadcast fans events out to subscribers over bounded queues.
// Producers never block: a slow subscriber loses its oldest events first and
// is disconnected outright when it falls too far behind.
package broadcast

import "time"

// Event kinds.
const (
	KindEntityDelta = "entity_delta"
	KindRawFrame    = "raw_frame"
	KindSystemEvent = "system_event"
)

// System event names.
const (
	SystemFeatureState  = "feature_state"
	SystemInterfaceUp   = "interface_up"
	SystemInterfaceDown = "interface_down"
	SystemBulkComplete  = "bulk_complete"
	SystemFaultRaised   = "fault_raised"
	SystemFaultCleared  = "fault_cleared"
)

// Event is one broadcastable event: EntityDelta, RawFrame, or SystemEvent.
type Event interface {
	Kind() string
}

// EntityDelta reports an entity state change: the fields that changed and the
// full post-change snapshot.
type EntityDelta struct {
	EntityID      string                 `json:"entity_id"`
	DeviceType    string                 `json:"device_type"`
	Area          string                 `json:"area,omitempty"`
	ChangedFields []string               `json:"changed_fields"`
	State         map[string]interface{} `json:"state"`
	Available     bool                   `json:"available"`
	Timestamp     time.Time              `json:"timestamp"`
}

func (EntityDelta) Kind() string { return KindEntityDelta }

// RawFrame mirrors one received CAN frame to raw subscribers.
type RawFrame struct {
	Interface     string    `json:"interface"`
	ArbitrationID uint32    `json:"arbitration_id"`
	Payload       []byte    `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
}

func (RawFrame) Kind() string { return KindRawFrame }

// SystemEvent reports daemon-level transitions: feature state changes,
// interface up/down, bulk command completion, fault raised/cleared.
type SystemEvent struct {
	Name      string                 `json:"name"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (SystemEvent) Kind() string { return KindSystemEvent }

// Filter selects the events a subscription receives. Empty fields match
// everything; a populated field must match the corresponding event attribute.
type Filter struct {
	Kinds       []string `json:"kinds,omitempty"`
	EntityIDs   []string `json:"entity_ids,omitempty"`
	DeviceTypes []string `json:"device_types,omitempty"`
	Areas       []string `json:"areas,omitempty"`
	Interfaces  []string `json:"interfaces,omitempty"` // raw frames only
}

// Match reports whether the filter selects the event.
func (f Filter) Match(ev Event) bool {
	if len(f.Kinds) > 0 && !member(f.Kinds, ev.Kind()) {
		return false
	}
	switch e := ev.(type) {
	case EntityDelta:
		if len(f.EntityIDs) > 0 && !member(f.EntityIDs, e.EntityID) {
			return false
		}
		if len(f.DeviceTypes) > 0 && !member(f.DeviceTypes, e.DeviceType) {
			return false
		}
		if len(f.Areas) > 0 && !member(f.Areas, e.Area) {
			return false
		}
	case RawFrame:
		if len(f.Interfaces) > 0 && !member(f.Interfaces, e.Interface) {
			return false
		}
	}
	return true
}

// WantsRaw reports whether the filter can ever match a raw frame.
func (f Filter) WantsRaw() bool {
	return len(f.Kinds) == 0 || member(f.Kinds, KindRawFrame)
}

func member(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
