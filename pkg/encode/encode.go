package encode

import (
	"fmt"
	"math"

	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/decode"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/spec"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// DefaultSourceAddress is the bridge's own bus address, used as the source
// byte of every transmitted frame.
const DefaultSourceAddress = 0x82

// commandPriority is the arbitration priority for command frames.
const commandPriority = 6

// Lock command raw values (on-bus).
const (
	lockRawUnlocked = 0
	lockRawLocked   = 1
)

// Encoder builds command frames from the protocol catalog. Stateless apart
// from the immutable catalog; safe for concurrent use.
type Encoder struct {
	catalog       *spec.Catalog
	sourceAddress uint8
}

// New creates an Encoder transmitting from the default source address.
func New(catalog *spec.Catalog) *Encoder {
	return &Encoder{catalog: catalog, sourceAddress: DefaultSourceAddress}
}

// NewWithSource creates an Encoder with an explicit source address.
func NewWithSource(catalog *spec.Catalog, sourceAddress uint8) *Encoder {
	return &Encoder{catalog: catalog, sourceAddress: sourceAddress}
}

// Encode translates a command against a binding into the frames to transmit.
// cur is the entity's current state snapshot; toggle and the brightness step
// commands fail with ENTITY_UNAVAILABLE when the snapshot is stale.
func (e *Encoder) Encode(b *mapping.DeviceBinding, cur Current, cmd Command) ([]canbus.Frame, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	desc, ok := e.catalog.Lookup(b.PGN)
	if !ok || !desc.Controllable || desc.CommandPGN == 0 {
		return nil, fmt.Errorf("entity %s is not controllable: %w", b.EntityID, util.ErrUnsupportedCommand)
	}
	if b.Instance == nil {
		return nil, fmt.Errorf("entity %s has a wildcard instance binding: %w", b.EntityID, util.ErrUnsupportedCommand)
	}

	switch cmd.Kind {
	case KindSet:
		return e.encodeSet(b, desc, cmd)
	case KindToggle:
		return e.encodeToggle(b, desc, cur)
	case KindBrightnessUp, KindBrightnessDown:
		return e.encodeStep(b, desc, cur, cmd.Kind)
	case KindLock, KindUnlock:
		return e.encodeLock(b, desc, cmd.Kind)
	default:
		return nil, fmt.Errorf("unknown command %q: %w", cmd.Kind, util.ErrInvalidParameter)
	}
}

func (e *Encoder) encodeSet(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, cmd Command) ([]canbus.Frame, error) {
	if cmd.Brightness != nil {
		if !b.HasCapability(mapping.CapBrightness) {
			return nil, fmt.Errorf("entity %s lacks brightness: %w", b.EntityID, util.ErrUnsupportedCommand)
		}
		return e.brightnessFrames(b, desc, clampBrightness(b.EntityID, *cmd.Brightness))
	}

	if !b.HasCapability(mapping.CapOnOff) {
		return nil, fmt.Errorf("entity %s lacks on_off: %w", b.EntityID, util.ErrUnsupportedCommand)
	}
	target := 0.0
	if *cmd.State {
		target = 100.0
	}
	return e.brightnessFrames(b, desc, target)
}

func (e *Encoder) encodeToggle(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, cur Current) ([]canbus.Frame, error) {
	if !b.HasCapability(mapping.CapOnOff) {
		return nil, fmt.Errorf("entity %s lacks on_off: %w", b.EntityID, util.ErrUnsupportedCommand)
	}
	if !cur.Available {
		return nil, fmt.Errorf("entity %s: %w", b.EntityID, util.ErrEntityUnavailable)
	}

	if cur.On {
		return e.brightnessFrames(b, desc, 0)
	}
	// Restore the last brightness when one is known, full on otherwise.
	target := 100.0
	if cur.HasBrightness && cur.Brightness > 0 {
		target = cur.Brightness
	}
	return e.brightnessFrames(b, desc, target)
}

func (e *Encoder) encodeStep(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, cur Current, kind string) ([]canbus.Frame, error) {
	if !b.HasCapability(mapping.CapBrightness) {
		return nil, fmt.Errorf("entity %s lacks brightness: %w", b.EntityID, util.ErrUnsupportedCommand)
	}
	if !cur.Available {
		return nil, fmt.Errorf("entity %s: %w", b.EntityID, util.ErrEntityUnavailable)
	}

	target := cur.Brightness
	if kind == KindBrightnessUp {
		target += BrightnessStep
	} else {
		target -= BrightnessStep
	}
	target = math.Min(100, math.Max(0, target))
	return e.brightnessFrames(b, desc, target)
}

func (e *Encoder) encodeLock(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, kind string) ([]canbus.Frame, error) {
	if !b.HasCapability(mapping.CapLockUnlock) {
		return nil, fmt.Errorf("entity %s lacks lock_unlock: %w", b.EntityID, util.ErrUnsupportedCommand)
	}
	sig, ok := stateSignal(b, desc, "locked")
	if !ok {
		return nil, fmt.Errorf("entity %s has no lock signal: %w", b.EntityID, util.ErrUnsupportedCommand)
	}

	raw := uint64(lockRawUnlocked)
	if kind == KindLock {
		raw = lockRawLocked
	}
	return e.frames(b, desc, map[string]uint64{sig.Name: raw}), nil
}

// brightnessFrames encodes a target brightness (user scale 0..100) into the
// binding's brightness signal. The on-bus scale is 0..200.
func (e *Encoder) brightnessFrames(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, target float64) ([]canbus.Frame, error) {
	sig, ok := stateSignal(b, desc, "brightness")
	if !ok {
		return nil, fmt.Errorf("entity %s has no brightness signal: %w", b.EntityID, util.ErrUnsupportedCommand)
	}

	scale := sig.Scale
	if scale == 0 {
		scale = 1
	}
	raw := uint64(math.Round((target - sig.Offset) / scale))
	return e.frames(b, desc, map[string]uint64{sig.Name: raw}), nil
}

// frames builds the command frame: the command PGN's signal layout (the
// status layout when the command group is not separately catalogued), target
// signals set, everything else held at the all-ones "no change" sentinel.
func (e *Encoder) frames(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, values map[string]uint64) []canbus.Frame {
	layout := desc
	if cmdDesc, ok := e.catalog.Lookup(desc.CommandPGN); ok {
		layout = cmdDesc
	}

	data := make([]byte, 8)
	for _, sig := range layout.Signals {
		raw, ok := values[sig.Name]
		if !ok {
			if sig.Name == layout.InstanceSignal || sig.Name == desc.InstanceSignal {
				raw = uint64(*b.Instance)
			} else {
				raw = sig.MaxRaw()
			}
		}
		decode.InsertRaw(data, sig, raw)
	}

	return []canbus.Frame{{
		ID:   canbus.BuildID(commandPriority, desc.CommandPGN, e.sourceAddress),
		Data: data,
	}}
}

// clampBrightness bounds a requested brightness to the user scale, logging
// when the request was out of range.
func clampBrightness(entityID string, v float64) float64 {
	if v < 0 || v > 100 {
		util.WithEntity(entityID).Warnf("clamping out-of-range brightness %g", v)
		return math.Min(100, math.Max(0, v))
	}
	return v
}

// stateSignal resolves the bus signal behind an entity state key ("brightness",
// "locked") via the binding's state-signal rename map.
func stateSignal(b *mapping.DeviceBinding, desc *spec.PGNDescriptor, stateKey string) (*spec.Signal, bool) {
	for signalName, key := range b.StateSignals {
		if key != stateKey {
			continue
		}
		if sig, ok := desc.Signal(signalName); ok {
			return sig, true
		}
	}
	// Without a rename the bus signal carries the state key's name directly.
	return desc.Signal(stateKey)
}
