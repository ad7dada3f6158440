package decode

import (
	"strconv"

	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/spec"
)

// Decoder is the RV-C frame decoder. Stateless and safe for concurrent use:
// it only reads the shared-immutable catalog and mapping.
type Decoder struct {
	catalog *spec.Catalog
	mapping *mapping.Mapping
}

// New creates an RV-C decoder over a loaded catalog and mapping.
func New(catalog *spec.Catalog, m *mapping.Mapping) *Decoder {
	return &Decoder{catalog: catalog, mapping: m}
}

// Name implements Protocol.
func (d *Decoder) Name() string {
	return "rvc"
}

// Claims implements Protocol. RV-C lives on data page 1 of the 29-bit
// identifier; data page 0 belongs to the sibling protocols (J1939 and the
// proprietary chassis decoders).
func (d *Decoder) Claims(f canbus.Frame) bool {
	return f.PGN()&0x10000 != 0
}

// Decode implements Protocol.
func (d *Decoder) Decode(f canbus.Frame) Result {
	if f.IsError {
		return Ignore{Reason: "error_frame"}
	}

	pgn := f.PGN()
	desc, ok := d.catalog.Lookup(pgn)
	if !ok {
		return Unknown{PGN: pgn, Raw: f.Data}
	}

	// Length underrun: the payload cannot carry the full signal layout.
	// Counted by the dispatcher, never fatal.
	if len(f.Data) < desc.PayloadBytes() {
		return Ignore{Reason: "length_underrun", Malformed: true}
	}

	data := pad8(f.Data)
	signals := make(map[string]Value, len(desc.Signals))
	instance := -1

	for _, sig := range desc.Signals {
		raw := extractRaw(data, sig)
		value := d.decodeValue(sig, raw)
		signals[sig.Name] = value

		if sig.Name == desc.InstanceSignal && !value.NA {
			instance = int(raw)
		}
	}

	binding, ok := d.mapping.Resolve(pgn, instance)
	if !ok {
		return Unmapped{PGN: pgn, Instance: instance, Signals: signals}
	}
	return Decoded{Binding: binding, Instance: instance, Signals: signals}
}

// decodeValue applies the N/A sentinel, enumeration, and scaling rules for
// one signal.
func (d *Decoder) decodeValue(sig *spec.Signal, raw uint64) Value {
	if sig.Enum != "" {
		if label, ok := d.catalog.EnumLabel(sig.Enum, raw); ok {
			return LabelValue(raw, label)
		}
		if raw == sig.MaxRaw() {
			return NAValue(raw)
		}
		// Unmapped raw decodes to the string form of the integer.
		return LabelValue(raw, strconv.FormatUint(raw, 10))
	}

	if raw == sig.MaxRaw() {
		return NAValue(raw)
	}

	scale := sig.Scale
	if scale == 0 {
		scale = 1
	}
	return NumberValue(raw, float64(raw)*scale+sig.Offset)
}
