// Package spec handles loading and validating the RV-C protocol catalog.
//
// The catalog is a declarative JSON artifact describing PGNs, their signal
// layouts, and shared enumeration tables. It is immutable once loaded; every
// consumer holds a read-only reference published by the Loader.
package spec

import "sort"

// Byte order constants for signal extraction.
const (
	ByteOrderLittle = "little_endian" // RV-C default
	ByteOrderBig    = "big_endian"
)

// CatalogFile represents the protocol catalog file (catalog.json).
type CatalogFile struct {
	Version string                       `json:"version"`
	Enums   map[string]map[string]string `json:"enums"` // enum name → raw value (decimal string) → label
	PGNs    map[string]*PGNDescriptor    `json:"pgns"`  // hex PGN ("0x1FEDA") → descriptor
}

// PGNDescriptor describes one parameter group: its name, which signal carries
// the device instance, and the layout of every signal in the payload.
type PGNDescriptor struct {
	PGN            uint32    `json:"-"` // filled by the loader from the map key
	Name           string    `json:"name"`
	InstanceSignal string    `json:"instance_signal,omitempty"` // signal selecting the device instance; empty for single-instance PGNs
	Controllable   bool      `json:"controllable,omitempty"`    // PGN accepts commands (see pkg/encode)
	CommandPGN     uint32    `json:"-"`                         // filled from command_pgn
	CommandPGNHex  string    `json:"command_pgn,omitempty"`     // hex PGN commands are written to, if distinct
	Signals        []*Signal `json:"signals"`

	signalIndex map[string]*Signal
}

// Signal describes one field within a PGN payload.
type Signal struct {
	Name      string  `json:"name"`
	StartBit  int     `json:"start_bit"`
	Length    int     `json:"length"` // bits
	ByteOrder string  `json:"byte_order,omitempty"` // defaults to little_endian
	Scale     float64 `json:"scale,omitempty"`      // defaults to 1
	Offset    float64 `json:"offset,omitempty"`
	Unit      string  `json:"unit,omitempty"`
	Enum      string  `json:"enum,omitempty"` // reference into CatalogFile.Enums
	Mask      uint64  `json:"mask,omitempty"` // optional value mask applied after extraction
}

// EndBit returns the exclusive end bit of the signal.
func (s *Signal) EndBit() int {
	return s.StartBit + s.Length
}

// MaxRaw returns the all-ones raw value for the signal width. RV-C uses this
// as the "not available" sentinel.
func (s *Signal) MaxRaw() uint64 {
	if s.Length >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(s.Length)) - 1
}

// Signal returns the named signal of the descriptor.
func (d *PGNDescriptor) Signal(name string) (*Signal, bool) {
	s, ok := d.signalIndex[name]
	return s, ok
}

// PayloadBytes returns the minimum payload length in bytes required to carry
// every signal of the PGN.
func (d *PGNDescriptor) PayloadBytes() int {
	max := 0
	for _, s := range d.Signals {
		if end := s.EndBit(); end > max {
			max = end
		}
	}
	return (max + 7) / 8
}

// Catalog is the loaded, indexed protocol catalog. Read-only after Load.
type Catalog struct {
	version string
	pgns    map[uint32]*PGNDescriptor
	enums   map[string]map[uint64]string
}

// Version returns the catalog file version.
func (c *Catalog) Version() string {
	return c.version
}

// Lookup returns the descriptor for a PGN.
func (c *Catalog) Lookup(pgn uint32) (*PGNDescriptor, bool) {
	d, ok := c.pgns[pgn]
	return d, ok
}

// Enumerate returns all descriptors ordered by PGN.
func (c *Catalog) Enumerate() []*PGNDescriptor {
	out := make([]*PGNDescriptor, 0, len(c.pgns))
	for _, d := range c.pgns {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PGN < out[j].PGN })
	return out
}

// EnumLabel maps a raw value through the named enumeration table.
func (c *Catalog) EnumLabel(enum string, raw uint64) (string, bool) {
	table, ok := c.enums[enum]
	if !ok {
		return "", false
	}
	label, ok := table[raw]
	return label, ok
}

// Len returns the number of PGNs in the catalog.
func (c *Catalog) Len() int {
	return len(c.pgns)
}
