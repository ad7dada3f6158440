package decode

import (
	"time"

	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/mapping"
)

// Result is the outcome of decoding one frame. Exactly one of the concrete
// types below is returned.
type Result interface {
	isResult()
}

// Decoded is a frame whose PGN is in the catalog and whose (PGN, instance)
// has a device binding.
type Decoded struct {
	Binding  *mapping.DeviceBinding
	Instance int
	Signals  map[string]Value
}

// Unmapped is a frame whose PGN is in the catalog but whose instance has no
// binding.
type Unmapped struct {
	PGN      uint32
	Instance int
	Signals  map[string]Value
}

// Unknown is a frame whose PGN is not in the catalog.
type Unknown struct {
	PGN uint32
	Raw []byte
}

// Ignore is a frame that carries no PGN of interest, or one that could not be
// decoded safely (Malformed set, e.g. payload shorter than the signal layout
// requires).
type Ignore struct {
	Reason    string
	Malformed bool
}

// Diagnostic is a frame claimed by a sibling protocol decoder carrying
// diagnostic trouble codes.
type Diagnostic struct {
	Protocol string
	DTCs     []DTC
}

func (Decoded) isResult()    {}
func (Unmapped) isResult()   {}
func (Unknown) isResult()    {}
func (Ignore) isResult()     {}
func (Diagnostic) isResult() {}

// DTC is one diagnostic trouble code extracted by a protocol decoder.
type DTC struct {
	Protocol      string    `json:"protocol"`
	SourceAddress uint8     `json:"source_address"`
	Code          string    `json:"code"`
	Severity      string    `json:"severity"` // "warning" or "fault"
	Active        bool      `json:"active"`
	Timestamp     time.Time `json:"timestamp"`
}

// Protocol is the shared contract for the bus protocol decoders (RV-C,
// J1939, Firefly, Spartan K2). The dispatcher consults them in fixed
// priority order; the first decoder claiming a frame decodes it.
type Protocol interface {
	Name() string
	Claims(f canbus.Frame) bool
	Decode(f canbus.Frame) Result
}
