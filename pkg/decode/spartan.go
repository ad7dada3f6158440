package decode

import (
	"fmt"

	"github.com/rvlink-network/rvlink/pkg/canbus"
)

// Spartan K2 chassis controllers broadcast fault summaries on a block of
// proprietary-B groups (PGNs 0x0FF60-0x0FF6F, data page 0).
const (
	spartanPGNLow  = 0x0FF60
	spartanPGNHigh = 0x0FF6F
)

// Spartan decodes Spartan K2 chassis fault broadcasts. Payload: byte 0
// subsystem id, bytes 1-2 big-endian fault code, byte 3 flags (bit 0 active,
// bit 1 severity). A zero fault code is a heartbeat.
type Spartan struct{}

func NewSpartan() *Spartan {
	return &Spartan{}
}

func (p *Spartan) Name() string {
	return "spartan"
}

func (p *Spartan) Claims(f canbus.Frame) bool {
	pgn := f.PGN()
	return pgn >= spartanPGNLow && pgn <= spartanPGNHigh
}

func (p *Spartan) Decode(f canbus.Frame) Result {
	if f.IsError {
		return Ignore{Reason: "error_frame"}
	}
	if len(f.Data) < 4 {
		return Ignore{Reason: "spartan_underrun", Malformed: true}
	}

	subsystem := f.Data[0]
	code := uint16(f.Data[1])<<8 | uint16(f.Data[2])
	flags := f.Data[3]

	if code == 0 {
		return Ignore{Reason: "spartan_heartbeat"}
	}

	severity := "warning"
	if flags&0x02 != 0 {
		severity = "fault"
	}
	return Diagnostic{
		Protocol: p.Name(),
		DTCs: []DTC{{
			Protocol:      p.Name(),
			SourceAddress: f.SourceAddress(),
			Code:          fmt.Sprintf("K2-%02X-%04X", subsystem, code),
			Severity:      severity,
			Active:        flags&0x01 != 0,
			Timestamp:     f.Timestamp,
		}},
	}
}
