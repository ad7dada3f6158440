package decode

import (
	"fmt"

	"github.com/rvlink-network/rvlink/pkg/canbus"
)

// J1939 diagnostic parameter groups (data page 0).
const (
	pgnDM1 = 0x0FECA // active diagnostic trouble codes
	pgnDM2 = 0x0FEBF // previously active diagnostic trouble codes
)

// J1939 decodes the engine/chassis diagnostic messages (DM1/DM2) that share
// the bus with RV-C house traffic. Each DTC occupies four bytes after the
// two lamp-status bytes: 19-bit SPN, 5-bit FMI, 3-bit occurrence count.
type J1939 struct{}

func NewJ1939() *J1939 {
	return &J1939{}
}

func (p *J1939) Name() string {
	return "j1939"
}

func (p *J1939) Claims(f canbus.Frame) bool {
	pgn := f.PGN()
	return pgn == pgnDM1 || pgn == pgnDM2
}

func (p *J1939) Decode(f canbus.Frame) Result {
	if f.IsError {
		return Ignore{Reason: "error_frame"}
	}
	if len(f.Data) < 6 {
		return Ignore{Reason: "dm_underrun", Malformed: true}
	}

	active := f.PGN() == pgnDM1
	severity := lampSeverity(f.Data[0])
	sa := f.SourceAddress()

	var dtcs []DTC
	for off := 2; off+4 <= len(f.Data); off += 4 {
		spn := uint32(f.Data[off]) |
			uint32(f.Data[off+1])<<8 |
			uint32(f.Data[off+2]&0xE0)>>5<<16
		fmi := f.Data[off+2] & 0x1F

		// An all-zero slot is padding, not a code.
		if spn == 0 && fmi == 0 {
			continue
		}
		dtcs = append(dtcs, DTC{
			Protocol:      p.Name(),
			SourceAddress: sa,
			Code:          fmt.Sprintf("SPN%d.FMI%d", spn, fmi),
			Severity:      severity,
			Active:        active,
			Timestamp:     f.Timestamp,
		})
	}

	if len(dtcs) == 0 {
		// A DM1 with no codes clears the source's active faults; the
		// diagnostics table treats an empty set as "all clear".
		return Diagnostic{Protocol: p.Name(), DTCs: nil}
	}
	return Diagnostic{Protocol: p.Name(), DTCs: dtcs}
}

// lampSeverity maps the DM1 lamp-status byte to a severity. The red stop
// lamp (bits 4-5) escalates to fault; everything else is a warning.
func lampSeverity(lamps byte) string {
	if lamps&0x30 == 0x10 {
		return "fault"
	}
	return "warning"
}
