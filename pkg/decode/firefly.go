package decode

import (
	"fmt"

	"github.com/rvlink-network/rvlink/pkg/canbus"
)

// Firefly multiplex panels report module faults on the proprietary-A group
// (PGN 0x0EF00) from their reserved source-address block.
const fireflyPGN = 0x0EF00

const (
	fireflySourceLow  = 0x60
	fireflySourceHigh = 0x67
)

// Firefly message types (payload byte 0).
const (
	fireflyMsgStatus = 0x01
	fireflyMsgFault  = 0x0D
)

// Firefly decodes fault reports from Firefly multiplex control modules.
// Fault payload: byte 1 module id, bytes 2-3 little-endian fault code,
// byte 4 flags (bit 0 active, bit 1 severity).
type Firefly struct{}

func NewFirefly() *Firefly {
	return &Firefly{}
}

func (p *Firefly) Name() string {
	return "firefly"
}

func (p *Firefly) Claims(f canbus.Frame) bool {
	sa := f.SourceAddress()
	return f.PGN() == fireflyPGN && sa >= fireflySourceLow && sa <= fireflySourceHigh
}

func (p *Firefly) Decode(f canbus.Frame) Result {
	if f.IsError {
		return Ignore{Reason: "error_frame"}
	}
	if len(f.Data) < 1 {
		return Ignore{Reason: "firefly_underrun", Malformed: true}
	}

	switch f.Data[0] {
	case fireflyMsgFault:
		if len(f.Data) < 5 {
			return Ignore{Reason: "firefly_underrun", Malformed: true}
		}
		module := f.Data[1]
		code := uint16(f.Data[2]) | uint16(f.Data[3])<<8
		flags := f.Data[4]

		severity := "warning"
		if flags&0x02 != 0 {
			severity = "fault"
		}
		return Diagnostic{
			Protocol: p.Name(),
			DTCs: []DTC{{
				Protocol:      p.Name(),
				SourceAddress: f.SourceAddress(),
				Code:          fmt.Sprintf("F%02X-%04X", module, code),
				Severity:      severity,
				Active:        flags&0x01 != 0,
				Timestamp:     f.Timestamp,
			}},
		}
	case fireflyMsgStatus:
		// Panel heartbeats carry no diagnostic content.
		return Ignore{Reason: "firefly_status"}
	default:
		return Ignore{Reason: "firefly_unknown_msg"}
	}
}
