// Package canbus provides the CAN link layer: one worker per physical
// interface reading and writing frames, per-interface statistics, and a
// bounded diagnostic ring of recent frames.
package canbus

import (
	"fmt"
	"time"
)

// Frame is a raw CAN message. Frames are immutable once created: the
// transport stamps them on receipt and nothing downstream mutates them.
type Frame struct {
	ID        uint32    `json:"arbitration_id"` // 29-bit arbitration id
	Data      []byte    `json:"payload"`        // 0-8 bytes
	Interface string    `json:"interface"`      // physical interface name
	Timestamp time.Time `json:"timestamp"`      // monotonic receive timestamp
	IsError   bool      `json:"is_error"`
}

// PGN extracts the Parameter Group Number from the 29-bit arbitration id per
// the RV-C / J1939 layout: priority(3) dataPage(1) pduFormat(8) pduSpecific(8)
// sourceAddress(8). For PDU1 (pduFormat < 240) the PDU-specific byte is a
// destination address, not part of the PGN.
func (f Frame) PGN() uint32 {
	dataPage := (f.ID >> 24) & 0x1
	pduFormat := (f.ID >> 16) & 0xFF
	pduSpecific := (f.ID >> 8) & 0xFF

	pgn := dataPage<<16 | pduFormat<<8
	if pduFormat >= 240 {
		pgn |= pduSpecific
	}
	return pgn
}

// SourceAddress extracts the sender's bus address.
func (f Frame) SourceAddress() uint8 {
	return uint8(f.ID & 0xFF)
}

// Priority extracts the 3-bit arbitration priority.
func (f Frame) Priority() uint8 {
	return uint8((f.ID >> 26) & 0x7)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s id=0x%08X pgn=0x%05X sa=0x%02X data=% X",
		f.Interface, f.ID, f.PGN(), f.SourceAddress(), f.Data)
}

// BuildID composes a 29-bit arbitration id from priority, PGN, and source
// address. The inverse of Frame.PGN/SourceAddress/Priority for PDU2 PGNs.
func BuildID(priority uint8, pgn uint32, sourceAddress uint8) uint32 {
	return uint32(priority&0x7)<<26 | (pgn&0x1FFFF)<<8 | uint32(sourceAddress)
}
