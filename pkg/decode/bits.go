package decode

import (
	"encoding/binary"

	"github.com/rvlink-network/rvlink/pkg/spec"
)

// extractRaw reads a signal's bit range out of an 8-byte payload. data must
// already be padded to 8 bytes; callers reject shorter payloads before
// extraction (see Decoder.Decode).
func extractRaw(data []byte, sig *spec.Signal) uint64 {
	mask := sig.MaxRaw()

	var raw uint64
	if sig.ByteOrder == spec.ByteOrderBig {
		// Motorola order: start_bit counts from the most significant bit of
		// the big-endian payload.
		be := binary.BigEndian.Uint64(data)
		raw = (be >> uint(64-sig.EndBit())) & mask
	} else {
		// Intel order (RV-C default): start_bit counts from the least
		// significant bit of the little-endian payload.
		le := binary.LittleEndian.Uint64(data)
		raw = (le >> uint(sig.StartBit)) & mask
	}

	if sig.Mask != 0 {
		raw &= sig.Mask
	}
	return raw
}

// InsertRaw writes a raw value into an 8-byte payload, the inverse of
// extractRaw. Used by the command encoder.
func InsertRaw(data []byte, sig *spec.Signal, raw uint64) {
	mask := sig.MaxRaw()
	raw &= mask

	if sig.ByteOrder == spec.ByteOrderBig {
		be := binary.BigEndian.Uint64(data)
		shift := uint(64 - sig.EndBit())
		be = be&^(mask<<shift) | raw<<shift
		binary.BigEndian.PutUint64(data, be)
	} else {
		le := binary.LittleEndian.Uint64(data)
		shift := uint(sig.StartBit)
		le = le&^(mask<<shift) | raw<<shift
		binary.LittleEndian.PutUint64(data, le)
	}
}

// pad8 returns the payload padded to 8 bytes with zeros, copying as needed.
func pad8(data []byte) []byte {
	if len(data) == 8 {
		return data
	}
	out := make([]byte, 8)
	copy(out, data)
	return out
}
