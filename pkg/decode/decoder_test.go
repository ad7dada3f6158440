package decode

import (
	"testing"
	"time"

	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/spec"
)

const testCatalog = `{
  "version": "1",
  "enums": {
    "on_off": {"0": "off", "1": "on"}
  },
  "pgns": {
    "0x1FEDA": {
      "name": "DC_DIMMER_STATUS_3",
      "instance_signal": "instance",
      "controllable": true,
      "command_pgn": "0x1FEDB",
      "signals": [
        {"name": "instance", "start_bit": 0, "length": 8},
        {"name": "group", "start_bit": 8, "length": 8},
        {"name": "operating_status", "start_bit": 16, "length": 8, "scale": 0.5, "unit": "%"},
        {"name": "lock_status", "start_bit": 24, "length": 2, "enum": "on_off"}
      ]
    },
    "0x1FF9C": {
      "name": "WATER_TANK_STATUS",
      "instance_signal": "instance",
      "signals": [
        {"name": "instance", "start_bit": 0, "length": 8},
        {"name": "relative_level", "start_bit": 8, "length": 8}
      ]
    }
  }
}`

const testMapping = `{
  "version": "1",
  "coach": "test-coach",
  "bindings": [
    {
      "pgn": "0x1FEDA", "instance": 4,
      "entity_id": "light.main_galley", "name": "Main Galley Light",
      "device_type": "light", "area": "galley",
      "capabilities": ["on_off", "brightness"],
      "state_signals": {"operating_status": "brightness"}
    }
  ]
}`

func testDecoder(t *testing.T) *Decoder {
	t.Helper()
	catalog, err := spec.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parsing test catalog: %v", err)
	}
	m, err := mapping.Parse([]byte(testMapping), catalog)
	if err != nil {
		t.Fatalf("parsing test mapping: %v", err)
	}
	return New(catalog, m)
}

func frame(id uint32, data ...byte) canbus.Frame {
	return canbus.Frame{ID: id, Data: data, Interface: "can0", Timestamp: time.Now()}
}

func TestDecodeDimmerStatus(t *testing.T) {
	d := testDecoder(t)

	// DC_DIMMER_STATUS_3 from source 0x80, instance 4, 100% brightness.
	res := d.Decode(frame(0x19FEDA80, 0x04, 0x00, 0xC8, 0x00, 0x00, 0x00, 0x00, 0x00))

	dec, ok := res.(Decoded)
	if !ok {
		t.Fatalf("result = %T, want Decoded", res)
	}
	if dec.Binding.EntityID != "light.main_galley" {
		t.Errorf("entity = %q", dec.Binding.EntityID)
	}
	if dec.Instance != 4 {
		t.Errorf("instance = %d, want 4", dec.Instance)
	}

	status := dec.Signals["operating_status"]
	if status.NA || status.Num != 100.0 {
		t.Errorf("operating_status = %v, want 100", status)
	}
	if status.Raw != 0xC8 {
		t.Errorf("operating_status raw = %d, want 200", status.Raw)
	}
	if lock := dec.Signals["lock_status"]; lock.Label != "off" {
		t.Errorf("lock_status = %v, want off", lock)
	}
}

func TestDecodeValueForms(t *testing.T) {
	d := testDecoder(t)

	tests := []struct {
		name string
		data []byte
		sig  string
		want func(Value) bool
	}{
		{
			name: "na sentinel",
			data: []byte{0x04, 0x00, 0xFF, 0x00, 0, 0, 0, 0},
			sig:  "operating_status",
			want: func(v Value) bool { return v.NA },
		},
		{
			name: "enum mapped",
			data: []byte{0x04, 0x00, 0x64, 0x01, 0, 0, 0, 0},
			sig:  "lock_status",
			want: func(v Value) bool { return v.Label == "on" },
		},
		{
			name: "enum unmapped raw falls back to digits",
			data: []byte{0x04, 0x00, 0x64, 0x02, 0, 0, 0, 0},
			sig:  "lock_status",
			want: func(v Value) bool { return v.Label == "2" },
		},
		{
			name: "enum all-ones is na",
			data: []byte{0x04, 0x00, 0x64, 0x03, 0, 0, 0, 0},
			sig:  "lock_status",
			want: func(v Value) bool { return v.NA },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Decode(frame(0x19FEDA80, tt.data...))
			dec, ok := res.(Decoded)
			if !ok {
				t.Fatalf("result = %T, want Decoded", res)
			}
			if v := dec.Signals[tt.sig]; !tt.want(v) {
				t.Errorf("%s = %v", tt.sig, v)
			}
		})
	}
}

func TestDecodeRouting(t *testing.T) {
	d := testDecoder(t)

	t.Run("unmapped instance", func(t *testing.T) {
		res := d.Decode(frame(0x19FEDA80, 0x09, 0x00, 0xC8, 0x00, 0, 0, 0, 0))
		un, ok := res.(Unmapped)
		if !ok {
			t.Fatalf("result = %T, want Unmapped", res)
		}
		if un.PGN != 0x1FEDA || un.Instance != 9 {
			t.Errorf("unmapped = pgn 0x%X instance %d", un.PGN, un.Instance)
		}
	})

	t.Run("unknown pgn", func(t *testing.T) {
		res := d.Decode(frame(0x19FFB780, 0x01, 0x02))
		un, ok := res.(Unknown)
		if !ok {
			t.Fatalf("result = %T, want Unknown", res)
		}
		if un.PGN != 0x1FFB7 {
			t.Errorf("pgn = 0x%X", un.PGN)
		}
	})

	t.Run("length underrun is malformed", func(t *testing.T) {
		res := d.Decode(frame(0x19FEDA80, 0x04, 0x00))
		ig, ok := res.(Ignore)
		if !ok || !ig.Malformed {
			t.Fatalf("result = %#v, want malformed Ignore", res)
		}
	})

	t.Run("error frame ignored", func(t *testing.T) {
		f := frame(0x19FEDA80, 0x04, 0x00, 0xC8, 0x00, 0, 0, 0, 0)
		f.IsError = true
		if _, ok := d.Decode(f).(Ignore); !ok {
			t.Fatal("error frame should be ignored")
		}
	})
}

func TestExtractInsertRaw(t *testing.T) {
	tests := []struct {
		name string
		sig  spec.Signal
		data []byte
		want uint64
	}{
		{
			name: "little endian byte aligned",
			sig:  spec.Signal{StartBit: 16, Length: 8},
			data: []byte{0x04, 0x00, 0xC8, 0, 0, 0, 0, 0},
			want: 0xC8,
		},
		{
			name: "little endian cross byte",
			sig:  spec.Signal{StartBit: 12, Length: 8},
			data: []byte{0x00, 0xA0, 0x0B, 0, 0, 0, 0, 0},
			want: 0xBA,
		},
		{
			name: "big endian leading byte",
			sig:  spec.Signal{StartBit: 0, Length: 8, ByteOrder: spec.ByteOrderBig},
			data: []byte{0xAB, 0x00, 0, 0, 0, 0, 0, 0},
			want: 0xAB,
		},
		{
			name: "big endian word",
			sig:  spec.Signal{StartBit: 8, Length: 16, ByteOrder: spec.ByteOrderBig},
			data: []byte{0x00, 0xCD, 0xEF, 0, 0, 0, 0, 0},
			want: 0xCDEF,
		},
		{
			name: "two bit field",
			sig:  spec.Signal{StartBit: 26, Length: 2},
			data: []byte{0, 0, 0, 0x0C, 0, 0, 0, 0},
			want: 0x3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractRaw(tt.data, &tt.sig)
			if got != tt.want {
				t.Errorf("extractRaw = 0x%X, want 0x%X", got, tt.want)
			}

			// Inserting into a zero payload reproduces the source bits.
			out := make([]byte, 8)
			InsertRaw(out, &tt.sig, got)
			if back := extractRaw(out, &tt.sig); back != tt.want {
				t.Errorf("insert/extract round trip = 0x%X, want 0x%X", back, tt.want)
			}
		})
	}
}

func TestProtocolClaims(t *testing.T) {
	d := testDecoder(t)
	siblings := []Protocol{NewJ1939(), NewFirefly(), NewSpartan()}

	tests := []struct {
		name  string
		frame canbus.Frame
		rvc   bool
		claim string // sibling expected to claim, "" for none
	}{
		{"rvc data page 1", frame(0x19FEDA80), true, ""},
		{"dm1", frame(canbus.BuildID(6, 0x0FECA, 0x00)), false, "j1939"},
		{"dm2", frame(canbus.BuildID(6, 0x0FEBF, 0x00)), false, "j1939"},
		{"firefly proprietary", frame(0x18EF0062), false, "firefly"},
		{"proprietary from non-firefly source", frame(0x18EF0080), false, ""},
		{"spartan fault block", frame(canbus.BuildID(6, 0x0FF61, 0x21)), false, "spartan"},
		{"plain j1939 telemetry", frame(canbus.BuildID(6, 0x0F004, 0x00)), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Claims(tt.frame); got != tt.rvc {
				t.Errorf("rvc claims = %v, want %v", got, tt.rvc)
			}
			for _, p := range siblings {
				want := p.Name() == tt.claim
				if got := p.Claims(tt.frame); got != want {
					t.Errorf("%s claims = %v, want %v", p.Name(), got, want)
				}
			}
		})
	}
}

func TestJ1939DecodeDM(t *testing.T) {
	p := NewJ1939()

	t.Run("dm1 with red stop lamp", func(t *testing.T) {
		f := frame(canbus.BuildID(6, 0x0FECA, 0x17),
			0x10, 0xFF, 0x64, 0x00, 0x04, 0x01, 0x00, 0x00)
		res := p.Decode(f)
		diag, ok := res.(Diagnostic)
		if !ok {
			t.Fatalf("result = %T, want Diagnostic", res)
		}
		if len(diag.DTCs) != 1 {
			t.Fatalf("dtcs = %d, want 1", len(diag.DTCs))
		}
		dtc := diag.DTCs[0]
		if dtc.Code != "SPN100.FMI4" {
			t.Errorf("code = %q", dtc.Code)
		}
		if dtc.Severity != "fault" || !dtc.Active || dtc.SourceAddress != 0x17 {
			t.Errorf("dtc = %+v", dtc)
		}
	})

	t.Run("dm2 is inactive", func(t *testing.T) {
		f := frame(canbus.BuildID(6, 0x0FEBF, 0x17),
			0x00, 0xFF, 0x64, 0x00, 0x04, 0x01, 0x00, 0x00)
		diag := p.Decode(f).(Diagnostic)
		if diag.DTCs[0].Active {
			t.Error("DM2 codes must be inactive")
		}
		if diag.DTCs[0].Severity != "warning" {
			t.Errorf("severity = %q", diag.DTCs[0].Severity)
		}
	})

	t.Run("empty dm1 clears", func(t *testing.T) {
		f := frame(canbus.BuildID(6, 0x0FECA, 0x17),
			0x00, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
		diag := p.Decode(f).(Diagnostic)
		if len(diag.DTCs) != 0 {
			t.Errorf("dtcs = %d, want 0", len(diag.DTCs))
		}
	})

	t.Run("underrun", func(t *testing.T) {
		f := frame(canbus.BuildID(6, 0x0FECA, 0x17), 0x00, 0xFF)
		if ig, ok := p.Decode(f).(Ignore); !ok || !ig.Malformed {
			t.Error("short DM frame should be malformed Ignore")
		}
	})
}

func TestFireflyDecode(t *testing.T) {
	p := NewFirefly()

	f := frame(0x18EF0062, 0x0D, 0x03, 0x2A, 0x01, 0x03, 0x00, 0x00, 0x00)
	diag, ok := p.Decode(f).(Diagnostic)
	if !ok {
		t.Fatal("fault message should decode to Diagnostic")
	}
	dtc := diag.DTCs[0]
	if dtc.Code != "F03-012A" || dtc.Severity != "fault" || !dtc.Active {
		t.Errorf("dtc = %+v", dtc)
	}
	if dtc.SourceAddress != 0x62 {
		t.Errorf("source = 0x%X", dtc.SourceAddress)
	}

	status := frame(0x18EF0062, 0x01, 0x00)
	if _, ok := p.Decode(status).(Ignore); !ok {
		t.Error("status heartbeat should be ignored")
	}
}

func TestSpartanDecode(t *testing.T) {
	p := NewSpartan()

	f := frame(canbus.BuildID(6, 0x0FF61, 0x21), 0x02, 0x01, 0x10, 0x01, 0, 0, 0, 0)
	diag, ok := p.Decode(f).(Diagnostic)
	if !ok {
		t.Fatal("fault broadcast should decode to Diagnostic")
	}
	dtc := diag.DTCs[0]
	if dtc.Code != "K2-02-0110" || dtc.Severity != "warning" || !dtc.Active {
		t.Errorf("dtc = %+v", dtc)
	}

	hb := frame(canbus.BuildID(6, 0x0FF61, 0x21), 0x02, 0x00, 0x00, 0x00)
	if _, ok := p.Decode(hb).(Ignore); !ok {
		t.Error("zero code should be a heartbeat")
	}
}
