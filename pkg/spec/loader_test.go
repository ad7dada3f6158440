package spec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCatalog = `{
  "version": "1",
  "enums": {
    "on_off": {"0": "off", "1": "on", "5": "toggle"}
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
        {"name": "relative_level", "start_bit": 8, "length": 8},
        {"name": "resolution", "start_bit": 16, "length": 8}
      ]
    }
  }
}`

func TestParse(t *testing.T) {
	catalog, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if catalog.Len() != 2 {
		t.Errorf("Len = %d, want 2", catalog.Len())
	}

	desc, ok := catalog.Lookup(0x1FEDA)
	if !ok {
		t.Fatal("Lookup(0x1FEDA) not found")
	}
	if desc.Name != "DC_DIMMER_STATUS_3" {
		t.Errorf("name = %q", desc.Name)
	}
	if !desc.Controllable {
		t.Error("DC_DIMMER_STATUS_3 should be controllable")
	}
	if desc.CommandPGN != 0x1FEDB {
		t.Errorf("command PGN = 0x%X, want 0x1FEDB", desc.CommandPGN)
	}

	sig, ok := desc.Signal("operating_status")
	if !ok {
		t.Fatal("operating_status signal not found")
	}
	if sig.Scale != 0.5 || sig.StartBit != 16 || sig.Length != 8 {
		t.Errorf("operating_status = %+v", sig)
	}

	if label, ok := catalog.EnumLabel("on_off", 1); !ok || label != "on" {
		t.Errorf("EnumLabel(on_off, 1) = %q, %v", label, ok)
	}
	if _, ok := catalog.EnumLabel("on_off", 3); ok {
		t.Error("EnumLabel(on_off, 3) should not resolve")
	}

	if _, ok := catalog.Lookup(0x12345); ok {
		t.Error("Lookup of unknown PGN should miss")
	}
}

func TestEnumerateOrdered(t *testing.T) {
	catalog, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	descs := catalog.Enumerate()
	if len(descs) != 2 {
		t.Fatalf("Enumerate returned %d, want 2", len(descs))
	}
	if descs[0].PGN >= descs[1].PGN {
		t.Error("Enumerate should order by PGN")
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{
			name:    "signal-overruns-payload",
			body:    `{"pgns":{"0x1FEDA":{"name":"X","signals":[{"name":"a","start_bit":57,"length":8}]}}}`,
			wantSub: "beyond the 8-byte payload",
		},
		{
			name:    "duplicate-signal",
			body:    `{"pgns":{"0x1FEDA":{"name":"X","signals":[{"name":"a","start_bit":0,"length":8},{"name":"a","start_bit":8,"length":8}]}}}`,
			wantSub: "duplicate signal",
		},
		{
			name:    "unknown-enum",
			body:    `{"pgns":{"0x1FEDA":{"name":"X","signals":[{"name":"a","start_bit":0,"length":8,"enum":"nope"}]}}}`,
			wantSub: "unknown enum",
		},
		{
			name:    "missing-instance-signal",
			body:    `{"pgns":{"0x1FEDA":{"name":"X","instance_signal":"instance","signals":[{"name":"a","start_bit":0,"length":8}]}}}`,
			wantSub: "instance signal",
		},
		{
			name:    "bad-pgn-key",
			body:    `{"pgns":{"0xFFFFFF":{"name":"X","signals":[{"name":"a","start_bit":0,"length":8}]}}}`,
			wantSub: "18-bit range",
		},
		{
			name:    "bad-byte-order",
			body:    `{"pgns":{"0x1FEDA":{"name":"X","signals":[{"name":"a","start_bit":0,"length":8,"byte_order":"middle"}]}}}`,
			wantSub: "unknown byte order",
		},
		{
			name:    "no-signals",
			body:    `{"pgns":{"0x1FEDA":{"name":"X","signals":[]}}}`,
			wantSub: "at least one signal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestBoundarySignalAtBit56(t *testing.T) {
	// A signal at bits 56..64 is legal for an 8-byte payload.
	body := `{"pgns":{"0x1FEDA":{"name":"X","signals":[{"name":"tail","start_bit":56,"length":8}]}}}`
	catalog, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	desc, _ := catalog.Lookup(0x1FEDA)
	if got := desc.PayloadBytes(); got != 8 {
		t.Errorf("PayloadBytes = %d, want 8", got)
	}
}

func TestLoaderFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(testCatalog), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Catalog().Len() != 2 {
		t.Errorf("catalog has %d PGNs, want 2", l.Catalog().Len())
	}

	// Missing file is a startup error.
	l = NewLoader(t.TempDir())
	if err := l.Load(); err == nil {
		t.Error("Load without catalog.json should fail")
	}
}

func TestSignalMaxRaw(t *testing.T) {
	tests := []struct {
		length int
		want   uint64
	}{
		{2, 3},
		{8, 0xFF},
		{16, 0xFFFF},
		{64, ^uint64(0)},
	}
	for _, tt := range tests {
		s := &Signal{Length: tt.length}
		if got := s.MaxRaw(); got != tt.want {
			t.Errorf("MaxRaw(len=%d) = %#x, want %#x", tt.length, got, tt.want)
		}
	}
}
