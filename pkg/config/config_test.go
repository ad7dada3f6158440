package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8000 {
		t.Errorf("default port = %d, want 8000", cfg.Server.Port)
	}
	if len(cfg.CAN.Interfaces) != 1 || cfg.CAN.Interfaces[0] != "can0" {
		t.Errorf("default interfaces = %v, want [can0]", cfg.CAN.Interfaces)
	}
	if cfg.CAN.Bitrate != 250000 {
		t.Errorf("default bitrate = %d, want 250000", cfg.CAN.Bitrate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	environ := []string{
		"RVLINK_SERVER__PORT=9090",
		"RVLINK_CAN__INTERFACES=can0,can1",
		`RVLINK_CAN__INTERFACE_MAPPINGS={"house":"can0","chassis":"can1"}`,
		"RVLINK_CAN__RECEIVE_OWN_MESSAGES=true",
		"RVLINK_FEATURES__ENABLE_MIRROR=true",
		"RVLINK_FEATURES__ENABLE_J1939=false",
		"RVLINK_LOGGING__LEVEL=debug",
		"RVLINK_SPEC_DIR=/opt/rvlink",
		"PATH=/usr/bin", // ignored: no prefix
	}
	if err := applyEnv(cfg, environ); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.CAN.Interfaces) != 2 {
		t.Errorf("interfaces = %v, want two", cfg.CAN.Interfaces)
	}
	if cfg.CAN.InterfaceMappings["chassis"] != "can1" {
		t.Errorf("chassis mapping = %q, want can1", cfg.CAN.InterfaceMappings["chassis"])
	}
	if !cfg.CAN.ReceiveOwnMessages {
		t.Error("receive_own_messages should be true")
	}
	if !cfg.Features.Enable["mirror"] {
		t.Error("mirror feature should be enabled")
	}
	if enabled, ok := cfg.Features.Enable["j1939"]; !ok || enabled {
		t.Error("j1939 feature should be explicitly disabled")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.SpecDir != "/opt/rvlink" {
		t.Errorf("spec_dir = %q, want /opt/rvlink", cfg.SpecDir)
	}
}

func TestApplyEnvRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
	}{
		{"unknown-group", []string{"RVLINK_BOGUS__THING=1"}},
		{"unknown-field", []string{"RVLINK_SERVER__BOGUS=1"}},
		{"unknown-top-level", []string{"RVLINK_BOGUS=1"}},
		{"bad-int", []string{"RVLINK_SERVER__PORT=abc"}},
		{"bad-map", []string{"RVLINK_CAN__INTERFACE_MAPPINGS=not-json"}},
		{"feature-without-enable", []string{"RVLINK_FEATURES__MIRROR=true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := applyEnv(Default(), tt.environ); err == nil {
				t.Errorf("applyEnv(%v) should fail", tt.environ)
			}
		})
	}
}

func TestValidateRejectsBadMappings(t *testing.T) {
	cfg := Default()
	cfg.CAN.Interfaces = []string{"can0"}
	cfg.CAN.InterfaceMappings = map[string]string{"house": "can9"}
	if err := cfg.Validate(); err == nil {
		t.Error("mapping to unknown interface should fail validation")
	}
}

func TestResolveInterface(t *testing.T) {
	cfg := Default()
	cfg.CAN.Interfaces = []string{"can0", "can1"}
	cfg.CAN.InterfaceMappings = map[string]string{"house": "can0", "chassis": "can1"}

	tests := []struct {
		in    string
		want  string
		found bool
	}{
		{"house", "can0", true},
		{"chassis", "can1", true},
		{"can1", "can1", true},
		{"garage", "", false},
	}
	for _, tt := range tests {
		got, ok := cfg.ResolveInterface(tt.in)
		if got != tt.want || ok != tt.found {
			t.Errorf("ResolveInterface(%q) = (%q, %v), want (%q, %v)",
				tt.in, got, ok, tt.want, tt.found)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"server":{"host":"127.0.0.1","port":8123},"can":{"interfaces":["vcan0"],"bitrate":500000}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8123 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.CAN.Bitrate != 500000 {
		t.Errorf("bitrate = %d, want 500000", cfg.CAN.Bitrate)
	}

	// Missing file falls back to defaults.
	cfg, err = Load(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("Load absent: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want default 8000", cfg.Server.Port)
	}
}
