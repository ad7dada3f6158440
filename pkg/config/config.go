// Package config loads the daemon configuration.
//
// Configuration is a closed schema: every recognised option is a field below.
// Values come from an optional JSON file (lowest precedence) overridden by
// RVLINK_-prefixed environment variables using a double-underscore hierarchy:
//
//	RVLINK_SERVER__PORT=8080
//	RVLINK_CAN__INTERFACES=can0,can1
//	RVLINK_CAN__INTERFACE_MAPPINGS={"house":"can0","chassis":"can1"}
//	RVLINK_FEATURES__ENABLE_MIRROR=true
//	RVLINK_LOGGING__LEVEL=debug
//
// List-valued settings are comma-separated; map-valued settings are a JSON
// object in a single variable. Unrecognised RVLINK_ variables abort startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rvlink-network/rvlink/pkg/util"
)

// EnvPrefix is the prefix shared by all environment overrides.
const EnvPrefix = "RVLINK_"

// ServerConfig holds the HTTP/WebSocket listener settings. Workers is part
// of the accepted schema but has no runtime effect: the listener serves each
// connection on its own goroutine.
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Workers int    `json:"workers"`
}

// CANConfig holds the CAN bus settings.
type CANConfig struct {
	Bustype            string            `json:"bustype"`
	Interfaces         []string          `json:"interfaces"`
	InterfaceMappings  map[string]string `json:"interface_mappings"` // logical name → physical interface
	Bitrate            int               `json:"bitrate"`
	ReceiveOwnMessages bool              `json:"receive_own_messages"`
}

// FeaturesConfig holds per-feature enable flags keyed by feature name.
type FeaturesConfig struct {
	Enable map[string]bool `json:"enable"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `json:"level"`
	LogFile string `json:"log_file"`
}

// MirrorConfig holds the optional Redis state-mirror settings.
type MirrorConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Config is the complete daemon configuration.
type Config struct {
	SpecDir  string         `json:"spec_dir"` // directory holding catalog.json and mapping.json
	Server   ServerConfig   `json:"server"`
	CAN      CANConfig      `json:"can"`
	Features FeaturesConfig `json:"features"`
	Logging  LoggingConfig  `json:"logging"`
	Mirror   MirrorConfig   `json:"mirror"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		SpecDir: "/etc/rvlink",
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			Workers: 1,
		},
		CAN: CANConfig{
			Bustype:    "socketcan",
			Interfaces: []string{"can0"},
			Bitrate:    250000,
		},
		Features: FeaturesConfig{Enable: map[string]bool{}},
		Logging:  LoggingConfig{Level: "info"},
		Mirror:   MirrorConfig{Addr: "localhost:6379"},
	}
}

// Load builds the configuration from defaults, an optional JSON file, and
// environment overrides, in that precedence order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}

	v.Add(c.Server.Port > 0 && c.Server.Port < 65536,
		fmt.Sprintf("server.port %d out of range", c.Server.Port))
	v.Add(len(c.CAN.Interfaces) > 0, "can.interfaces must name at least one interface")
	v.Add(c.CAN.Bitrate > 0, "can.bitrate must be positive")

	seen := map[string]bool{}
	for _, iface := range c.CAN.Interfaces {
		if seen[iface] {
			v.AddErrorf("can.interfaces lists '%s' twice", iface)
		}
		seen[iface] = true
	}
	for logical, physical := range c.CAN.InterfaceMappings {
		if !seen[physical] {
			v.AddErrorf("can.interface_mappings: logical '%s' maps to unknown interface '%s'",
				logical, physical)
		}
	}

	if c.Logging.Level != "" {
		if _, err := logrusLevel(c.Logging.Level); err != nil {
			v.AddErrorf("logging.level: %v", err)
		}
	}

	return v.Build()
}

func logrusLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
		return strings.ToLower(level), nil
	}
	return "", fmt.Errorf("unknown level '%s'", level)
}

// ResolveInterface maps a logical interface name ("house", "chassis") to its
// physical interface. Physical names pass through unchanged.
func (c *Config) ResolveInterface(name string) (string, bool) {
	if physical, ok := c.CAN.InterfaceMappings[name]; ok {
		return physical, true
	}
	for _, iface := range c.CAN.Interfaces {
		if iface == name {
			return name, true
		}
	}
	return "", false
}

// applyEnv overrides cfg fields from RVLINK_ environment variables.
// environ has "KEY=VALUE" form, as returned by os.Environ.
func applyEnv(cfg *Config, environ []string) error {
	v := &util.ValidationBuilder{}

	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		path := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		group, field, ok := strings.Cut(path, "__")
		if !ok {
			// Top-level settings have no group separator.
			if path == "spec_dir" {
				cfg.SpecDir = value
				continue
			}
			v.AddErrorf("unrecognised setting %s", key)
			continue
		}

		var err error
		switch group {
		case "server":
			err = applyServerEnv(&cfg.Server, field, value)
		case "can":
			err = applyCANEnv(&cfg.CAN, field, value)
		case "features":
			err = applyFeaturesEnv(&cfg.Features, field, value)
		case "logging":
			err = applyLoggingEnv(&cfg.Logging, field, value)
		case "mirror":
			err = applyMirrorEnv(&cfg.Mirror, field, value)
		default:
			err = fmt.Errorf("unrecognised group '%s'", group)
		}
		if err != nil {
			v.AddErrorf("%s: %v", key, err)
		}
	}

	return v.Build()
}

func applyServerEnv(s *ServerConfig, field, value string) error {
	switch field {
	case "host":
		s.Host = value
	case "port":
		return parseInt(value, &s.Port)
	case "workers":
		return parseInt(value, &s.Workers)
	default:
		return fmt.Errorf("unrecognised field '%s'", field)
	}
	return nil
}

func applyCANEnv(c *CANConfig, field, value string) error {
	switch field {
	case "bustype":
		c.Bustype = value
	case "interfaces":
		c.Interfaces = splitList(value)
	case "interface_mappings":
		m := map[string]string{}
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			return fmt.Errorf("expected JSON object: %w", err)
		}
		c.InterfaceMappings = m
	case "bitrate":
		return parseInt(value, &c.Bitrate)
	case "receive_own_messages":
		return parseBool(value, &c.ReceiveOwnMessages)
	default:
		return fmt.Errorf("unrecognised field '%s'", field)
	}
	return nil
}

func applyFeaturesEnv(f *FeaturesConfig, field, value string) error {
	name, ok := strings.CutPrefix(field, "enable_")
	if !ok {
		return fmt.Errorf("unrecognised field '%s' (expected enable_<feature>)", field)
	}
	var enabled bool
	if err := parseBool(value, &enabled); err != nil {
		return err
	}
	if f.Enable == nil {
		f.Enable = map[string]bool{}
	}
	f.Enable[name] = enabled
	return nil
}

func applyLoggingEnv(l *LoggingConfig, field, value string) error {
	switch field {
	case "level":
		l.Level = value
	case "log_file":
		l.LogFile = value
	default:
		return fmt.Errorf("unrecognised field '%s'", field)
	}
	return nil
}

func applyMirrorEnv(m *MirrorConfig, field, value string) error {
	switch field {
	case "addr":
		m.Addr = value
	case "password":
		m.Password = value
	case "db":
		return parseInt(value, &m.DB)
	default:
		return fmt.Errorf("unrecognised field '%s'", field)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(value string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("expected integer, got '%s'", value)
	}
	*dst = n
	return nil
}

func parseBool(value string, dst *bool) error {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("expected boolean, got '%s'", value)
	}
	*dst = b
	return nil
}
