package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rvlink-network/rvlink/pkg/util"
)

// SpecDir is the default specification directory
var SpecDir = "/etc/rvlink"

// Loader handles loading and validating the protocol catalog
type Loader struct {
	specDir string
	catalog *Catalog
}

// NewLoader creates a new catalog loader
func NewLoader(specDir string) *Loader {
	if specDir == "" {
		specDir = SpecDir
	}
	return &Loader{specDir: specDir}
}

// Load reads and validates catalog.json. On success the catalog is published
// and may be shared freely between tasks.
func (l *Loader) Load() error {
	path := filepath.Join(l.specDir, "catalog.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}

	catalog, err := Parse(data)
	if err != nil {
		return fmt.Errorf("loading catalog %s: %w", path, err)
	}
	l.catalog = catalog
	return nil
}

// Catalog returns the loaded catalog.
func (l *Loader) Catalog() *Catalog {
	return l.catalog
}

// Parse builds and validates a Catalog from raw JSON.
func Parse(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	catalog := &Catalog{
		version: file.Version,
		pgns:    make(map[uint32]*PGNDescriptor, len(file.PGNs)),
		enums:   make(map[string]map[uint64]string, len(file.Enums)),
	}

	v := &util.ValidationBuilder{}

	for name, table := range file.Enums {
		parsed := make(map[uint64]string, len(table))
		for rawStr, label := range table {
			raw, err := strconv.ParseUint(rawStr, 10, 64)
			if err != nil {
				v.AddErrorf("enum '%s': key '%s' is not an unsigned integer", name, rawStr)
				continue
			}
			parsed[raw] = label
		}
		catalog.enums[name] = parsed
	}

	for key, desc := range file.PGNs {
		pgn, err := parsePGN(key)
		if err != nil {
			v.AddErrorf("pgn key '%s': %v", key, err)
			continue
		}
		desc.PGN = pgn
		if desc.CommandPGNHex != "" {
			cmdPGN, err := parsePGN(desc.CommandPGNHex)
			if err != nil {
				v.AddErrorf("pgn 0x%X: command_pgn '%s': %v", pgn, desc.CommandPGNHex, err)
			} else {
				desc.CommandPGN = cmdPGN
			}
		}
		validateDescriptor(v, desc, catalog.enums)
		catalog.pgns[pgn] = desc
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// validateDescriptor checks one PGN descriptor: signals must fit in the
// 8-byte payload, names must be unique, and enum references must resolve.
func validateDescriptor(v *util.ValidationBuilder, desc *PGNDescriptor, enums map[string]map[uint64]string) {
	v.Add(desc.Name != "", fmt.Sprintf("pgn 0x%X: name is required", desc.PGN))
	v.Add(len(desc.Signals) > 0, fmt.Sprintf("pgn 0x%X: at least one signal is required", desc.PGN))

	desc.signalIndex = make(map[string]*Signal, len(desc.Signals))
	for _, sig := range desc.Signals {
		if sig.Name == "" {
			v.AddErrorf("pgn 0x%X (%s): signal with empty name", desc.PGN, desc.Name)
			continue
		}
		if _, dup := desc.signalIndex[sig.Name]; dup {
			v.AddErrorf("pgn 0x%X (%s): duplicate signal '%s'", desc.PGN, desc.Name, sig.Name)
			continue
		}
		desc.signalIndex[sig.Name] = sig

		if sig.Length <= 0 || sig.Length > 64 {
			v.AddErrorf("pgn 0x%X (%s): signal '%s' has invalid length %d bits",
				desc.PGN, desc.Name, sig.Name, sig.Length)
		}
		if sig.StartBit < 0 || sig.EndBit() > 64 {
			v.AddErrorf("pgn 0x%X (%s): signal '%s' spans bits %d..%d, beyond the 8-byte payload",
				desc.PGN, desc.Name, sig.Name, sig.StartBit, sig.EndBit())
		}
		switch sig.ByteOrder {
		case "", ByteOrderLittle, ByteOrderBig:
		default:
			v.AddErrorf("pgn 0x%X (%s): signal '%s' has unknown byte order '%s'",
				desc.PGN, desc.Name, sig.Name, sig.ByteOrder)
		}
		if sig.Enum != "" {
			if _, ok := enums[sig.Enum]; !ok {
				v.AddErrorf("pgn 0x%X (%s): signal '%s' references unknown enum '%s'",
					desc.PGN, desc.Name, sig.Name, sig.Enum)
			}
		}
	}

	if desc.InstanceSignal != "" {
		if _, ok := desc.signalIndex[desc.InstanceSignal]; !ok {
			v.AddErrorf("pgn 0x%X (%s): instance signal '%s' not defined",
				desc.PGN, desc.Name, desc.InstanceSignal)
		}
	}
}

// parsePGN parses a "0x1FEDA" or decimal PGN key.
func parsePGN(key string) (uint32, error) {
	key = strings.TrimSpace(key)
	base := 10
	if strings.HasPrefix(key, "0x") || strings.HasPrefix(key, "0X") {
		key, base = key[2:], 16
	}
	n, err := strconv.ParseUint(key, base, 32)
	if err != nil {
		return 0, fmt.Errorf("not a PGN number")
	}
	if n > 0x3FFFF {
		return 0, fmt.Errorf("PGN 0x%X out of 18-bit range", n)
	}
	return uint32(n), nil
}
