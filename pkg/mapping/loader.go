package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rvlink-network/rvlink/pkg/spec"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// Loader handles loading and validating the coach mapping file
type Loader struct {
	specDir string
	mapping *Mapping
}

// NewLoader creates a new mapping loader
func NewLoader(specDir string) *Loader {
	return &Loader{specDir: specDir}
}

// Load reads and validates mapping.json against the protocol catalog.
func (l *Loader) Load(catalog *spec.Catalog) error {
	path := filepath.Join(l.specDir, "mapping.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading mapping: %w", err)
	}

	mapping, err := Parse(data, catalog)
	if err != nil {
		return fmt.Errorf("loading mapping %s: %w", path, err)
	}
	l.mapping = mapping
	return nil
}

// Mapping returns the loaded mapping.
func (l *Loader) Mapping() *Mapping {
	return l.mapping
}

// Parse builds and validates a Mapping from raw JSON. catalog may not be nil:
// every binding's PGN must exist in the catalog.
func Parse(data []byte, catalog *spec.Catalog) (*Mapping, error) {
	var file MappingFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing mapping: %w", err)
	}

	m := &Mapping{
		coach:    file.Coach,
		byKey:    make(map[bindingKey]*DeviceBinding, len(file.Bindings)),
		byEntity: make(map[string]*DeviceBinding, len(file.Bindings)),
		byType:   make(map[string][]*DeviceBinding),
	}

	v := &util.ValidationBuilder{}

	for i, b := range file.Bindings {
		where := fmt.Sprintf("binding[%d]", i)
		if b.EntityID != "" {
			where = fmt.Sprintf("binding '%s'", b.EntityID)
		}

		if b.EntityID == "" {
			v.AddErrorf("%s: entity_id is required", where)
			continue
		}
		if _, dup := m.byEntity[b.EntityID]; dup {
			v.AddErrorf("%s: duplicate entity id", where)
			continue
		}

		pgn, err := parsePGN(b.PGNHex)
		if err != nil {
			v.AddErrorf("%s: pgn '%s': %v", where, b.PGNHex, err)
			continue
		}
		b.PGN = pgn

		desc, ok := catalog.Lookup(pgn)
		if !ok {
			v.AddErrorf("%s: pgn 0x%X not in catalog", where, pgn)
			continue
		}

		if b.Protocol == "" {
			b.Protocol = "rvc"
		}

		caps, ok := deviceCapabilities[b.DeviceType]
		if !ok {
			v.AddErrorf("%s: unknown device type '%s' (known: %s)",
				where, b.DeviceType, strings.Join(DeviceTypes(), ", "))
			continue
		}
		for _, c := range b.Capabilities {
			if !contains(caps, c) {
				v.AddErrorf("%s: capability '%s' not valid for device type '%s'",
					where, c, b.DeviceType)
			}
		}

		for signal := range b.StateSignals {
			if _, ok := desc.Signal(signal); !ok {
				v.AddErrorf("%s: state signal '%s' not defined by pgn 0x%X",
					where, signal, pgn)
			}
		}

		key := bindingKey{pgn: pgn, instance: -1}
		if b.Instance != nil {
			if *b.Instance < 0 || *b.Instance > 255 {
				v.AddErrorf("%s: instance %d out of range", where, *b.Instance)
				continue
			}
			key.instance = *b.Instance
		}
		if prev, dup := m.byKey[key]; dup {
			v.AddErrorf("%s: (pgn 0x%X, instance %d) already bound to '%s'",
				where, pgn, key.instance, prev.EntityID)
			continue
		}

		m.byKey[key] = b
		m.byEntity[b.EntityID] = b
		m.byType[b.DeviceType] = append(m.byType[b.DeviceType], b)
	}

	for _, list := range m.byType {
		sort.Slice(list, func(i, j int) bool { return list[i].EntityID < list[j].EntityID })
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return m, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
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
