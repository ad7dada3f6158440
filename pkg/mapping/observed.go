package mapping

import (
	"sort"
	"sync"
	"time"
)

// DefaultObservedLimit bounds each observed-but-unhandled table.
const DefaultObservedLimit = 512

// ObservedEntry records traffic the decoder saw but could not handle: either
// a PGN missing from the catalog, or a known PGN whose instance has no
// binding. One sample payload is captured per entry.
type ObservedEntry struct {
	PGN       uint32    `json:"pgn"`
	Instance  int       `json:"instance"` // -1 when not applicable
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     uint64    `json:"count"`
	Sample    []byte    `json:"sample"`
}

// ObservedTable is a bounded table of observed-but-unhandled entries. Safe
// for concurrent use. When the table is full, new keys are counted in
// Suppressed but not stored.
type ObservedTable struct {
	mu         sync.Mutex
	limit      int
	entries    map[bindingKey]*ObservedEntry
	suppressed uint64
}

// NewObservedTable creates a table bounded to limit entries.
func NewObservedTable(limit int) *ObservedTable {
	if limit <= 0 {
		limit = DefaultObservedLimit
	}
	return &ObservedTable{
		limit:   limit,
		entries: make(map[bindingKey]*ObservedEntry),
	}
}

// Record notes one observation. payload is copied only for the first
// occurrence of a key.
func (t *ObservedTable) Record(pgn uint32, instance int, payload []byte, now time.Time) {
	key := bindingKey{pgn: pgn, instance: instance}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		e.LastSeen = now
		e.Count++
		return
	}
	if len(t.entries) >= t.limit {
		t.suppressed++
		return
	}
	sample := make([]byte, len(payload))
	copy(sample, payload)
	t.entries[key] = &ObservedEntry{
		PGN:       pgn,
		Instance:  instance,
		FirstSeen: now,
		LastSeen:  now,
		Count:     1,
		Sample:    sample,
	}
}

// Snapshot returns the entries ordered by (PGN, instance), plus the number of
// distinct keys suppressed because the table was full.
func (t *ObservedTable) Snapshot() ([]ObservedEntry, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ObservedEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PGN != out[j].PGN {
			return out[i].PGN < out[j].PGN
		}
		return out[i].Instance < out[j].Instance
	})
	return out, t.suppressed
}

// Len returns the number of stored entries.
func (t *ObservedTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
