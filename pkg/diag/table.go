// Package diag maintains the diagnostic trouble code table fed by the
// protocol decoders and correlates faults reported by more than one protocol
// against the shared source-address space.
package diag

import (
	"sort"
	"sync"
	"time"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/decode"
	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// Record is one trouble code's lifetime within the process.
type Record struct {
	Protocol      string    `json:"protocol"`
	SourceAddress uint8     `json:"source_address"`
	Code          string    `json:"code"`
	Severity      string    `json:"severity"`
	Active        bool      `json:"active"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	ClearedAt     time.Time `json:"cleared_at,omitempty"`
	Count         uint64    `json:"occurrence_count"`
}

// Group is a set of records from different protocols describing the same
// fault: same (source address, code) with overlapping active windows.
type Group struct {
	SourceAddress uint8    `json:"source_address"`
	Code          string   `json:"code"`
	Records       []Record `json:"records"`
}

type recordKey struct {
	protocol string
	sa       uint8
	code     string
}

// Table is the DTC store. Safe for concurrent use; the dispatcher writes
// through Report, the REST surface reads snapshots.
type Table struct {
	mu          sync.Mutex
	records     map[recordKey]*Record
	now         func() time.Time
	broadcaster *broadcast.Broadcaster
}

// NewTable creates an empty DTC table. b may be nil.
func NewTable(b *broadcast.Broadcaster) *Table {
	return &Table{
		records:     map[recordKey]*Record{},
		now:         time.Now,
		broadcaster: b,
	}
}

// Report ingests one decoder result for a source address. The dtcs carry the
// source's currently reported codes: previously active codes from the same
// (protocol, source address) that are absent and no longer reported active
// are cleared. An empty dtcs set is an all-clear.
func (t *Table) Report(protocol string, sourceAddress uint8, dtcs []decode.DTC) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	reported := map[string]bool{}

	for _, dtc := range dtcs {
		reported[dtc.Code] = true
		key := recordKey{protocol: protocol, sa: dtc.SourceAddress, code: dtc.Code}

		rec, ok := t.records[key]
		if !ok {
			rec = &Record{
				Protocol:      protocol,
				SourceAddress: dtc.SourceAddress,
				Code:          dtc.Code,
				Severity:      dtc.Severity,
				FirstSeen:     now,
			}
			t.records[key] = rec
		}
		rec.LastSeen = now
		rec.Count++
		rec.Severity = dtc.Severity

		if dtc.Active && !rec.Active {
			rec.Active = true
			rec.ClearedAt = time.Time{}
			t.publishTransition(broadcast.SystemFaultRaised, rec, now)
			util.Warnf("fault raised: %s sa=0x%02X %s (%s)", protocol, dtc.SourceAddress, dtc.Code, dtc.Severity)
		}
	}

	// Codes this source was reporting but no longer does are cleared.
	for key, rec := range t.records {
		if key.protocol != protocol || key.sa != sourceAddress || !rec.Active {
			continue
		}
		if reported[rec.Code] {
			continue
		}
		rec.Active = false
		rec.ClearedAt = now
		t.publishTransition(broadcast.SystemFaultCleared, rec, now)
		util.Infof("fault cleared: %s sa=0x%02X %s", protocol, key.sa, rec.Code)
	}

	t.updateGauges()
}

func (t *Table) publishTransition(name string, rec *Record, now time.Time) {
	if t.broadcaster == nil {
		return
	}
	t.broadcaster.Publish(broadcast.SystemEvent{
		Name: name,
		Detail: map[string]interface{}{
			"protocol":       rec.Protocol,
			"source_address": rec.SourceAddress,
			"code":           rec.Code,
			"severity":       rec.Severity,
		},
		Timestamp: now,
	})
}

func (t *Table) updateGauges() {
	active := map[string]int{}
	for _, rec := range t.records {
		if rec.Active {
			active[rec.Protocol]++
		}
	}
	for protocol, n := range active {
		metrics.DTCActive.WithLabelValues(protocol).Set(float64(n))
	}
	for _, rec := range t.records {
		if _, ok := active[rec.Protocol]; !ok {
			metrics.DTCActive.WithLabelValues(rec.Protocol).Set(0)
		}
	}
}

// Filter selects records from Snapshot. Zero values match everything.
type Filter struct {
	Protocol      string
	SourceAddress *uint8
	ActiveOnly    bool
}

// Snapshot returns matching records ordered by (source address, code,
// protocol).
func (t *Table) Snapshot(f Filter) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		if f.Protocol != "" && rec.Protocol != f.Protocol {
			continue
		}
		if f.SourceAddress != nil && rec.SourceAddress != *f.SourceAddress {
			continue
		}
		if f.ActiveOnly && !rec.Active {
			continue
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	return out
}

// Correlated returns groups of records from at least two protocols that
// share (source address, code) and whose active windows overlap.
func (t *Table) Correlated() []Group {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	byFault := map[struct {
		sa   uint8
		code string
	}][]Record{}
	for _, rec := range t.records {
		k := struct {
			sa   uint8
			code string
		}{rec.SourceAddress, rec.Code}
		byFault[k] = append(byFault[k], *rec)
	}

	var groups []Group
	for k, recs := range byFault {
		correlated := overlapping(recs, now)
		if len(correlated) < 2 || !multiProtocol(correlated) {
			continue
		}
		sortRecords(correlated)
		groups = append(groups, Group{SourceAddress: k.sa, Code: k.code, Records: correlated})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].SourceAddress != groups[j].SourceAddress {
			return groups[i].SourceAddress < groups[j].SourceAddress
		}
		return groups[i].Code < groups[j].Code
	})
	return groups
}

// overlapping keeps the records whose active windows intersect the union of
// the others'. With the window [FirstSeen, ClearedAt-or-now], two records
// overlap when each one's start precedes the other's end.
func overlapping(recs []Record, now time.Time) []Record {
	var out []Record
	for i, a := range recs {
		aEnd := windowEnd(a, now)
		for j, b := range recs {
			if i == j || a.Protocol == b.Protocol {
				continue
			}
			if !a.FirstSeen.After(windowEnd(b, now)) && !b.FirstSeen.After(aEnd) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func windowEnd(r Record, now time.Time) time.Time {
	if r.Active || r.ClearedAt.IsZero() {
		return now
	}
	return r.ClearedAt
}

func multiProtocol(recs []Record) bool {
	for _, r := range recs[1:] {
		if r.Protocol != recs[0].Protocol {
			return true
		}
	}
	return false
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SourceAddress != recs[j].SourceAddress {
			return recs[i].SourceAddress < recs[j].SourceAddress
		}
		if recs[i].Code != recs[j].Code {
			return recs[i].Code < recs[j].Code
		}
		return recs[i].Protocol < recs[j].Protocol
	})
}
