package diag

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rvlink-network/rvlink/pkg/decode"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testTable() (*Table, *clock) {
	c := &clock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	t := NewTable(nil)
	t.now = c.Now
	return t, c
}

func dtc(protocol string, sa uint8, code, severity string, active bool) decode.DTC {
	return decode.DTC{Protocol: protocol, SourceAddress: sa, Code: code, Severity: severity, Active: active}
}

func TestReportRaisesAndCounts(t *testing.T) {
	table, c := testTable()

	table.Report("j1939", 0x17, []decode.DTC{dtc("j1939", 0x17, "SPN100.FMI4", "fault", true)})
	c.Advance(time.Second)
	table.Report("j1939", 0x17, []decode.DTC{dtc("j1939", 0x17, "SPN100.FMI4", "fault", true)})

	recs := table.Snapshot(Filter{})
	require.Len(t, recs, 1)
	rec := recs[0]
	require.True(t, rec.Active)
	require.Equal(t, uint64(2), rec.Count)
	require.True(t, rec.LastSeen.After(rec.FirstSeen))
}

func TestReportClearsAbsentCodes(t *testing.T) {
	table, c := testTable()

	table.Report("j1939", 0x17, []decode.DTC{
		dtc("j1939", 0x17, "SPN100.FMI4", "fault", true),
		dtc("j1939", 0x17, "SPN520.FMI1", "warning", true),
	})
	c.Advance(time.Second)

	// Next DM1 only carries one of the two: the other is cleared.
	table.Report("j1939", 0x17, []decode.DTC{dtc("j1939", 0x17, "SPN100.FMI4", "fault", true)})

	active := table.Snapshot(Filter{ActiveOnly: true})
	require.Len(t, active, 1)
	require.Equal(t, "SPN100.FMI4", active[0].Code)

	all := table.Snapshot(Filter{})
	require.Len(t, all, 2)
	for _, rec := range all {
		if rec.Code == "SPN520.FMI1" {
			require.False(t, rec.Active)
			require.False(t, rec.ClearedAt.IsZero())
		}
	}

	// Empty report is an all-clear.
	c.Advance(time.Second)
	table.Report("j1939", 0x17, nil)
	require.Empty(t, table.Snapshot(Filter{ActiveOnly: true}))
}

func TestSnapshotFilters(t *testing.T) {
	table, _ := testTable()
	table.Report("j1939", 0x17, []decode.DTC{dtc("j1939", 0x17, "SPN100.FMI4", "fault", true)})
	table.Report("spartan", 0x21, []decode.DTC{dtc("spartan", 0x21, "K2-02-0110", "warning", true)})

	require.Len(t, table.Snapshot(Filter{Protocol: "spartan"}), 1)

	sa := uint8(0x17)
	bySA := table.Snapshot(Filter{SourceAddress: &sa})
	require.Len(t, bySA, 1)
	require.Equal(t, "j1939", bySA[0].Protocol)
}

func TestCorrelationAcrossProtocols(t *testing.T) {
	table, c := testTable()

	// Same chassis fault reported by both decoders with overlapping windows.
	table.Report("j1939", 0x21, []decode.DTC{dtc("j1939", 0x21, "K2-02-0110", "fault", true)})
	c.Advance(5 * time.Second)
	table.Report("spartan", 0x21, []decode.DTC{dtc("spartan", 0x21, "K2-02-0110", "fault", true)})

	groups := table.Correlated()
	require.Len(t, groups, 1)
	require.Equal(t, uint8(0x21), groups[0].SourceAddress)
	require.Equal(t, "K2-02-0110", groups[0].Code)
	require.Len(t, groups[0].Records, 2)
}

func TestCorrelationRequiresOverlap(t *testing.T) {
	table, c := testTable()

	// First protocol's fault is long cleared before the second raises it.
	table.Report("j1939", 0x21, []decode.DTC{dtc("j1939", 0x21, "K2-02-0110", "fault", true)})
	c.Advance(time.Minute)
	table.Report("j1939", 0x21, nil)
	c.Advance(time.Hour)
	table.Report("spartan", 0x21, []decode.DTC{dtc("spartan", 0x21, "K2-02-0110", "fault", true)})

	require.Empty(t, table.Correlated())
}

func TestCorrelationIgnoresSingleProtocol(t *testing.T) {
	table, c := testTable()
	table.Report("j1939", 0x21, []decode.DTC{dtc("j1939", 0x21, "K2-02-0110", "fault", true)})
	c.Advance(time.Second)
	table.Report("j1939", 0x21, []decode.DTC{dtc("j1939", 0x21, "K2-02-0110", "fault", true)})

	require.Empty(t, table.Correlated())
}
