package canbus

import (
	"sort"
	"sync"
	"time"
)

// Stats holds per-interface link-layer counters. The owning worker mutates
// them; everyone else reads copies via Snapshot.
type Stats struct {
	mu sync.Mutex

	rxFrames  uint64
	rxBytes   uint64
	txFrames  uint64
	txBytes   uint64
	rxErrors  uint64
	txErrors  uint64
	busErrors uint64
	restarts  uint64

	pgns map[uint32]time.Time // PGN → last observed
}

// StatsSnapshot is an immutable copy of interface counters.
type StatsSnapshot struct {
	Interface string    `json:"interface"`
	Up        bool      `json:"up"`
	RxFrames  uint64    `json:"rx_frames"`
	RxBytes   uint64    `json:"rx_bytes"`
	TxFrames  uint64    `json:"tx_frames"`
	TxBytes   uint64    `json:"tx_bytes"`
	RxErrors  uint64    `json:"rx_errors"`
	TxErrors  uint64    `json:"tx_errors"`
	BusErrors uint64    `json:"bus_errors"`
	Restarts  uint64    `json:"restarts"`
	PGNs      []uint32  `json:"observed_pgns"`
	RingDepth int       `json:"ring_depth"`
	Timestamp time.Time `json:"timestamp"`
}

func newStats() *Stats {
	return &Stats{pgns: make(map[uint32]time.Time)}
}

func (s *Stats) recordRx(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxFrames++
	s.rxBytes += uint64(len(f.Data))
	s.pgns[f.PGN()] = f.Timestamp
}

func (s *Stats) recordTx(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txFrames++
	s.txBytes += uint64(len(f.Data))
}

func (s *Stats) recordRxError()  { s.mu.Lock(); s.rxErrors++; s.mu.Unlock() }
func (s *Stats) recordTxError()  { s.mu.Lock(); s.txErrors++; s.mu.Unlock() }
func (s *Stats) recordBusError() { s.mu.Lock(); s.busErrors++; s.mu.Unlock() }
func (s *Stats) recordRestart()  { s.mu.Lock(); s.restarts++; s.mu.Unlock() }

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pgns := make([]uint32, 0, len(s.pgns))
	for pgn := range s.pgns {
		pgns = append(pgns, pgn)
	}
	sort.Slice(pgns, func(i, j int) bool { return pgns[i] < pgns[j] })

	return StatsSnapshot{
		RxFrames:  s.rxFrames,
		RxBytes:   s.rxBytes,
		TxFrames:  s.txFrames,
		TxBytes:   s.txBytes,
		RxErrors:  s.rxErrors,
		TxErrors:  s.txErrors,
		BusErrors: s.busErrors,
		Restarts:  s.restarts,
		PGNs:      pgns,
		Timestamp: time.Now(),
	}
}
