package store

import (
	"context"
	"sort"
	"time"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/decode"
	"github.com/rvlink-network/rvlink/pkg/encode"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// DefaultStalenessTick is the availability scan interval.
const DefaultStalenessTick = time.Second

// inboxDepth bounds the writer task's message queue.
const inboxDepth = 1024

// Store is the entity state owner. All writes flow through the single run
// task; public methods are safe for concurrent use.
type Store struct {
	mapping     *mapping.Mapping
	encoder     *encode.Encoder
	submitter   Submitter
	broadcaster *broadcast.Broadcaster

	inbox         chan message
	stalenessTick time.Duration
	now           func() time.Time

	done chan struct{}
}

// Submitter transmits encoded frames on a logical or physical interface.
// Implemented by canbus.Manager.
type Submitter interface {
	Submit(ctx context.Context, iface string, frames []canbus.Frame) error
}

// message is one unit of work for the writer task.
type message interface {
	isMessage()
}

type applyMsg struct {
	binding   *mapping.DeviceBinding
	signals   map[string]decode.Value
	timestamp time.Time
	done      chan struct{}
}

type snapshotMsg struct {
	entityID string
	reply    chan snapshotReply
}

type snapshotReply struct {
	snap Snapshot
	ok   bool
}

type listMsg struct {
	deviceType string
	area       string
	reply      chan []Snapshot
}

type historyMsg struct {
	entityID string
	reply    chan historyReply
}

type historyReply struct {
	entries []HistoryEntry
	ok      bool
}

func (applyMsg) isMessage()    {}
func (snapshotMsg) isMessage() {}
func (listMsg) isMessage()     {}
func (historyMsg) isMessage()  {}

// New creates a Store over the device mapping. Entities exist for every
// binding from the start; they begin available and become unavailable when
// their staleness window expires without traffic.
func New(m *mapping.Mapping, enc *encode.Encoder, sub Submitter, b *broadcast.Broadcaster) *Store {
	return &Store{
		mapping:       m,
		encoder:       enc,
		submitter:     sub,
		broadcaster:   b,
		inbox:         make(chan message, inboxDepth),
		stalenessTick: DefaultStalenessTick,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start launches the writer task.
func (s *Store) Start(ctx context.Context) {
	go s.run(ctx)
}

// Done is closed when the writer task has exited.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// ApplyDecoded merges a decoded frame into its entity. Blocks until the
// writer task has applied the update and emitted any delta, so callers can
// order their own fan-out after the store's.
func (s *Store) ApplyDecoded(ctx context.Context, dec decode.Decoded, ts time.Time) {
	msg := applyMsg{binding: dec.Binding, signals: dec.Signals, timestamp: ts, done: make(chan struct{})}
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
		return
	}
	select {
	case <-msg.done:
	case <-ctx.Done():
	}
}

// Get returns one entity snapshot.
func (s *Store) Get(ctx context.Context, entityID string) (Snapshot, error) {
	msg := snapshotMsg{entityID: entityID, reply: make(chan snapshotReply, 1)}
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		if !r.ok {
			return Snapshot{}, util.ErrUnknownEntity
		}
		return r.snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// List returns entity snapshots, optionally filtered by device type and
// area, ordered by entity id.
func (s *Store) List(ctx context.Context, deviceType, area string) ([]Snapshot, error) {
	msg := listMsg{deviceType: deviceType, area: area, reply: make(chan []Snapshot, 1)}
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snaps := <-msg.reply:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// History returns the entity's state history, oldest first.
func (s *Store) History(ctx context.Context, entityID string) ([]HistoryEntry, error) {
	msg := historyMsg{entityID: entityID, reply: make(chan historyReply, 1)}
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		if !r.ok {
			return nil, util.ErrUnknownEntity
		}
		return r.entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)

	entities := make(map[string]*entity, s.mapping.Len())
	for _, b := range s.mapping.Entities() {
		e := newEntity(b)
		e.available = true
		e.lastUpdated = s.now()
		entities[b.EntityID] = e
	}

	ticker := time.NewTicker(s.stalenessTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanStaleness(entities)
		case msg := <-s.inbox:
			s.handle(entities, msg)
		}
	}
}

func (s *Store) handle(entities map[string]*entity, msg message) {
	switch m := msg.(type) {
	case applyMsg:
		s.apply(entities, m)
		close(m.done)
	case snapshotMsg:
		if e, ok := entities[m.entityID]; ok {
			m.reply <- snapshotReply{snap: e.snapshot(), ok: true}
		} else {
			m.reply <- snapshotReply{}
		}
	case listMsg:
		m.reply <- listSnapshots(entities, m.deviceType, m.area)
	case historyMsg:
		if e, ok := entities[m.entityID]; ok {
			m.reply <- historyReply{entries: e.historySnapshot(), ok: true}
		} else {
			m.reply <- historyReply{}
		}
	}
}

func (s *Store) apply(entities map[string]*entity, m applyMsg) {
	e, ok := entities[m.binding.EntityID]
	if !ok {
		util.WithEntity(m.binding.EntityID).Warn("decoded frame for unregistered entity")
		return
	}

	// Monotonicity: once the entity has accepted any frame, anything older
	// than its last update is stale reordered traffic and is dropped. The
	// first frame is exempt because boot seeds lastUpdated with wall time.
	if e.seenTraffic && m.timestamp.Before(e.lastUpdated) {
		metrics.OutOfOrderDrops.Inc()
		return
	}

	changed := e.merge(m.signals)
	if !e.available {
		e.available = true
		changed = append(changed, "available")
		sort.Strings(changed)
	}
	e.seenTraffic = true
	e.lastUpdated = m.timestamp

	if len(changed) == 0 {
		return
	}
	e.record(m.timestamp)
	metrics.EntityUpdates.Inc()
	s.publishDelta(e, changed, m.timestamp)
}

func (s *Store) scanStaleness(entities map[string]*entity) {
	now := s.now()
	for _, e := range entities {
		if !e.available {
			continue
		}
		if now.Sub(e.lastUpdated) <= stalenessWindow(e.binding.DeviceType) {
			continue
		}
		e.available = false
		util.WithEntity(e.binding.EntityID).Debug("entity went stale")
		s.publishDelta(e, []string{"available"}, now)
	}
}

func (s *Store) publishDelta(e *entity, changed []string, ts time.Time) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(broadcast.EntityDelta{
		EntityID:      e.binding.EntityID,
		DeviceType:    e.binding.DeviceType,
		Area:          e.binding.Area,
		ChangedFields: changed,
		State:         copyState(e.state),
		Available:     e.available,
		Timestamp:     ts,
	})
}

func listSnapshots(entities map[string]*entity, deviceType, area string) []Snapshot {
	out := make([]Snapshot, 0, len(entities))
	for _, e := range entities {
		if deviceType != "" && e.binding.DeviceType != deviceType {
			continue
		}
		if area != "" && e.binding.Area != area {
			continue
		}
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
