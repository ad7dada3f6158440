package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

const (
	// DefaultQueueDepth is the per-subscription event queue depth.
	DefaultQueueDepth = 256
	// DefaultDropThreshold is the dropped-event count at which a
	// subscription is declared overflowed and closed.
	DefaultDropThreshold = 1024
	// inboxDepth bounds the broadcaster's own ingress queue.
	inboxDepth = 1024
)

// Subscription is one subscriber's bounded event stream. Read from Events
// until it closes; a close without Cancel means the subscription overflowed.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan Event

	dropped    atomic.Uint64
	overflowed atomic.Bool
	closeOnce  sync.Once

	b *Broadcaster
}

// Events returns the subscription's delivery channel. Closed when the
// subscription is cancelled or overflows.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns the number of events dropped due to a full queue.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Overflowed reports whether the broadcaster closed the subscription for
// falling too far behind.
func (s *Subscription) Overflowed() bool {
	return s.overflowed.Load()
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.b.remove(s)
}

// Broadcaster owns the subscription set and the single delivery task.
type Broadcaster struct {
	queueDepth    int
	dropThreshold uint64

	inbox chan Event

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	done chan struct{}
}

// New creates a Broadcaster with the default queue sizing.
func New() *Broadcaster {
	return &Broadcaster{
		queueDepth:    DefaultQueueDepth,
		dropThreshold: DefaultDropThreshold,
		inbox:         make(chan Event, inboxDepth),
		subs:          make(map[uint64]*Subscription),
		done:          make(chan struct{}),
	}
}

// Start launches the delivery task. Delivery stops when ctx is cancelled;
// all remaining subscriptions are then closed.
func (b *Broadcaster) Start(ctx context.Context) {
	go b.run(ctx)
}

// Done is closed once the delivery task has exited.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Subscribe registers a new subscription.
func (b *Broadcaster) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Event, b.queueDepth),
		b:      b,
	}
	b.subs[s.id] = s
	return s
}

// Publish enqueues an event for delivery. Never blocks: when the ingress
// queue is full the oldest pending event is discarded.
func (b *Broadcaster) Publish(ev Event) {
	for {
		select {
		case b.inbox <- ev:
			return
		default:
		}
		select {
		case <-b.inbox:
			util.Debugf("broadcast ingress full, dropping oldest event")
		default:
		}
	}
}

// HasRawSubscribers reports whether any live subscription can receive raw
// frames. The dispatcher uses this to skip building raw events entirely.
func (b *Broadcaster) HasRawSubscribers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.filter.WantsRaw() {
			return true
		}
	}
	return false
}

// Subscribers returns the current subscription count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)
	defer b.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.inbox:
			b.deliver(ev)
		}
	}
}

func (b *Broadcaster) deliver(ev Event) {
	b.mu.Lock()
	var overflowed []*Subscription
	for _, s := range b.subs {
		if !s.filter.Match(ev) {
			continue
		}
		if !s.offer(ev) && s.dropped.Load() > b.dropThreshold {
			overflowed = append(overflowed, s)
		}
	}
	for _, s := range overflowed {
		s.overflowed.Store(true)
		delete(b.subs, s.id)
	}
	b.mu.Unlock()

	// Close outside the map mutation loop; receivers see the channel drain
	// then close.
	for _, s := range overflowed {
		metrics.SubscriptionOverflows.Inc()
		util.Warnf("subscription %d overflowed after %d drops, closing", s.id, s.dropped.Load())
		s.closeOnce.Do(func() { close(s.ch) })
	}
}

// offer enqueues without blocking, dropping the subscription's oldest event
// when the queue is full. Returns false when a drop occurred.
func (s *Subscription) offer(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)
	metrics.SubscriptionDrops.Inc()

	select {
	case s.ch <- ev:
	default:
	}
	return false
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	_, live := b.subs[s.id]
	delete(b.subs, s.id)
	b.mu.Unlock()
	if live {
		s.closeOnce.Do(func() { close(s.ch) })
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[uint64]*Subscription{}
	b.mu.Unlock()

	for _, s := range subs {
		s.closeOnce.Do(func() { close(s.ch) })
	}
}
