package canbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"

	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// DefaultOutboundDepth is the egress queue depth per interface.
const DefaultOutboundDepth = 1024

// reconnectDelay is the pause before redialing a failed bus.
const reconnectDelay = time.Second

// Sink receives stamped inbound frames. Implementations must not block: the
// dispatcher's sink applies its own drop-oldest policy.
type Sink func(Frame)

// txRequest carries a batch of frames and the submitter's result channel.
// All frames of a batch target the same interface and are written
// back-to-back so the batch is atomic from the submitter's point of view.
type txRequest struct {
	frames []Frame
	result chan error
}

// Interface is one physical CAN interface worker pair: an ingress loop
// reading frames and an egress loop draining the outbound queue.
type Interface struct {
	name     string
	opener   BusOpener
	sink     Sink
	notify   func(iface string, up bool)
	echoTx   bool
	stats    *Stats
	ring     *FrameRing
	outbound chan txRequest
	up       atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// InterfaceInfo describes one interface for the inventory endpoint.
type InterfaceInfo struct {
	Name    string   `json:"name"`
	Logical []string `json:"logical_names,omitempty"`
	Up      bool     `json:"up"`
	Bitrate int      `json:"bitrate"`
	Bustype string   `json:"bustype"`
}

func newInterface(name string, opener BusOpener, sink Sink, notify func(string, bool), echoTx bool) *Interface {
	return &Interface{
		name:     name,
		opener:   opener,
		sink:     sink,
		notify:   notify,
		echoTx:   echoTx,
		stats:    newStats(),
		ring:     NewFrameRing(DefaultRingDepth),
		outbound: make(chan txRequest, DefaultOutboundDepth),
	}
}

// start launches the worker. It keeps redialing until ctx is cancelled.
func (i *Interface) start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.run(ctx)
	}()
}

// stop cancels the worker and waits for it to release the bus.
func (i *Interface) stop() {
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
}

func (i *Interface) run(ctx context.Context) {
	log := util.WithInterface(i.name)
	for {
		bus, err := i.opener(ctx, i.name)
		if err != nil {
			log.WithError(err).Warn("cannot open CAN interface")
			i.stats.recordBusError()
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
				i.stats.recordRestart()
				continue
			}
		}

		i.setUp(true)
		log.Info("CAN interface up")
		i.serve(ctx, bus)
		i.setUp(false)
		_ = bus.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
			i.stats.recordRestart()
			log.Info("restarting CAN interface")
		}
	}
}

// serve runs the rx and tx loops over one bus session. Returns when the bus
// fails or ctx is cancelled.
func (i *Interface) serve(ctx context.Context, bus Bus) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		i.rxLoop(sessionCtx, bus)
	}()

	i.txLoop(sessionCtx, bus)
	cancel()
	<-done
}

func (i *Interface) rxLoop(ctx context.Context, bus Bus) {
	for {
		cf, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				util.WithInterface(i.name).WithError(err).Warn("CAN receive failed")
				i.stats.recordRxError()
				i.stats.recordBusError()
			}
			return
		}

		frame := Frame{
			ID:        cf.ID,
			Data:      append([]byte(nil), cf.Data[:cf.Length]...),
			Interface: i.name,
			Timestamp: time.Now(),
		}
		i.stats.recordRx(frame)
		i.ring.Push(frame)
		metrics.FramesReceived.WithLabelValues(i.name).Inc()
		i.sink(frame)
	}
}

func (i *Interface) txLoop(ctx context.Context, bus Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-i.outbound:
			req.result <- i.transmitBatch(ctx, bus, req.frames)
		}
	}
}

func (i *Interface) transmitBatch(ctx context.Context, bus Bus, frames []Frame) error {
	for _, f := range frames {
		cf := can.Frame{
			ID:         f.ID,
			Length:     uint8(len(f.Data)),
			IsExtended: true,
		}
		copy(cf.Data[:], f.Data)

		if err := bus.Transmit(ctx, cf); err != nil {
			i.stats.recordTxError()
			return err
		}
		i.stats.recordTx(f)
		metrics.FramesSent.WithLabelValues(i.name).Inc()
		if i.echoTx {
			i.loopback(f)
		}
	}
	return nil
}

// loopback re-injects a transmitted frame into the rx path. The SocketCAN
// dialer does not expose CAN_RAW_RECV_OWN_MSGS, so receive_own_messages is
// honored above the socket: the echo goes through the same stats, ring, and
// sink as a received frame.
func (i *Interface) loopback(f Frame) {
	echo := Frame{
		ID:        f.ID,
		Data:      append([]byte(nil), f.Data...),
		Interface: i.name,
		Timestamp: time.Now(),
	}
	i.stats.recordRx(echo)
	i.ring.Push(echo)
	metrics.FramesReceived.WithLabelValues(i.name).Inc()
	i.sink(echo)
}

func (i *Interface) setUp(up bool) {
	was := i.up.Swap(up)
	if was != up && i.notify != nil {
		i.notify(i.name, up)
	}
}

// Up reports whether the interface currently has an open bus.
func (i *Interface) Up() bool {
	return i.up.Load()
}

// Stats returns a snapshot of the interface counters.
func (i *Interface) Stats() StatsSnapshot {
	s := i.stats.snapshot()
	s.Interface = i.name
	s.Up = i.Up()
	s.RingDepth = i.ring.Len()
	return s
}

// Recent returns the diagnostic ring contents, oldest first.
func (i *Interface) Recent() []Frame {
	return i.ring.Snapshot()
}
