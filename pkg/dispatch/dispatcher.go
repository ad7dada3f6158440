// Package dispatch owns the central frame ingress: every received frame
// passes through one dispatcher task that decodes it, routes the result, and
// fans the raw frame out to subscribers after the entity store has produced
// its delta.
package dispatch

import (
	"context"
	"time"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/decode"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// DefaultInboxDepth is the ingress queue depth shared by all interfaces.
const DefaultInboxDepth = 4096

// EntityApplier receives decoded frames; implemented by store.Store.
type EntityApplier interface {
	ApplyDecoded(ctx context.Context, dec decode.Decoded, ts time.Time)
}

// DiagnosticSink receives DTCs from the sibling protocol decoders;
// implemented by diag.Table.
type DiagnosticSink interface {
	Report(protocol string, sourceAddress uint8, dtcs []decode.DTC)
}

// Dispatcher routes frames from the transports to the rest of the pipeline.
// Transports feed it through Sink, which never blocks: when the inbox is
// full the oldest frame is dropped and counted.
type Dispatcher struct {
	protocols   []decode.Protocol
	entities    EntityApplier
	broadcaster *broadcast.Broadcaster
	diagnostics DiagnosticSink

	// Observed-but-unhandled traffic.
	Unmapped *mapping.ObservedTable
	Unknown  *mapping.ObservedTable

	inbox chan canbus.Frame
	done  chan struct{}
}

// New creates a Dispatcher. protocols are consulted in order; the first one
// claiming a frame decodes it.
func New(protocols []decode.Protocol, entities EntityApplier, b *broadcast.Broadcaster, diag DiagnosticSink) *Dispatcher {
	return &Dispatcher{
		protocols:   protocols,
		entities:    entities,
		broadcaster: b,
		diagnostics: diag,
		Unmapped:    mapping.NewObservedTable(mapping.DefaultObservedLimit),
		Unknown:     mapping.NewObservedTable(mapping.DefaultObservedLimit),
		inbox:       make(chan canbus.Frame, DefaultInboxDepth),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatcher task.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Done is closed when the dispatcher task has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Sink enqueues a received frame. Never blocks: a full inbox sheds its
// oldest frame first (CAN is best-effort; arrears must not buffer unbounded).
func (d *Dispatcher) Sink(f canbus.Frame) {
	for {
		select {
		case d.inbox <- f:
			return
		default:
		}
		select {
		case old := <-d.inbox:
			metrics.InputOverflow.WithLabelValues(old.Interface).Inc()
		default:
		}
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-d.inbox:
			d.dispatch(ctx, f)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, f canbus.Frame) {
	res := d.decodeFrame(f)

	switch r := res.(type) {
	case decode.Decoded:
		metrics.DecodeResults.WithLabelValues("decoded").Inc()
		d.entities.ApplyDecoded(ctx, r, f.Timestamp)
	case decode.Unmapped:
		metrics.DecodeResults.WithLabelValues("unmapped").Inc()
		d.Unmapped.Record(r.PGN, r.Instance, f.Data, f.Timestamp)
	case decode.Unknown:
		metrics.DecodeResults.WithLabelValues("unknown").Inc()
		d.Unknown.Record(r.PGN, -1, f.Data, f.Timestamp)
	case decode.Diagnostic:
		metrics.DecodeResults.WithLabelValues("diagnostic").Inc()
		if d.diagnostics != nil {
			d.diagnostics.Report(r.Protocol, f.SourceAddress(), r.DTCs)
		}
	case decode.Ignore:
		if r.Malformed {
			metrics.DecodeResults.WithLabelValues("malformed").Inc()
			util.WithInterface(f.Interface).Debugf("malformed frame id=0x%08X: %s", f.ID, r.Reason)
		} else {
			metrics.DecodeResults.WithLabelValues("ignored").Inc()
		}
	}

	// Raw fan-out runs after the store has applied the frame, so raw
	// subscribers never observe a frame ahead of its entity delta.
	if d.broadcaster != nil && d.broadcaster.HasRawSubscribers() {
		d.broadcaster.Publish(broadcast.RawFrame{
			Interface:     f.Interface,
			ArbitrationID: f.ID,
			Payload:       f.Data,
			Timestamp:     f.Timestamp,
		})
	}
}

// decodeFrame consults the protocols in priority order and falls back to an
// unknown-PGN result when nothing claims the frame.
func (d *Dispatcher) decodeFrame(f canbus.Frame) decode.Result {
	for _, p := range d.protocols {
		if p.Claims(f) {
			return p.Decode(f)
		}
	}
	return decode.Unknown{PGN: f.PGN(), Raw: f.Data}
}
