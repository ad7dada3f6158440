package canbus

import (
	"context"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// Bus abstracts one physical CAN socket. The production implementation is
// SocketCAN; tests use an in-memory bus.
type Bus interface {
	// Receive blocks until a frame arrives or the bus fails.
	Receive(ctx context.Context) (can.Frame, error)
	// Transmit writes one frame to the bus.
	Transmit(ctx context.Context, frame can.Frame) error
	Close() error
}

// BusOpener dials a Bus for a named interface. Swappable for tests.
type BusOpener func(ctx context.Context, iface string) (Bus, error)

// socketCANBus is the SocketCAN-backed Bus. Bitrate is a property of the
// link (set via `ip link`), not of the socket; the daemon records the
// configured bitrate in the interface inventory but does not program it.
type socketCANBus struct {
	conn net.Conn
	rx   *socketcan.Receiver
	tx   *socketcan.Transmitter
}

// OpenSocketCAN dials a SocketCAN interface by name.
func OpenSocketCAN(ctx context.Context, iface string) (Bus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", iface, err)
	}
	return &socketCANBus{
		conn: conn,
		rx:   socketcan.NewReceiver(conn),
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (b *socketCANBus) Receive(ctx context.Context) (can.Frame, error) {
	if !b.rx.Receive() {
		err := b.rx.Err()
		if err == nil {
			err = fmt.Errorf("receiver closed")
		}
		return can.Frame{}, err
	}
	return b.rx.Frame(), nil
}

func (b *socketCANBus) Transmit(ctx context.Context, frame can.Frame) error {
	return b.tx.TransmitFrame(ctx, frame)
}

func (b *socketCANBus) Close() error {
	return b.conn.Close()
}
