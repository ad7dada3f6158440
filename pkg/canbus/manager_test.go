package canbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"github.com/rvlink-network/rvlink/pkg/config"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// fakeBus is an in-memory Bus for tests. Frames written via Inject are
// returned from Receive; transmitted frames are captured in Sent.
type fakeBus struct {
	mu     sync.Mutex
	rx     chan can.Frame
	Sent   []can.Frame
	txErr  error
	closed bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{rx: make(chan can.Frame, 16)}
}

func (b *fakeBus) Inject(f can.Frame) { b.rx <- f }

func (b *fakeBus) Receive(ctx context.Context) (can.Frame, error) {
	select {
	case f := <-b.rx:
		return f, nil
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

func (b *fakeBus) Transmit(ctx context.Context, f can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txErr != nil {
		return b.txErr
	}
	b.Sent = append(b.Sent, f)
	return nil
}

func (b *fakeBus) SentFrames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame(nil), b.Sent...)
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func testManager(t *testing.T, cfg config.CANConfig, sink Sink) (*Manager, map[string]*fakeBus) {
	t.Helper()
	buses := map[string]*fakeBus{}
	var mu sync.Mutex
	opener := func(ctx context.Context, iface string) (Bus, error) {
		mu.Lock()
		defer mu.Unlock()
		b := newFakeBus()
		buses[iface] = b
		return b, nil
	}
	if sink == nil {
		sink = func(Frame) {}
	}
	m := NewManager(cfg, opener, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { cancel(); m.Stop() })
	m.Start(ctx)

	// Wait for workers to dial.
	require.Eventually(t, func() bool {
		for _, name := range cfg.Interfaces {
			iface, err := m.Resolve(name)
			if err != nil || !iface.Up() {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	return m, buses
}

func TestManagerReceiveStampsAndForwards(t *testing.T) {
	received := make(chan Frame, 1)
	cfg := config.CANConfig{Interfaces: []string{"vcan0"}}
	_, buses := testManager(t, cfg, func(f Frame) { received <- f })

	buses["vcan0"].Inject(can.Frame{
		ID:         0x19FEDA80,
		Length:     8,
		Data:       can.Data{0x04, 0x00, 0xC8, 0, 0, 0, 0, 0},
		IsExtended: true,
	})

	select {
	case f := <-received:
		require.Equal(t, uint32(0x19FEDA80), f.ID)
		require.Equal(t, "vcan0", f.Interface)
		require.Equal(t, []byte{0x04, 0x00, 0xC8, 0, 0, 0, 0, 0}, f.Data)
		require.False(t, f.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("frame not forwarded to sink")
	}
}

func TestManagerSubmitRoutesByLogicalName(t *testing.T) {
	cfg := config.CANConfig{
		Interfaces:        []string{"can0", "can1"},
		InterfaceMappings: map[string]string{"house": "can0", "chassis": "can1"},
	}
	m, buses := testManager(t, cfg, nil)

	ctx := context.Background()
	frame := Frame{ID: BuildID(6, 0x1FEDB, 0x80), Data: []byte{0x04, 0xFF, 0xB4}}
	require.NoError(t, m.Submit(ctx, "chassis", []Frame{frame}))

	require.Eventually(t, func() bool {
		return len(buses["can1"].SentFrames()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, buses["can0"].SentFrames(), "frame must appear on can1 only")

	sent := buses["can1"].SentFrames()[0]
	require.True(t, sent.IsExtended)
	require.Equal(t, uint8(3), sent.Length)
}

func TestManagerReceiveOwnMessages(t *testing.T) {
	received := make(chan Frame, 1)
	cfg := config.CANConfig{Interfaces: []string{"can0"}, ReceiveOwnMessages: true}
	m, _ := testManager(t, cfg, func(f Frame) { received <- f })

	frame := Frame{ID: BuildID(6, 0x1FEDB, 0x80), Data: []byte{0x04, 0xFF, 0xB4}}
	require.NoError(t, m.Submit(context.Background(), "can0", []Frame{frame}))

	select {
	case f := <-received:
		require.Equal(t, frame.ID, f.ID)
		require.Equal(t, frame.Data, f.Data)
		require.Equal(t, "can0", f.Interface)
		require.False(t, f.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("transmitted frame not echoed to sink")
	}

	recent, err := m.Recent("can0")
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestManagerNoEchoByDefault(t *testing.T) {
	received := make(chan Frame, 1)
	cfg := config.CANConfig{Interfaces: []string{"can0"}}
	m, _ := testManager(t, cfg, func(f Frame) { received <- f })

	frame := Frame{ID: BuildID(6, 0x1FEDB, 0x80), Data: []byte{0x04, 0xFF, 0xB4}}
	require.NoError(t, m.Submit(context.Background(), "can0", []Frame{frame}))

	select {
	case f := <-received:
		t.Fatalf("unexpected echo %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerSubmitFailures(t *testing.T) {
	cfg := config.CANConfig{Interfaces: []string{"can0"}}
	m, buses := testManager(t, cfg, nil)
	ctx := context.Background()

	t.Run("unknown-interface", func(t *testing.T) {
		err := m.Submit(ctx, "can9", []Frame{{}})
		require.ErrorIs(t, err, util.ErrInterfaceDown)
	})

	t.Run("tx-error", func(t *testing.T) {
		buses["can0"].mu.Lock()
		buses["can0"].txErr = errors.New("bus off")
		buses["can0"].mu.Unlock()

		err := m.Submit(ctx, "can0", []Frame{{ID: 1, Data: []byte{0}}})
		require.ErrorIs(t, err, util.ErrTxFailed)
	})
}

func TestManagerStatisticsAndInventory(t *testing.T) {
	cfg := config.CANConfig{
		Interfaces:        []string{"can0", "can1"},
		InterfaceMappings: map[string]string{"house": "can0"},
		Bitrate:           250000,
		Bustype:           "socketcan",
	}
	seen := make(chan Frame, 4)
	m, buses := testManager(t, cfg, func(f Frame) { seen <- f })

	buses["can0"].Inject(can.Frame{ID: 0x19FEDA80, Length: 8})
	<-seen

	require.Eventually(t, func() bool {
		stats := m.Statistics()
		return stats[0].RxFrames == 1
	}, time.Second, 5*time.Millisecond)

	stats := m.Statistics()
	require.Len(t, stats, 2)
	require.Equal(t, "can0", stats[0].Interface)
	require.Contains(t, stats[0].PGNs, uint32(0x1FEDA))
	require.Equal(t, uint64(0), stats[1].RxFrames)

	inv := m.Inventory()
	require.Len(t, inv, 2)
	require.Equal(t, []string{"house"}, inv[0].Logical)
	require.Equal(t, 250000, inv[0].Bitrate)

	recent, err := m.Recent("house")
	require.NoError(t, err)
	require.Len(t, recent, 1)
}
