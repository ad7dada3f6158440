package canbus

import (
	"context"
	"fmt"
	"sort"

	"github.com/rvlink-network/rvlink/pkg/config"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// Manager owns one Interface worker per configured CAN interface and routes
// outbound batches by logical or physical interface name.
type Manager struct {
	cfg        config.CANConfig
	interfaces map[string]*Interface
	logical    map[string]string // logical name → physical interface
}

// NewManager creates the transport manager. sink receives every inbound
// frame; notify (optional) is called on interface up/down transitions.
func NewManager(cfg config.CANConfig, opener BusOpener, sink Sink, notify func(iface string, up bool)) *Manager {
	if opener == nil {
		opener = OpenSocketCAN
	}
	m := &Manager{
		cfg:        cfg,
		interfaces: make(map[string]*Interface, len(cfg.Interfaces)),
		logical:    cfg.InterfaceMappings,
	}
	for _, name := range cfg.Interfaces {
		m.interfaces[name] = newInterface(name, opener, sink, notify, cfg.ReceiveOwnMessages)
	}
	return m
}

// Start launches all interface workers.
func (m *Manager) Start(ctx context.Context) {
	for _, iface := range m.interfaces {
		iface.start(ctx)
	}
}

// Stop stops all interface workers and waits for them to release their buses.
func (m *Manager) Stop() {
	for _, iface := range m.interfaces {
		iface.stop()
	}
}

// Resolve maps a logical or physical interface name to its Interface.
func (m *Manager) Resolve(name string) (*Interface, error) {
	if name == "" {
		// Single-interface coaches may omit the binding attribute.
		if len(m.cfg.Interfaces) == 1 {
			name = m.cfg.Interfaces[0]
		} else {
			return nil, fmt.Errorf("interface name required with %d interfaces configured", len(m.cfg.Interfaces))
		}
	}
	if physical, ok := m.logical[name]; ok {
		name = physical
	}
	iface, ok := m.interfaces[name]
	if !ok {
		return nil, fmt.Errorf("unknown interface '%s': %w", name, util.ErrInterfaceDown)
	}
	return iface, nil
}

// Submit queues a batch of frames for transmission on the named interface
// and waits for the egress worker's result. The batch is written
// back-to-back; if the interface is down the call fails immediately with
// ErrInterfaceDown rather than queueing.
func (m *Manager) Submit(ctx context.Context, name string, frames []Frame) error {
	iface, err := m.Resolve(name)
	if err != nil {
		return err
	}
	if !iface.Up() {
		return fmt.Errorf("interface '%s': %w", iface.name, util.ErrInterfaceDown)
	}

	req := txRequest{frames: frames, result: make(chan error, 1)}
	select {
	case iface.outbound <- req:
	case <-ctx.Done():
		return fmt.Errorf("queueing on '%s': %w", iface.name, util.ErrTxTimeout)
	}

	select {
	case err := <-req.result:
		if err != nil {
			return fmt.Errorf("transmit on '%s': %v: %w", iface.name, err, util.ErrTxFailed)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("awaiting transmit on '%s': %w", iface.name, util.ErrTxTimeout)
	}
}

// Statistics returns counter snapshots for every interface, ordered by name.
func (m *Manager) Statistics() []StatsSnapshot {
	out := make([]StatsSnapshot, 0, len(m.interfaces))
	for _, iface := range m.interfaces {
		out = append(out, iface.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}

// Inventory returns the interface descriptions for the REST inventory.
func (m *Manager) Inventory() []InterfaceInfo {
	logicalFor := make(map[string][]string)
	for logical, physical := range m.logical {
		logicalFor[physical] = append(logicalFor[physical], logical)
	}
	for _, names := range logicalFor {
		sort.Strings(names)
	}

	out := make([]InterfaceInfo, 0, len(m.interfaces))
	for name, iface := range m.interfaces {
		out = append(out, InterfaceInfo{
			Name:    name,
			Logical: logicalFor[name],
			Up:      iface.Up(),
			Bitrate: m.cfg.Bitrate,
			Bustype: m.cfg.Bustype,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Recent returns the diagnostic frame ring for one interface.
func (m *Manager) Recent(name string) ([]Frame, error) {
	iface, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	return iface.Recent(), nil
}
