// Package mirror replicates entity state into Redis so sidecar consumers
// (dashboards, scripting) can read coach state without speaking to the
// daemon. Disabled by default; enabled via the mirror feature flag.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/config"
	"github.com/rvlink-network/rvlink/pkg/feature"
	"github.com/rvlink-network/rvlink/pkg/util"
)

const (
	// entityKeyPrefix prefixes the per-entity hash keys.
	entityKeyPrefix = "rvlink:entity:"
	// entitySetKey is the set of known entity ids.
	entitySetKey = "rvlink:entities"
)

// Mirror is the Redis replication feature.
type Mirror struct {
	cfg  config.MirrorConfig
	bus  *broadcast.Broadcaster
	deps []feature.Dependency

	client *redis.Client
	sub    *broadcast.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lastErr error
}

// New creates the mirror feature. deps name the features the mirror needs
// started first (typically the entity store).
func New(cfg config.MirrorConfig, bus *broadcast.Broadcaster, deps ...feature.Dependency) *Mirror {
	return &Mirror{cfg: cfg, bus: bus, deps: deps}
}

func (m *Mirror) Name() string {
	return "mirror"
}

func (m *Mirror) Dependencies() []feature.Dependency {
	return m.deps
}

// Init connects to Redis and verifies the connection.
func (m *Mirror) Init(ctx context.Context) error {
	m.client = redis.NewClient(&redis.Options{
		Addr:     m.cfg.Addr,
		Password: m.cfg.Password,
		DB:       m.cfg.DB,
	})
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", m.cfg.Addr, err)
	}
	return nil
}

// Start subscribes to entity deltas and launches the replication pump.
func (m *Mirror) Start(ctx context.Context) error {
	m.sub = m.bus.Subscribe(broadcast.Filter{Kinds: []string{broadcast.KindEntityDelta}})

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx)
	return nil
}

// Stop tears the pump down and closes the client.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.sub != nil {
		m.sub.Cancel()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Health reports degraded after a write failure until the next success.
func (m *Mirror) Health() feature.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr != nil {
		return feature.Health{State: feature.HealthDegraded, Detail: m.lastErr.Error()}
	}
	return feature.Health{State: feature.HealthHealthy}
}

func (m *Mirror) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.sub.Events():
			if !ok {
				return
			}
			delta, isDelta := ev.(broadcast.EntityDelta)
			if !isDelta {
				continue
			}
			m.write(ctx, delta)
		}
	}
}

func (m *Mirror) write(ctx context.Context, delta broadcast.EntityDelta) {
	fields, err := entityFields(delta)
	if err != nil {
		m.setErr(err)
		return
	}

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, entityKeyPrefix+delta.EntityID, fields)
	pipe.SAdd(ctx, entitySetKey, delta.EntityID)
	if _, err := pipe.Exec(ctx); err != nil {
		m.setErr(err)
		util.WithEntity(delta.EntityID).Warnf("mirror write: %v", err)
		return
	}
	m.setErr(nil)
}

func (m *Mirror) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// entityFields flattens a delta into the Redis hash fields.
func entityFields(delta broadcast.EntityDelta) (map[string]interface{}, error) {
	state, err := json.Marshal(delta.State)
	if err != nil {
		return nil, fmt.Errorf("marshaling state for %s: %w", delta.EntityID, err)
	}
	return map[string]interface{}{
		"state":       string(state),
		"device_type": delta.DeviceType,
		"area":        delta.Area,
		"available":   fmt.Sprintf("%t", delta.Available),
		"updated_at":  delta.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}, nil
}
