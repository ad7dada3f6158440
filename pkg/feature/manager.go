package feature

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/metrics"
	"github.com/rvlink-network/rvlink/pkg/util"
)

// DefaultStopTimeout bounds each feature's Stop during shutdown.
const DefaultStopTimeout = 10 * time.Second

// record tracks one registered feature.
type record struct {
	feature Feature
	enabled bool
	state   string
	detail  string // why the feature is in this state, when not self-evident
}

// Manager owns the feature set. Register everything, then Start once;
// Statuses and SampleHealth are safe for concurrent use afterwards.
type Manager struct {
	mu          sync.Mutex
	records     map[string]*record
	order       []string // topological, enabled features only, set by Start
	started     []string // successfully started, in start order
	stopTimeout time.Duration
	broadcaster *broadcast.Broadcaster
}

// NewManager creates an empty feature manager. b may be nil; when present,
// feature state transitions are published as system events.
func NewManager(b *broadcast.Broadcaster) *Manager {
	return &Manager{
		records:     map[string]*record{},
		stopTimeout: DefaultStopTimeout,
		broadcaster: b,
	}
}

// Register adds a feature with its enable flag. Must precede Start.
func (m *Manager) Register(f Feature, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := f.Name()
	if _, dup := m.records[name]; dup {
		return fmt.Errorf("feature %q registered twice: %w", name, util.ErrValidationFailed)
	}
	state := StateRegistered
	if !enabled {
		state = StateDisabled
	}
	m.records[name] = &record{feature: f, enabled: enabled, state: state}
	return nil
}

// Start resolves the dependency graph and brings enabled features up:
// initialize in topological order, then start in the same order. A failure
// stops already-started features in reverse and returns the cause.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateDeps(); err != nil {
		return err
	}
	m.pruneDisabled()

	order, err := m.topoOrder()
	if err != nil {
		return err
	}
	m.order = order

	for _, name := range order {
		rec := m.records[name]
		if err := rec.feature.Init(ctx); err != nil {
			m.setState(rec, StateFailed)
			m.rollback(ctx)
			return fmt.Errorf("initializing feature %q: %w", name, err)
		}
		m.setState(rec, StateInitialized)
	}

	for _, name := range order {
		rec := m.records[name]
		if err := rec.feature.Start(ctx); err != nil {
			m.setState(rec, StateFailed)
			m.rollback(ctx)
			return fmt.Errorf("starting feature %q: %w", name, err)
		}
		m.setState(rec, StateStarted)
		m.started = append(m.started, name)
		util.WithFeature(name).Info("feature started")
	}
	return nil
}

// Stop brings started features down in reverse start order. A feature
// exceeding the stop timeout is recorded as unclean; shutdown continues.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.started) - 1; i >= 0; i-- {
		name := m.started[i]
		rec := m.records[name]
		if m.stopOne(ctx, rec) {
			m.setState(rec, StateStopped)
		} else {
			m.setState(rec, StateUnclean)
			util.WithFeature(name).Warn("feature did not stop within timeout")
		}
	}
	m.started = nil
}

// stopOne runs Stop under the per-feature timeout. Reports clean completion.
func (m *Manager) stopOne(ctx context.Context, rec *record) bool {
	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rec.feature.Stop(stopCtx) }()

	select {
	case err := <-done:
		if err != nil {
			util.WithFeature(rec.feature.Name()).Warnf("stop: %v", err)
		}
		return true
	case <-stopCtx.Done():
		return false
	}
}

// rollback stops already-started features in reverse after a startup failure.
func (m *Manager) rollback(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		rec := m.records[m.started[i]]
		m.stopOne(ctx, rec)
		m.setState(rec, StateStopped)
	}
	m.started = nil
}

// validateDeps rejects dependencies on unregistered features.
func (m *Manager) validateDeps() error {
	for name, rec := range m.records {
		for _, dep := range rec.feature.Dependencies() {
			if _, ok := m.records[dep.Name]; !ok {
				return fmt.Errorf("feature %q depends on unregistered %q: %w",
					name, dep.Name, util.ErrValidationFailed)
			}
		}
	}
	return nil
}

// pruneDisabled forcibly disables features whose dependencies are disabled,
// propagating until stable.
func (m *Manager) pruneDisabled() {
	for {
		changed := false
		for name, rec := range m.records {
			if !rec.enabled {
				continue
			}
			for _, dep := range rec.feature.Dependencies() {
				if m.records[dep.Name].enabled {
					continue
				}
				rec.enabled = false
				rec.detail = fmt.Sprintf("dependency %q is disabled", dep.Name)
				m.setState(rec, StateDisabledDep)
				util.WithFeature(name).Infof("disabled: dependency %q is disabled", dep.Name)
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

// topoOrder computes a Kahn ordering of the enabled features, rejecting
// cycles with an error naming the participants.
func (m *Manager) topoOrder() ([]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}

	for name, rec := range m.records {
		if !rec.enabled {
			continue
		}
		indegree[name] += 0
		for _, dep := range rec.feature.Dependencies() {
			indegree[name]++
			dependents[dep.Name] = append(dependents[dep.Name], name)
		}
	}

	// Deterministic order among independent features.
	ready := make([]string, 0, len(indegree))
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(indegree) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("dependency cycle among features [%s]: %w",
			strings.Join(cyclic, ", "), util.ErrValidationFailed)
	}
	return order, nil
}

// SampleHealth polls every enabled feature. A feature with a failed hard
// dependency reports failed regardless of its own answer.
func (m *Manager) SampleHealth() map[string]Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := map[string]Health{}
	for name, rec := range m.records {
		if !rec.enabled {
			continue
		}
		if rec.state == StateFailed {
			raw[name] = Health{State: HealthFailed, Detail: "feature failed"}
			continue
		}
		raw[name] = rec.feature.Health()
	}

	out := map[string]Health{}
	for name := range raw {
		out[name] = m.effectiveHealth(name, raw, map[string]bool{})
	}
	for name, h := range out {
		metrics.FeatureHealth.WithLabelValues(name).Set(healthGaugeValue(h.State))
	}
	return out
}

func (m *Manager) effectiveHealth(name string, raw map[string]Health, visiting map[string]bool) Health {
	if visiting[name] {
		return raw[name]
	}
	visiting[name] = true

	h := raw[name]
	for _, dep := range m.records[name].feature.Dependencies() {
		if !dep.Hard {
			continue
		}
		if dh, ok := raw[dep.Name]; ok {
			if m.effectiveHealth(dep.Name, raw, visiting).State == HealthFailed || dh.State == HealthFailed {
				return Health{State: HealthFailed, Detail: fmt.Sprintf("hard dependency %q failed", dep.Name)}
			}
		}
	}
	return h
}

// Statuses returns every registered feature's status, ordered by name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.records))
	for name, rec := range m.records {
		deps := rec.feature.Dependencies()
		depNames := make([]string, 0, len(deps))
		for _, d := range deps {
			depNames = append(depNames, d.Name)
		}
		st := Status{
			Name:         name,
			State:        rec.state,
			Detail:       rec.detail,
			Enabled:      rec.enabled,
			Dependencies: depNames,
			Health:       Health{State: HealthUnknown},
		}
		if rec.enabled && rec.state == StateStarted {
			st.Health = rec.feature.Health()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Order returns the startup order computed by Start.
func (m *Manager) Order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) setState(rec *record, state string) {
	rec.state = state
	if m.broadcaster != nil {
		m.broadcaster.Publish(broadcast.SystemEvent{
			Name: broadcast.SystemFeatureState,
			Detail: map[string]interface{}{
				"feature": rec.feature.Name(),
				"state":   state,
			},
			Timestamp: time.Now(),
		})
	}
}
