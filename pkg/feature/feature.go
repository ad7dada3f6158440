// Package feature manages named daemon features with declared dependencies:
// topological startup, dependency-aware disabling, ordered shutdown, and
// on-demand health sampling.
package feature

import "context"

// Lifecycle states.
const (
	StateRegistered  = "registered"
	StateDisabled    = "disabled"
	StateDisabledDep = "disabled_due_to_dependency"
	StateInitialized = "initialized"
	StateStarted     = "started"
	StateStopped     = "stopped"
	StateUnclean     = "unclean" // stop exceeded its timeout
	StateFailed      = "failed"  // terminal within the process
)

// Health states.
const (
	HealthUnknown  = "unknown"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthFailed   = "failed"
)

// Dependency names another feature this one requires. A hard dependency
// propagates that feature's failed health to this one.
type Dependency struct {
	Name string
	Hard bool
}

// Dep builds a soft dependency.
func Dep(name string) Dependency {
	return Dependency{Name: name}
}

// HardDep builds a hard dependency.
func HardDep(name string) Dependency {
	return Dependency{Name: name, Hard: true}
}

// Health is one feature's self-reported condition.
type Health struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// Feature is a named unit of daemon functionality with its own lifecycle.
// Init acquires resources, Start begins work, Stop releases both. Health is
// sampled on demand and must be safe to call from any goroutine.
type Feature interface {
	Name() string
	Dependencies() []Dependency
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Health
}

// Status is a feature's externally visible condition. Detail names the
// dependency that forced a disabled_due_to_dependency state.
type Status struct {
	Name         string   `json:"name"`
	State        string   `json:"state"`
	Detail       string   `json:"detail,omitempty"`
	Enabled      bool     `json:"enabled"`
	Dependencies []string `json:"dependencies,omitempty"`
	Health       Health   `json:"health"`
}

func healthGaugeValue(state string) float64 {
	switch state {
	case HealthHealthy:
		return 1
	case HealthDegraded:
		return 2
	case HealthFailed:
		return 3
	default:
		return 0
	}
}
