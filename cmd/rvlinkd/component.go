package main

import (
	"context"

	"github.com/rvlink-network/rvlink/pkg/feature"
)

// component adapts a daemon building block to the feature lifecycle with
// closures. Components that need degraded-health reporting (the mirror)
// implement feature.Feature directly instead.
type component struct {
	name   string
	deps   []feature.Dependency
	init   func(ctx context.Context) error
	start  func(ctx context.Context) error
	stop   func(ctx context.Context) error
	health func() feature.Health
}

func (c *component) Name() string { return c.name }

func (c *component) Dependencies() []feature.Dependency { return c.deps }

func (c *component) Init(ctx context.Context) error {
	if c.init == nil {
		return nil
	}
	return c.init(ctx)
}

func (c *component) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *component) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}

func (c *component) Health() feature.Health {
	if c.health == nil {
		return feature.Health{State: feature.HealthHealthy}
	}
	return c.health()
}
