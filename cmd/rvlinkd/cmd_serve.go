package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rvlink-network/rvlink/pkg/audit"
	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/config"
	"github.com/rvlink-network/rvlink/pkg/decode"
	"github.com/rvlink-network/rvlink/pkg/diag"
	"github.com/rvlink-network/rvlink/pkg/dispatch"
	"github.com/rvlink-network/rvlink/pkg/encode"
	"github.com/rvlink-network/rvlink/pkg/feature"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/mirror"
	"github.com/rvlink-network/rvlink/pkg/server"
	"github.com/rvlink-network/rvlink/pkg/spec"
	"github.com/rvlink-network/rvlink/pkg/store"
	"github.com/rvlink-network/rvlink/pkg/util"
	"github.com/rvlink-network/rvlink/pkg/version"
)

// shutdownGrace bounds the whole ordered shutdown.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg)
	configureAudit(cfg)

	util.Infof("rvlink %s starting (spec dir %s)", version.Version, cfg.SpecDir)

	catalog, m, err := loadSpecs(cfg)
	if err != nil {
		return err
	}
	util.Infof("catalog: %d PGNs, mapping: %d entities", catalog.Len(), m.Len())

	daemonCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := broadcast.New()
	dtcs := diag.NewTable(bus)

	// The transport's sink forwards to the dispatcher, which is built after
	// the transport because the store needs the transport as its submitter.
	var dispatcher *dispatch.Dispatcher
	sink := func(f canbus.Frame) { dispatcher.Sink(f) }
	notify := func(iface string, up bool) {
		name := broadcast.SystemInterfaceUp
		if !up {
			name = broadcast.SystemInterfaceDown
		}
		bus.Publish(broadcast.SystemEvent{
			Name:      name,
			Detail:    map[string]interface{}{"interface": iface},
			Timestamp: time.Now(),
		})
	}
	transport := canbus.NewManager(cfg.CAN, nil, sink, notify)

	entities := store.New(m, encode.New(catalog), transport, bus)
	dispatcher = dispatch.New([]decode.Protocol{
		decode.New(catalog, m),
		decode.NewJ1939(),
		decode.NewFirefly(),
		decode.NewSpartan(),
	}, entities, bus, dtcs)

	features := feature.NewManager(bus)
	api := server.New(cfg.Server, entities, dispatcher, transport, features, dtcs, bus)

	if err := registerFeatures(features, cfg, daemonCtx, bus, transport, entities, dispatcher, api); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(daemonCtx, 30*time.Second)
	err = features.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	util.Infof("all features started: %v", features.Order())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	util.Infof("received %s, shutting down", sig)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownGrace)
	features.Stop(stopCtx)
	cancelStop()
	cancel()
	return nil
}

func configureLogging(cfg *config.Config) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if level != "" {
		if err := util.SetLogLevel(level); err != nil {
			util.Warnf("logging level: %v", err)
		}
	}
	if cfg.Logging.LogFile != "" {
		f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			util.Warnf("cannot open log file %s: %v", cfg.Logging.LogFile, err)
		} else {
			util.SetLogOutput(f)
			util.SetJSONFormat()
		}
	}
}

func configureAudit(cfg *config.Config) {
	logger, err := audit.NewFileLogger(filepath.Join(cfg.SpecDir, "audit.log"), audit.RotationConfig{
		MaxSize:    10 * 1024 * 1024,
		MaxBackups: 10,
	})
	if err != nil {
		util.Warnf("could not initialize audit logging: %v", err)
		return
	}
	audit.SetDefaultLogger(logger)
}

func loadSpecs(cfg *config.Config) (*spec.Catalog, *mapping.Mapping, error) {
	specs := spec.NewLoader(cfg.SpecDir)
	if err := specs.Load(); err != nil {
		return nil, nil, fmt.Errorf("loading catalog: %w", err)
	}
	maps := mapping.NewLoader(cfg.SpecDir)
	if err := maps.Load(specs.Catalog()); err != nil {
		return nil, nil, fmt.Errorf("loading mapping: %w", err)
	}
	return specs.Catalog(), maps.Mapping(), nil
}

// registerFeatures wires the daemon components into the feature manager.
// daemonCtx outlives Start's timeout and is what long-running component
// goroutines are bound to.
func registerFeatures(features *feature.Manager, cfg *config.Config, daemonCtx context.Context,
	bus *broadcast.Broadcaster, transport *canbus.Manager, entities *store.Store,
	dispatcher *dispatch.Dispatcher, api *server.Server) error {

	enabled := func(name string, byDefault bool) bool {
		if v, ok := cfg.Features.Enable[name]; ok {
			return v
		}
		return byDefault
	}

	register := func(f feature.Feature, byDefault bool) error {
		return features.Register(f, enabled(f.Name(), byDefault))
	}

	// Each pipeline component gets its own cancel so reverse-order shutdown
	// can stop it individually and wait for its task to drain.
	busCtx, stopBus := context.WithCancel(daemonCtx)
	storeCtx, stopStore := context.WithCancel(daemonCtx)
	dispatchCtx, stopDispatch := context.WithCancel(daemonCtx)

	specs := []struct {
		feature   feature.Feature
		byDefault bool
	}{
		{&component{
			name: "broadcast",
			start: func(ctx context.Context) error {
				bus.Start(busCtx)
				return nil
			},
			stop: func(ctx context.Context) error {
				stopBus()
				select {
				case <-bus.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}, true},
		{&component{
			name: "store",
			deps: []feature.Dependency{feature.Dep("broadcast")},
			start: func(ctx context.Context) error {
				entities.Start(storeCtx)
				return nil
			},
			stop: func(ctx context.Context) error {
				stopStore()
				select {
				case <-entities.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}, true},
		{&component{
			name: "dispatch",
			deps: []feature.Dependency{feature.HardDep("store")},
			start: func(ctx context.Context) error {
				dispatcher.Start(dispatchCtx)
				return nil
			},
			stop: func(ctx context.Context) error {
				stopDispatch()
				select {
				case <-dispatcher.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}, true},
		{&component{
			name: "transport",
			deps: []feature.Dependency{feature.HardDep("dispatch")},
			start: func(ctx context.Context) error {
				transport.Start(daemonCtx)
				return nil
			},
			stop: func(ctx context.Context) error {
				transport.Stop()
				return nil
			},
		}, true},
		{&component{
			name:  "rest",
			deps:  []feature.Dependency{feature.Dep("store"), feature.Dep("broadcast")},
			start: api.Start,
			stop:  api.Stop,
		}, true},
		{mirror.New(cfg.Mirror, bus, feature.Dep("store")), false},
	}

	for _, s := range specs {
		if err := register(s.feature, s.byDefault); err != nil {
			return err
		}
	}
	return nil
}
