// Package server exposes the daemon's REST and WebSocket surfaces plus the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rvlink-network/rvlink/pkg/broadcast"
	"github.com/rvlink-network/rvlink/pkg/canbus"
	"github.com/rvlink-network/rvlink/pkg/config"
	"github.com/rvlink-network/rvlink/pkg/diag"
	"github.com/rvlink-network/rvlink/pkg/dispatch"
	"github.com/rvlink-network/rvlink/pkg/feature"
	"github.com/rvlink-network/rvlink/pkg/store"
	"github.com/rvlink-network/rvlink/pkg/util"
	"github.com/rvlink-network/rvlink/pkg/version"
)

// CANStatus is the read-only view of the CAN transports the REST surface
// needs. Implemented by canbus.Manager.
type CANStatus interface {
	Statistics() []canbus.StatsSnapshot
	Inventory() []canbus.InterfaceInfo
	Recent(name string) ([]canbus.Frame, error)
}

// Server serves the REST API, the WebSocket stream, and /metrics.
type Server struct {
	cfg        config.ServerConfig
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	can        CANStatus
	features   *feature.Manager
	diag       *diag.Table
	bus        *broadcast.Broadcaster

	httpServer *http.Server
}

// New assembles the server over the daemon's components. diag, features,
// and can may be nil when the corresponding feature is disabled; their
// endpoints then return 404.
func New(cfg config.ServerConfig, st *store.Store, d *dispatch.Dispatcher, can CANStatus,
	fm *feature.Manager, dt *diag.Table, bus *broadcast.Broadcaster) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		can:        can,
		features:   fm,
		diag:       dt,
		bus:        bus,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Post("/bulk-control", s.handleBulkControl)
			r.Get("/unmapped", s.handleUnmapped)
			r.Get("/unknown-pgns", s.handleUnknownPGNs)
			r.Route("/{entityID}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)
				r.Get("/history", s.handleEntityHistory)
				r.Post("/control", s.handleControl)
			})
		})
		r.Route("/can", func(r chi.Router) {
			r.Get("/interfaces", s.handleCANInterfaces)
			r.Get("/statistics", s.handleCANStatistics)
			r.Get("/recent", s.handleCANRecent)
		})
		r.Route("/diagnostics", func(r chi.Router) {
			r.Get("/dtcs", s.handleDTCs)
			r.Get("/correlated", s.handleCorrelated)
		})
		r.Get("/health", s.handleHealth)
		r.Get("/features", s.handleFeatures)
		r.Get("/audit", s.handleAudit)
	})

	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start begins listening. Non-blocking; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	util.Infof("rvlink %s listening on %s", version.Version, addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("http server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
