// Package server exposes the upload, download and progress-streaming
// endpoints over HTTP.
package server

import (
	"encoding/json"
	"log/slog"

	"github.com/gorilla/mux"

	"github.com/beamdrop/beamdrop/internal/broadcast"
	"github.com/beamdrop/beamdrop/internal/config"
	"github.com/beamdrop/beamdrop/internal/ingest"
	"github.com/beamdrop/beamdrop/internal/packaging"
	"github.com/beamdrop/beamdrop/internal/presence"
	"github.com/beamdrop/beamdrop/internal/registry"
	"github.com/beamdrop/beamdrop/internal/staging"
	"github.com/beamdrop/beamdrop/internal/worker"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

// Server owns the core components and their HTTP handlers. Components
// are dependency-injected handles, never package-level state.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	registry *registry.Registry
	staging  *staging.Store
	pipeline *ingest.Pipeline
	engine   *packaging.Engine
	pool     *worker.Pool
	hub      *presence.Hub
	qrPNG    []byte

	mobile    *broadcast.Broadcaster
	desktop   *broadcast.Broadcaster
	packaging *broadcast.Broadcaster
	presence  *broadcast.Broadcaster
}

// New builds and wires the core. qrPNG is the pre-rendered QR image for
// the landing URL.
func New(cfg config.ServerConfig, logger *slog.Logger, qrPNG []byte) *Server {
	reg := registry.New()
	store := staging.NewStore()
	opts := broadcast.Options{
		DirtyInterval: cfg.DirtyInterval,
		IdleInterval:  cfg.IdleInterval,
	}

	// Each screen watches the other device class's transfers, so the
	// mobile-class pump snapshots desktop-originated entries and vice
	// versa.
	mobile := broadcast.New(broadcast.ClassMobile, aggregateSnapshot(reg, protocol.Desktop), opts, logger)
	desktop := broadcast.New(broadcast.ClassDesktop, aggregateSnapshot(reg, protocol.Mobile), opts, logger)

	var eng *packaging.Engine
	pack := broadcast.New(broadcast.ClassPackaging, func() string { return eng.ProgressJSON() }, opts, logger)
	eng = packaging.NewEngine(store, pack, logger)

	var hub *presence.Hub
	pres := broadcast.New(broadcast.ClassPresence, func() string { return presenceSnapshot(hub) }, opts, logger)
	hub = presence.NewHub(pres.Ping)

	notify := func(viewer protocol.DeviceClass) {
		if viewer == protocol.Mobile {
			mobile.Ping()
		} else {
			desktop.Ping()
		}
	}
	pipe := ingest.New(reg, cfg.SizeLimit, cfg.StrictIngest, notify, logger)

	return &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		staging:   store,
		pipeline:  pipe,
		engine:    eng,
		pool:      worker.NewPool(cfg.Workers),
		hub:       hub,
		qrPNG:     qrPNG,
		mobile:    mobile,
		desktop:   desktop,
		packaging: pack,
		presence:  pres,
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/qr.png", s.handleQR).Methods("GET")
	r.HandleFunc("/progress/{name}", s.handleTransferProgress).Methods("GET")
	r.HandleFunc("/upload-desktop", s.handleUploadDesktop).Methods("POST")
	r.HandleFunc("/upload-mobile", s.handleUploadMobile).Methods("POST")
	r.HandleFunc("/download", s.handleDownload).Methods("GET")
	r.HandleFunc("/download-progress-mobile", s.streamBroadcast(s.mobile)).Methods("GET")
	r.HandleFunc("/download-progress-desktop", s.streamBroadcast(s.desktop)).Methods("GET")
	r.HandleFunc("/packaging-progress", s.streamBroadcast(s.packaging)).Methods("GET")
	r.HandleFunc("/presence", s.streamBroadcast(s.presence)).Methods("GET")
	r.HandleFunc("/ws", s.handleWS).Methods("GET")
	return r
}

// Close stops the pumps and the worker pool.
func (s *Server) Close() {
	s.mobile.Close()
	s.desktop.Close()
	s.packaging.Close()
	s.presence.Close()
	s.pool.Stop()
}

func aggregateSnapshot(reg *registry.Registry, origin protocol.DeviceClass) broadcast.SnapshotFunc {
	return func() string {
		return marshalSnapshot(reg.Snapshot(origin))
	}
}

func presenceSnapshot(hub *presence.Hub) string {
	return marshalSnapshot(hub.Snapshot())
}

func marshalSnapshot(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(payload)
}
