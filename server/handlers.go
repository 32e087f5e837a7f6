package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"example.com/vision_relay/pkg/config"
	"example.com/vision_relay/pkg/detect"
	"example.com/vision_relay/pkg/dispatch"
	"example.com/vision_relay/pkg/room"
	"example.com/vision_relay/pkg/signal"
	"github.com/gorilla/websocket"
)

// Server wires the HTTP surface to the room registry
type Server struct {
	cfg      *config.Config
	registry *room.Registry
	newPeer  dispatch.PeerFactory
	detector detect.Detector
	logger   *slog.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

func newServer(cfg *config.Config, registry *room.Registry, newPeer dispatch.PeerFactory, detector detect.Detector, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		newPeer:  newPeer,
		detector: detector,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Browsers connect from whatever page hosts the player
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Routes returns the HTTP handler for every endpoint
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{room}/{client}", s.handleWebSocket)
	mux.HandleFunc("GET /stream/ws/{room}/{client}", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	return mux
}

// handleWebSocket upgrades the connection and runs its dispatcher until the
// client goes away
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName, clientID := r.PathValue("room"), r.PathValue("client")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "room", roomName, "client", clientID, "error", err)
		return
	}

	conn := signal.NewConn(ws, s.logger.With("room", roomName, "client", clientID))
	d := dispatch.New(dispatch.Config{
		Registry: s.registry,
		Room:     roomName,
		Client:   clientID,
		Channel:  conn,
		NewPeer:  s.newPeer,
		Logger:   s.logger,
	})
	if err := d.Serve(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Connection ended with error", "room", roomName, "client", clientID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// Status is the body of /api/status
type Status struct {
	Status    string  `json:"status"`
	Rooms     int     `json:"rooms"`
	Detector  bool    `json:"detector"`
	UptimeSec float64 `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Status{
		Status:    "running",
		Rooms:     s.registry.Len(),
		Detector:  s.cfg.DetectionEnabled(),
		UptimeSec: time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Close releases the detector connection
func (s *Server) Close() error {
	return s.detector.Close()
}
