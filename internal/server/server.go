// Package server is the relay's HTTP surface: room management over
// plain JSON endpoints and the realtime path over one websocket per
// participant. The relay never simulates; it validates membership,
// gates snapshots, and fans traffic out.
package server

import (
	"log"
	"sync"

	"playroom/internal/config"
	"playroom/internal/db"
	"playroom/internal/events"
	"playroom/internal/hub"
	"playroom/internal/metrics"
	"playroom/internal/protocol"
	"playroom/internal/rooms"
	"playroom/internal/snapshot"
)

type Server struct {
	cfg config.Config
	reg *rooms.Registry
	bus *events.Bus
	db  *db.DB // nil if no database configured

	mu   sync.Mutex
	hubs map[string]*hub.Hub

	done chan struct{}
}

// NewServer wires the registry, the event pump, and the per-room hubs.
// database may be nil; match outcomes are then not persisted.
func NewServer(cfg config.Config, database *db.DB, recordOutcome func(rooms.Outcome)) *Server {
	bus := events.NewBus()
	s := &Server{
		cfg:  cfg,
		bus:  bus,
		db:   database,
		hubs: make(map[string]*hub.Hub),
		done: make(chan struct{}),
	}
	s.reg = rooms.NewRegistry(bus, rooms.Config{
		ReconnectTimeout: cfg.ReconnectTimeout,
		RoomTTL:          cfg.RoomTTL,
		SuspicionWindow:  cfg.SuspicionWindow,
		TickFailureLimit: cfg.TickFailureLimit,
		SnapshotRejected: func(_ snapshot.Snapshot, reason snapshot.RejectReason) {
			metrics.SnapshotsRejected.WithLabelValues(string(reason)).Inc()
		},
		RecordOutcome: recordOutcome,
	})
	go s.pump()
	return s
}

// logf logs per-message traffic, only when the relay runs verbose.
func (s *Server) logf(format string, args ...any) {
	if !s.cfg.Verbose {
		return
	}
	log.Printf(format, args...)
}

// Close stops the event pump and the registry sweeper.
func (s *Server) Close() {
	close(s.done)
	s.reg.Close()
}

// pump forwards registry events to the owning room's hub. Membership and
// transfers ride the control path so they are never throttled behind
// snapshot traffic.
func (s *Server) pump() {
	for {
		select {
		case <-s.done:
			return
		case view := <-s.bus.Membership:
			s.hubFor(view.RoomID).BroadcastControl(protocol.ServerMessage{
				Type:       protocol.ServerMembership,
				Membership: &view,
			})
		case transfer := <-s.bus.HostTransfers:
			s.hubFor(transfer.RoomID).BroadcastControl(protocol.ServerMessage{
				Type:     protocol.ServerHostTransfer,
				Transfer: &transfer,
			})
		case closed := <-s.bus.RoomClosures:
			if h := s.takeHub(closed.RoomID); h != nil {
				h.BroadcastControl(protocol.ServerMessage{
					Type:   protocol.ServerRoomClosed,
					Reason: closed.Reason,
				})
				h.CloseAll(closed.Reason)
			}
			metrics.ActiveRooms.Dec()
		}
	}
}

func (s *Server) hubFor(roomID string) *hub.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[roomID]
	if !ok {
		h = hub.NewHub()
		s.hubs[roomID] = h
	}
	return h
}

func (s *Server) takeHub(roomID string) *hub.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[roomID]
	if ok {
		delete(s.hubs, roomID)
	}
	return h
}
