// Package snapshot holds the last-accepted authoritative state for a room
// and decides whether an incoming snapshot may replace it. The same rules
// run on the relay and inside every participant's reconciler.
package snapshot

import "encoding/json"

// Status describes the simulation phase encoded in a snapshot. Terminal
// states travel inside the snapshot itself so late joiners and
// reconnecting participants converge from a single artifact.
type Status string

const (
	StatusRunning  = Status("running")
	StatusGameOver = Status("gameover")
	StatusErrored  = Status("errored")
)

// Entity is the game-agnostic portion of one simulated object. Game
// specific state rides in State, which the core never interprets.
type Entity struct {
	ID         string          `json:"id"`
	X          float64         `json:"x"`
	Y          float64         `json:"y"`
	VX         float64         `json:"vx,omitempty"`
	VY         float64         `json:"vy,omitempty"`
	Score      int             `json:"score,omitempty"`
	Eliminated bool            `json:"eliminated,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
}

// Snapshot is a complete copy of a room's simulation state at one tick.
type Snapshot struct {
	Sequence   uint64            `json:"sequence"`
	ProducerID string            `json:"producer"`
	Entities   map[string]Entity `json:"entities"`
	Status     Status            `json:"status"`
	WinnerID   string            `json:"winner,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	ServerTime int64             `json:"serverTime"`
}

// Terminal reports whether the snapshot encodes a finished simulation.
func (s Snapshot) Terminal() bool {
	return s.Status == StatusGameOver || s.Status == StatusErrored
}

// Clone returns a deep copy so stored state is never aliased by callers.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Entities != nil {
		out.Entities = make(map[string]Entity, len(s.Entities))
		for id, e := range s.Entities {
			out.Entities[id] = e
		}
	}
	return out
}

// RejectReason says why a snapshot was not applied. Rejections are part of
// normal reconciliation and are never surfaced to users.
type RejectReason string

const (
	RejectStale    = RejectReason("stale")    // sequence <= stored
	RejectSuspect  = RejectReason("suspect")  // entity growth inside the departure window
	RejectProducer = RejectReason("producer") // producer is not the current authority
)
