// Package activity catalogs the games a room can select and defines the
// contract between the synchronization core and a game's simulation.
// Game physics lives behind the Simulation interface; the core only
// moves its state around.
package activity

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"playroom/internal/snapshot"
)

// Action is a participant-originated intent. It is never authoritative
// on its own; the host folds it into the next tick.
type Action struct {
	RoomID        string          `json:"room"`
	ParticipantID string          `json:"participant"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	IssuedAt      time.Time       `json:"-"`
}

// Simulation advances one room's game state. Implementations are driven
// by a single goroutine (the authoritative loop) and need no locking.
type Simulation interface {
	AddEntity(participantID string)
	RemoveEntity(participantID string)
	// Advance applies the queued actions in arrival order, then steps
	// the simulation by dt. An error marks the whole tick as failed.
	Advance(dt time.Duration, actions []Action) error
	Entities() map[string]snapshot.Entity
	// Result reports whether the game has ended and who won, if anyone.
	Result() (over bool, winnerID string)
}

// Info describes one selectable activity. Capacity is a property of the
// activity, not of the room.
type Info struct {
	ID             string
	Name           string
	MinPlayers     int
	MaxPlayers     int
	TickInterval   time.Duration
	BroadcastEvery int // broadcast every Nth tick
	New            func() Simulation
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Info)
)

// Register adds an activity to the catalog. Later registrations with the
// same id replace earlier ones.
func Register(info Info) {
	registryMu.Lock()
	registry[info.ID] = info
	registryMu.Unlock()
}

// Lookup returns the activity with the given id.
func Lookup(id string) (Info, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[id]
	return info, ok
}

// List returns all registered activities sorted by id.
func List() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
