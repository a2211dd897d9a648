package rooms

import (
	"sync"
	"time"

	"playroom/internal/activity"
	"playroom/internal/events"
	"playroom/internal/snapshot"
)

// Status is the lifecycle phase of a room.
type Status string

const (
	StatusWaiting = Status("waiting")
	StatusPlaying = Status("playing")
	StatusEnded   = Status("ended")
)

// Participant is a member of a room, keyed by a stable profile id rather
// than a transport session id. Liveness is reflected here by the
// transport layer, never decided here.
type Participant struct {
	ID        string
	Name      string
	Color     string
	Glyph     string
	Ready     bool
	Connected bool
	JoinedAt  time.Time
}

// Room is the single state owner for one room id. All mutation happens
// under its mutex, through Registry calls; there is no cross-room shared
// mutable state.
type Room struct {
	mu           sync.Mutex
	code         string
	participants []*Participant // join order; host transfer walks this
	hostID       string
	status       Status
	activity     *activity.Info
	epoch        uint64
	store        *snapshot.Store
	createdAt    time.Time
	lastActive   time.Time
	startedAt    time.Time
	dropTimers   map[string]*time.Timer
}

// Code returns the room's join code.
func (r *Room) Code() string {
	return r.code
}

// Status returns the room's current lifecycle phase.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// HostID returns the participant currently holding authority, or ""
// when the room has no connected members.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// Store exposes the room's relay-side snapshot store.
func (r *Room) Store() *snapshot.Store {
	return r.store
}

// View returns the current full membership listing.
func (r *Room) View() events.MembershipView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Room) viewLocked() events.MembershipView {
	view := events.MembershipView{
		RoomID:       r.code,
		Epoch:        r.epoch,
		HostID:       r.hostID,
		Status:       string(r.status),
		Participants: make([]events.ParticipantView, 0, len(r.participants)),
	}
	if r.activity != nil {
		view.ActivityID = r.activity.ID
	}
	for _, p := range r.participants {
		view.Participants = append(view.Participants, events.ParticipantView{
			ID:        p.ID,
			Name:      p.Name,
			Color:     p.Color,
			Glyph:     p.Glyph,
			Ready:     p.Ready,
			Connected: p.Connected,
		})
	}
	return view
}

func (r *Room) findLocked(participantID string) *Participant {
	for _, p := range r.participants {
		if p.ID == participantID {
			return p
		}
	}
	return nil
}

// earliestConnectedLocked returns the earliest-joined participant that is
// still connected, skipping the given id.
func (r *Room) earliestConnectedLocked(skipID string) *Participant {
	for _, p := range r.participants {
		if p.ID == skipID || !p.Connected {
			continue
		}
		return p
	}
	return nil
}

func (r *Room) cancelDropTimerLocked(participantID string) {
	if timer, ok := r.dropTimers[participantID]; ok {
		timer.Stop()
		delete(r.dropTimers, participantID)
	}
}
