// Package reconcile turns the relay's two notification streams into the
// state a participant's render layer may trust. Every participant runs
// one Reconciler per room, the host included for its own UI.
package reconcile

import (
	"log"
	"sync"

	"playroom/internal/events"
	"playroom/internal/snapshot"
)

// Phase is the participant's synchronization state for one room.
type Phase string

const (
	PhaseDisconnected     = Phase("disconnected")
	PhaseAwaitingSnapshot = Phase("awaiting-snapshot")
	PhaseSynced           = Phase("synced")
	// PhaseRemoved is terminal: explicit leave or kick.
	PhaseRemoved = Phase("removed")
)

// View is what the render layer reads. Entities already include the
// participant's own optimistic overlay, if one is pending.
type View struct {
	Sequence   uint64
	Status     snapshot.Status
	WinnerID   string
	Entities   map[string]snapshot.Entity
	Membership events.MembershipView
}

// Reconciler ingests snapshots and membership views, rejects
// regressions, and produces the next local state to render.
type Reconciler struct {
	mu            sync.Mutex
	participantID string
	store         *snapshot.Store
	phase         Phase
	membership    events.MembershipView
	haveView      bool

	// Optimistic overlay for the participant's own entity only. Applied
	// wholesale, replaced wholesale; never merged field by field.
	optimistic    *snapshot.Entity
	optimisticSeq uint64
}

// New builds a reconciler in the awaiting-snapshot phase. Store options
// tune the underlying staleness rules.
func New(participantID string, opts ...snapshot.Option) *Reconciler {
	return &Reconciler{
		participantID: participantID,
		store:         snapshot.NewStore(opts...),
		phase:         PhaseAwaitingSnapshot,
	}
}

// Phase returns the current synchronization phase.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// OnSnapshot feeds an incoming snapshot through the staleness rules.
// Returns whether it was applied; rejections surface nowhere else.
func (r *Reconciler) OnSnapshot(snap snapshot.Snapshot) bool {
	r.mu.Lock()
	if r.phase == PhaseRemoved || r.phase == PhaseDisconnected {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if !r.store.Accept(snap) {
		return false
	}

	r.mu.Lock()
	if r.phase == PhaseAwaitingSnapshot {
		r.phase = PhaseSynced
	}
	// Authoritative state newer than the action's send time supersedes
	// the optimistic overlay.
	if r.optimistic != nil && snap.Sequence > r.optimisticSeq {
		r.optimistic = nil
	}
	r.mu.Unlock()
	return true
}

// OnMembership applies a full membership view. Departures open the
// snapshot store's suspicion window; seeing ourselves gone is terminal.
func (r *Reconciler) OnMembership(view events.MembershipView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseRemoved {
		return
	}
	if r.haveView && view.Epoch <= r.membership.Epoch {
		// Out-of-order view from an unreliable transport.
		return
	}

	if r.haveView {
		for _, prev := range r.membership.Participants {
			if !containsParticipant(view.Participants, prev.ID) {
				r.store.NoteDeparture()
				break
			}
		}
	}

	r.membership = view
	r.haveView = true

	if !containsParticipant(view.Participants, r.participantID) {
		log.Printf("[Reconcile] %s removed from %s", r.participantID, view.RoomID)
		r.phase = PhaseRemoved
	}
}

// OnDisconnect records a transport drop. Incoming data is ignored until
// OnReconnect.
func (r *Reconciler) OnDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseRemoved {
		return
	}
	r.phase = PhaseDisconnected
}

// OnReconnect discards every cached assumption and waits for a fresh
// full snapshot. A sequence gap across the disconnect window cannot be
// interpolated, so nothing survives: not the accepted snapshot, not the
// suspicion window, not the optimistic overlay.
func (r *Reconciler) OnReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseRemoved {
		return
	}
	r.store.Reset()
	r.optimistic = nil
	r.optimisticSeq = 0
	r.haveView = false
	r.phase = PhaseAwaitingSnapshot
}

// OnRemoved marks the terminal removed phase (explicit leave or kick).
func (r *Reconciler) OnRemoved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseRemoved
}

// ApplyLocalAction records the predicted effect of the participant's own
// action, hiding one-way latency for the acting player. The prediction
// only ever touches the participant's own entity and is dropped whole
// when the next authoritative snapshot arrives.
func (r *Reconciler) ApplyLocalAction(predict func(snapshot.Entity) snapshot.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseSynced {
		return
	}

	base := snapshot.Entity{ID: r.participantID}
	if snap, ok := r.store.Latest(); ok {
		if ent, found := snap.Entities[r.participantID]; found {
			base = ent
		}
	}
	if r.optimistic != nil {
		base = *r.optimistic
	}
	predicted := predict(base)
	predicted.ID = r.participantID
	r.optimistic = &predicted
	r.optimisticSeq = r.store.LastSequence()
}

// Render produces the state the render layer should draw. The second
// return is false before the first accepted snapshot.
func (r *Reconciler) Render() (View, bool) {
	snap, ok := r.store.Latest()
	if !ok {
		return View{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	view := View{
		Sequence:   snap.Sequence,
		Status:     snap.Status,
		WinnerID:   snap.WinnerID,
		Entities:   snap.Entities,
		Membership: r.membership,
	}
	if r.optimistic != nil {
		// A host may broadcast before any entity exists; the accepted
		// snapshot's entity map can be nil.
		if view.Entities == nil {
			view.Entities = make(map[string]snapshot.Entity, 1)
		}
		view.Entities[r.participantID] = *r.optimistic
	}
	return view, true
}

// Updates exposes the stream of accepted snapshots, for render layers
// that prefer push over polling Render.
func (r *Reconciler) Updates() chan snapshot.Snapshot {
	return r.store.Subscribe()
}

func containsParticipant(list []events.ParticipantView, id string) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}
