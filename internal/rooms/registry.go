// Package rooms tracks membership, host authority, activity selection,
// and lifecycle for every room on the relay. Each room is its own state
// owner; the registry only routes calls to it.
package rooms

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"playroom/internal/activity"
	"playroom/internal/events"
	"playroom/internal/snapshot"
	"playroom/internal/utility"
)

// Capacity applied before an activity (with its own capacity) is chosen.
const defaultCapacity = 8

const sweepInterval = time.Minute

// Config tunes registry behavior. Zero values fall back to defaults.
type Config struct {
	// ReconnectTimeout is how long a disconnected participant keeps its
	// membership slot before the drop is treated as a leave.
	ReconnectTimeout time.Duration
	// RoomTTL destroys rooms with no accepted activity for this long.
	RoomTTL time.Duration
	// SuspicionWindow is handed to each room's snapshot store.
	SuspicionWindow time.Duration
	// TickFailureLimit rides in every host transfer: how many consecutive
	// tick failures a host's loop tolerates before ending the match with
	// an errored snapshot.
	TickFailureLimit int
	// SnapshotRejected, if set, observes every relay-side rejection.
	SnapshotRejected func(snapshot.Snapshot, snapshot.RejectReason)
	// RecordOutcome, if set, receives match results. Called on its own
	// goroutine; failures must never affect room state.
	RecordOutcome func(Outcome)
}

// Outcome is the terminal result of one played match.
type Outcome struct {
	RoomCode   string
	ActivityID string
	WinnerID   string
	Players    []PlayerResult
	StartedAt  time.Time
	EndedAt    time.Time
}

// PlayerResult is one participant's final standing.
type PlayerResult struct {
	ID    string
	Name  string
	Score int
}

// JoinResult is the confirmation returned by Create, Join, and Reconnect.
type JoinResult struct {
	Participant Participant
	View        events.MembershipView
	// Snapshot is the room's current accepted state, nil before the
	// first broadcast. Late joiners and rejoiners bootstrap from it.
	Snapshot *snapshot.Snapshot
}

// Registry owns all rooms on this relay.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	bus   *events.Bus
	cfg   Config
	done  chan struct{}
}

// NewRegistry builds a registry publishing on bus and starts the stale
// room sweeper.
func NewRegistry(bus *events.Bus, cfg Config) *Registry {
	if cfg.ReconnectTimeout == 0 {
		cfg.ReconnectTimeout = 30 * time.Second
	}
	if cfg.RoomTTL == 0 {
		cfg.RoomTTL = time.Hour
	}
	if cfg.SuspicionWindow == 0 {
		cfg.SuspicionWindow = snapshot.DefaultSuspicionWindow
	}
	if cfg.TickFailureLimit == 0 {
		cfg.TickFailureLimit = 5
	}
	reg := &Registry{
		rooms: make(map[string]*Room),
		bus:   bus,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
	go reg.sweepStale()
	return reg
}

// Close stops the sweeper. Rooms are left to their own teardown.
func (reg *Registry) Close() {
	close(reg.done)
}

// Create makes a new room with the given participant as host.
func (reg *Registry) Create(p Participant) (JoinResult, error) {
	fillParticipantDefaults(&p)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Try up to 10 times to generate a unique code.
	for range 10 {
		code, err := GenerateCode()
		if err != nil {
			return JoinResult{}, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := reg.rooms[code]; exists {
			continue
		}

		store := snapshot.NewStore(
			snapshot.WithSuspicionWindow(reg.cfg.SuspicionWindow),
			snapshot.WithRejectFunc(reg.cfg.SnapshotRejected),
		)
		store.SetProducerGate(p.ID)

		now := time.Now()
		room := &Room{
			code:         code,
			participants: []*Participant{&p},
			hostID:       p.ID,
			status:       StatusWaiting,
			store:        store,
			createdAt:    now,
			lastActive:   now,
			dropTimers:   make(map[string]*time.Timer),
		}
		reg.rooms[code] = room

		room.mu.Lock()
		view := reg.emitViewLocked(room)
		room.mu.Unlock()

		log.Printf("[Rooms] created %s host=%s", code, p.ID)
		return JoinResult{Participant: p, View: view}, nil
	}
	return JoinResult{}, fmt.Errorf("failed to generate unique room code after 10 attempts")
}

// Join adds a participant to an existing room. Joining with an id that
// already holds a membership slot resumes that identity instead.
func (reg *Registry) Join(code string, p Participant) (JoinResult, error) {
	room, ok := reg.get(code)
	if !ok {
		return JoinResult{}, protoErr(ReasonRoomNotFound, "room %s does not exist", code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.status == StatusEnded {
		return JoinResult{}, protoErr(ReasonRoomEnded, "room %s has ended", code)
	}
	if existing := room.findLocked(p.ID); existing != nil {
		return reg.reconnectLocked(room, existing), nil
	}
	if len(room.participants) >= room.capacityLocked() {
		return JoinResult{}, protoErr(ReasonRoomFull, "room %s is at capacity", code)
	}

	fillParticipantDefaults(&p)
	room.participants = append(room.participants, &p)
	room.lastActive = time.Now()
	view := reg.emitViewLocked(room)

	return JoinResult{Participant: p, View: view, Snapshot: latestOrNil(room.store)}, nil
}

// Reconnect resumes an existing membership after a transport drop. The
// caller must discard any cached snapshot state and bootstrap from the
// returned one.
func (reg *Registry) Reconnect(code, participantID string) (JoinResult, error) {
	room, ok := reg.get(code)
	if !ok {
		return JoinResult{}, protoErr(ReasonNotMember, "room %s no longer exists", code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.status == StatusEnded {
		return JoinResult{}, protoErr(ReasonRoomEnded, "room %s has ended", code)
	}
	p := room.findLocked(participantID)
	if p == nil {
		return JoinResult{}, protoErr(ReasonNotMember, "%s is no longer a member of %s", participantID, code)
	}
	return reg.reconnectLocked(room, p), nil
}

func (reg *Registry) reconnectLocked(room *Room, p *Participant) JoinResult {
	room.cancelDropTimerLocked(p.ID)
	p.Connected = true
	room.lastActive = time.Now()

	// A room whose members all dropped has no authority; the first one
	// back picks it up.
	if room.hostID == "" {
		room.hostID = p.ID
		room.store.SetProducerGate(p.ID)
		reg.bus.HostTransfers <- reg.transferEventLocked(room)
	}

	view := reg.emitViewLocked(room)
	return JoinResult{Participant: *p, View: view, Snapshot: latestOrNil(room.store)}
}

// Leave removes a participant. Idempotent: leaving twice, or leaving a
// destroyed room, is a no-op.
func (reg *Registry) Leave(code, participantID string) {
	room, ok := reg.get(code)
	if !ok {
		return
	}

	room.mu.Lock()
	if room.findLocked(participantID) == nil {
		room.mu.Unlock()
		return
	}
	reg.removeLocked(room, participantID)
	room.mu.Unlock()
}

// Kick removes another participant, host only.
func (reg *Registry) Kick(code, byID, targetID string) error {
	room, ok := reg.get(code)
	if !ok {
		return protoErr(ReasonRoomNotFound, "room %s does not exist", code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.hostID != byID {
		return protoErr(ReasonNotHost, "%s does not hold authority in %s", byID, code)
	}
	if room.findLocked(targetID) == nil {
		return protoErr(ReasonNotMember, "%s is not a member of %s", targetID, code)
	}
	reg.removeLocked(room, targetID)
	return nil
}

func (reg *Registry) removeLocked(room *Room, participantID string) {
	room.cancelDropTimerLocked(participantID)
	for i, p := range room.participants {
		if p.ID == participantID {
			room.participants = append(room.participants[:i], room.participants[i+1:]...)
			break
		}
	}
	room.store.NoteDeparture()
	room.lastActive = time.Now()

	if len(room.participants) == 0 {
		reg.destroyLocked(room, "empty")
		return
	}
	if room.hostID == participantID {
		reg.transferHostLocked(room, participantID)
	}
	reg.emitViewLocked(room)
}

// SetReady flips a participant's ready flag.
func (reg *Registry) SetReady(code, participantID string, ready bool) error {
	room, ok := reg.get(code)
	if !ok {
		return protoErr(ReasonRoomNotFound, "room %s does not exist", code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.findLocked(participantID)
	if p == nil {
		return protoErr(ReasonNotMember, "%s is not a member of %s", participantID, code)
	}
	if p.Ready == ready {
		return nil
	}
	p.Ready = ready
	reg.emitViewLocked(room)
	return nil
}

// SelectActivity chooses the room's game, host only. An empty id clears
// the selection and forces the room back to waiting without removing
// anyone.
func (reg *Registry) SelectActivity(code, byID, activityID string) error {
	room, ok := reg.get(code)
	if !ok {
		return protoErr(ReasonRoomNotFound, "room %s does not exist", code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.status == StatusEnded {
		return protoErr(ReasonRoomEnded, "room %s has ended", code)
	}
	if room.hostID != byID {
		return protoErr(ReasonNotHost, "%s does not hold authority in %s", byID, code)
	}
	if room.status == StatusPlaying {
		return protoErr(ReasonAlreadyPlaying, "room %s is mid-game", code)
	}

	if activityID == "" {
		room.activity = nil
		room.status = StatusWaiting
		reg.emitViewLocked(room)
		return nil
	}

	info, found := activity.Lookup(activityID)
	if !found {
		return protoErr(ReasonNoActivity, "unknown activity %q", activityID)
	}
	if len(room.participants) > info.MaxPlayers {
		return protoErr(ReasonRoomFull, "%d participants exceed %s capacity %d",
			len(room.participants), activityID, info.MaxPlayers)
	}
	room.activity = &info
	reg.emitViewLocked(room)
	return nil
}

// Start begins the selected activity, host only. The returned transfer
// event tells the starter's loop where the room-wide sequence left off,
// so accepted snapshots keep increasing across matches and host
// transfers, and what its tick-failure budget is.
func (reg *Registry) Start(code, byID string) (events.HostTransfer, error) {
	room, ok := reg.get(code)
	if !ok {
		return events.HostTransfer{}, protoErr(ReasonRoomNotFound, "room %s does not exist", code)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.status == StatusEnded {
		return events.HostTransfer{}, protoErr(ReasonRoomEnded, "room %s has ended", code)
	}
	if room.hostID != byID {
		return events.HostTransfer{}, protoErr(ReasonNotHost, "%s does not hold authority in %s", byID, code)
	}
	if room.status == StatusPlaying {
		return events.HostTransfer{}, protoErr(ReasonAlreadyPlaying, "room %s is mid-game", code)
	}
	if room.activity == nil {
		return events.HostTransfer{}, protoErr(ReasonNoActivity, "room %s has no selected activity", code)
	}
	if len(room.participants) < room.activity.MinPlayers {
		return events.HostTransfer{}, protoErr(ReasonTooFewPlayers, "%s needs %d participants",
			room.activity.ID, room.activity.MinPlayers)
	}
	for _, p := range room.participants {
		if !p.Ready {
			return events.HostTransfer{}, protoErr(ReasonNotReady, "%s is not ready", p.ID)
		}
	}

	room.status = StatusPlaying
	room.startedAt = time.Now()
	room.lastActive = room.startedAt
	room.store.SetProducerGate(room.hostID)
	reg.emitViewLocked(room)
	return reg.transferEventLocked(room), nil
}

// MarkDisconnected reflects a transport drop. The membership slot is
// kept so a rejoin resumes identity; authority moves immediately if the
// host dropped.
func (reg *Registry) MarkDisconnected(code, participantID string) {
	room, ok := reg.get(code)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p := room.findLocked(participantID)
	if p == nil || !p.Connected {
		return
	}
	p.Connected = false

	if room.hostID == participantID {
		reg.transferHostLocked(room, participantID)
	}

	room.cancelDropTimerLocked(participantID)
	room.dropTimers[participantID] = time.AfterFunc(reg.cfg.ReconnectTimeout, func() {
		log.Printf("[Rooms] %s never reconnected to %s, treating as leave", participantID, code)
		reg.Leave(code, participantID)
	})

	reg.emitViewLocked(room)
}

// transferHostLocked hands authority to the earliest-joined connected
// participant. The new host learns its resume sequence from the
// transfer event and must answer with a fresh full snapshot.
func (reg *Registry) transferHostLocked(room *Room, departingID string) {
	next := room.earliestConnectedLocked(departingID)
	if next == nil {
		// Nobody left to simulate; the match cannot continue.
		room.hostID = ""
		room.store.SetProducerGate("")
		if room.status == StatusPlaying {
			room.status = StatusWaiting
		}
		return
	}
	room.hostID = next.ID
	room.store.SetProducerGate(next.ID)
	log.Printf("[Rooms] host of %s transferred to %s", room.code, next.ID)
	reg.bus.HostTransfers <- reg.transferEventLocked(room)
}

// transferEventLocked describes the room's current authority so a host
// can configure its loop: where the sequence left off and how many tick
// failures it may absorb.
func (reg *Registry) transferEventLocked(room *Room) events.HostTransfer {
	return events.HostTransfer{
		RoomID:       room.code,
		NewHostID:    room.hostID,
		ResumeAfter:  room.store.LastSequence(),
		FailureLimit: reg.cfg.TickFailureLimit,
	}
}

// AcceptSnapshot runs the relay-side staleness rules on a host broadcast
// and reports whether it became the room's accepted state. Terminal
// snapshots settle the match.
func (reg *Registry) AcceptSnapshot(code string, snap snapshot.Snapshot) bool {
	room, ok := reg.get(code)
	if !ok {
		return false
	}
	if !room.store.Accept(snap) {
		return false
	}

	room.mu.Lock()
	room.lastActive = time.Now()
	switch {
	case snap.Status == snapshot.StatusGameOver && room.status == StatusPlaying:
		reg.settleLocked(room, snap)
	case snap.Status == snapshot.StatusErrored && room.status == StatusPlaying:
		reg.endLocked(room, "simulation_failure")
	}
	room.mu.Unlock()
	return true
}

// settleLocked records the outcome and returns the room to the lobby.
func (reg *Registry) settleLocked(room *Room, snap snapshot.Snapshot) {
	outcome := Outcome{
		RoomCode:  room.code,
		WinnerID:  snap.WinnerID,
		StartedAt: room.startedAt,
		EndedAt:   time.Now(),
	}
	if room.activity != nil {
		outcome.ActivityID = room.activity.ID
	}
	for _, p := range room.participants {
		result := PlayerResult{ID: p.ID, Name: p.Name}
		if ent, found := snap.Entities[p.ID]; found {
			result.Score = ent.Score
		}
		outcome.Players = append(outcome.Players, result)
	}

	room.status = StatusWaiting
	for _, p := range room.participants {
		p.Ready = false
	}
	reg.emitViewLocked(room)

	if reg.cfg.RecordOutcome != nil {
		// Fire and forget; persistence failure never touches room state.
		go reg.cfg.RecordOutcome(outcome)
	}
}

// End force-terminates a room.
func (reg *Registry) End(code, reason string) {
	room, ok := reg.get(code)
	if !ok {
		return
	}
	room.mu.Lock()
	reg.endLocked(room, reason)
	room.mu.Unlock()
}

func (reg *Registry) endLocked(room *Room, reason string) {
	if room.status == StatusEnded {
		return
	}
	room.status = StatusEnded
	for id := range room.dropTimers {
		room.cancelDropTimerLocked(id)
	}
	reg.emitViewLocked(room)
	reg.bus.RoomClosures <- events.RoomClosed{RoomID: room.code, Reason: reason}
	log.Printf("[Rooms] ended %s reason=%s", room.code, reason)
}

// destroyLocked drops the room entirely. The close wins over any final
// in-flight broadcast: once gone, AcceptSnapshot simply returns false.
func (reg *Registry) destroyLocked(room *Room, reason string) {
	for id := range room.dropTimers {
		room.cancelDropTimerLocked(id)
	}
	reg.mu.Lock()
	delete(reg.rooms, room.code)
	reg.mu.Unlock()
	reg.bus.RoomClosures <- events.RoomClosed{RoomID: room.code, Reason: reason}
	log.Printf("[Rooms] destroyed %s reason=%s", room.code, reason)
}

// Get returns a live room by code.
func (reg *Registry) Get(code string) (*Room, bool) {
	return reg.get(code)
}

func (reg *Registry) get(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[code]
	return room, ok
}

// emitViewLocked bumps the membership epoch and publishes the full
// participant list. Caller holds room.mu, which is what serializes view
// ordering on the bus.
func (reg *Registry) emitViewLocked(room *Room) events.MembershipView {
	room.epoch++
	view := room.viewLocked()
	reg.bus.Membership <- view
	return view
}

func (room *Room) capacityLocked() int {
	if room.activity != nil {
		return room.activity.MaxPlayers
	}
	return defaultCapacity
}

func (reg *Registry) sweepStale() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.done:
			return
		case <-ticker.C:
			reg.mu.Lock()
			all := make([]*Room, 0, len(reg.rooms))
			for _, room := range reg.rooms {
				all = append(all, room)
			}
			reg.mu.Unlock()

			now := time.Now()
			for _, room := range all {
				room.mu.Lock()
				if now.Sub(room.lastActive) > reg.cfg.RoomTTL || room.status == StatusEnded {
					reg.destroyLocked(room, "stale")
				}
				room.mu.Unlock()
			}
		}
	}
}

func fillParticipantDefaults(p *Participant) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Name == "" {
		p.Name = "Player"
	}
	if p.Color == "" {
		p.Color = utility.RandomColorHex()
	}
	if p.Glyph == "" {
		p.Glyph = utility.RandomGlyph()
	}
	p.Ready = false
	p.Connected = true
	p.JoinedAt = time.Now()
}

func latestOrNil(store *snapshot.Store) *snapshot.Snapshot {
	if snap, ok := store.Latest(); ok {
		return &snap
	}
	return nil
}
