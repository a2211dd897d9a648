package reconcile

import (
	"reflect"
	"testing"
	"time"

	"playroom/internal/events"
	"playroom/internal/snapshot"
)

func runningSnap(seqn uint64, entityIDs ...string) snapshot.Snapshot {
	entities := make(map[string]snapshot.Entity, len(entityIDs))
	for _, id := range entityIDs {
		entities[id] = snapshot.Entity{ID: id, X: float64(seqn)}
	}
	return snapshot.Snapshot{Sequence: seqn, ProducerID: "host", Entities: entities, Status: snapshot.StatusRunning}
}

func view(epoch uint64, ids ...string) events.MembershipView {
	v := events.MembershipView{RoomID: "R", Epoch: epoch, HostID: "host"}
	for _, id := range ids {
		v.Participants = append(v.Participants, events.ParticipantView{ID: id, Connected: true})
	}
	return v
}

func TestPhases_HappyPath(t *testing.T) {
	r := New("me")
	if r.Phase() != PhaseAwaitingSnapshot {
		t.Fatalf("initial phase = %s", r.Phase())
	}

	if !r.OnSnapshot(runningSnap(1, "me", "host")) {
		t.Fatal("bootstrap snapshot should be applied")
	}
	if r.Phase() != PhaseSynced {
		t.Errorf("phase after snapshot = %s, want synced", r.Phase())
	}

	r.OnDisconnect()
	if r.Phase() != PhaseDisconnected {
		t.Errorf("phase after drop = %s, want disconnected", r.Phase())
	}

	r.OnReconnect()
	if r.Phase() != PhaseAwaitingSnapshot {
		t.Errorf("phase after reconnect = %s, want awaiting-snapshot", r.Phase())
	}
}

func TestRemoved_TerminalFromAnyState(t *testing.T) {
	r := New("me")
	r.OnSnapshot(runningSnap(1, "me"))
	r.OnRemoved()

	r.OnReconnect()
	if r.Phase() != PhaseRemoved {
		t.Error("reconnect must not resurrect a removed participant")
	}
	if r.OnSnapshot(runningSnap(2, "me")) {
		t.Error("removed participant must not apply snapshots")
	}
}

func TestOnSnapshot_IgnoredWhileDisconnected(t *testing.T) {
	r := New("me")
	r.OnSnapshot(runningSnap(1, "me"))
	r.OnDisconnect()

	if r.OnSnapshot(runningSnap(2, "me")) {
		t.Error("snapshots during a disconnect gap must not be applied")
	}
}

func TestOnReconnect_DiscardsCachedSequence(t *testing.T) {
	r := New("me")
	r.OnSnapshot(runningSnap(10, "me", "host"))
	r.OnDisconnect()
	r.OnReconnect()

	// The fresh full snapshot bootstraps regardless of cached numbering.
	if !r.OnSnapshot(runningSnap(10, "me", "host")) {
		t.Fatal("fresh snapshot after reconnect must bootstrap, not compare against cache")
	}
	if r.Phase() != PhaseSynced {
		t.Errorf("phase = %s, want synced", r.Phase())
	}
}

// A participant who reconnects after missing N broadcasts must converge
// to exactly the state of a participant who saw everything.
func TestRejoinConvergence(t *testing.T) {
	steady := New("a")
	rejoiner := New("b")

	steady.OnMembership(view(1, "a", "b"))
	rejoiner.OnMembership(view(1, "a", "b"))

	for seqn := uint64(1); seqn <= 3; seqn++ {
		steady.OnSnapshot(runningSnap(seqn, "a", "b"))
		rejoiner.OnSnapshot(runningSnap(seqn, "a", "b"))
	}

	rejoiner.OnDisconnect()
	for seqn := uint64(4); seqn <= 9; seqn++ {
		steady.OnSnapshot(runningSnap(seqn, "a", "b"))
	}

	rejoiner.OnReconnect()
	rejoiner.OnMembership(view(2, "a", "b"))
	final := runningSnap(10, "a", "b")
	steady.OnSnapshot(final)
	rejoiner.OnSnapshot(final)

	sv, ok1 := steady.Render()
	rv, ok2 := rejoiner.Render()
	if !ok1 || !ok2 {
		t.Fatal("both participants should have renderable state")
	}
	if sv.Sequence != rv.Sequence {
		t.Fatalf("sequences diverge: %d vs %d", sv.Sequence, rv.Sequence)
	}
	if !reflect.DeepEqual(sv.Entities, rv.Entities) {
		t.Errorf("entities diverge:\n steady %+v\n rejoin %+v", sv.Entities, rv.Entities)
	}
}

func TestOnMembership_DepartureOpensSuspicionWindow(t *testing.T) {
	r := New("a", snapshot.WithSuspicionWindow(time.Hour))
	r.OnMembership(view(1, "a", "b"))
	r.OnSnapshot(runningSnap(1, "a", "b"))

	// b leaves; the view shrinks and the host's next snapshot follows.
	r.OnMembership(view(2, "a"))
	r.OnSnapshot(runningSnap(2, "a"))

	// A stale broadcast that would resurrect b's entity.
	if r.OnSnapshot(runningSnap(3, "a", "b")) {
		t.Fatal("resurrecting snapshot inside the window must be rejected")
	}
	rv, _ := r.Render()
	if _, found := rv.Entities["b"]; found {
		t.Error("departed entity must not be rendered")
	}
}

func TestOnMembership_StaleEpochIgnored(t *testing.T) {
	r := New("a")
	r.OnMembership(view(5, "a", "b"))
	r.OnMembership(view(3, "a")) // late re-delivery

	rv := r.membershipView()
	if len(rv.Participants) != 2 {
		t.Errorf("stale view replaced a newer one: %+v", rv.Participants)
	}
}

func (r *Reconciler) membershipView() events.MembershipView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membership
}

func TestOnMembership_SelfGoneMeansRemoved(t *testing.T) {
	r := New("b")
	r.OnMembership(view(1, "a", "b"))
	r.OnMembership(view(2, "a"))
	if r.Phase() != PhaseRemoved {
		t.Errorf("phase = %s, want removed after vanishing from the list", r.Phase())
	}
}

func TestOptimistic_OwnEntityOnlyAndSuperseded(t *testing.T) {
	r := New("me")
	r.OnSnapshot(runningSnap(1, "me", "other"))

	r.ApplyLocalAction(func(ent snapshot.Entity) snapshot.Entity {
		ent.VX = 99
		return ent
	})

	rv, _ := r.Render()
	if rv.Entities["me"].VX != 99 {
		t.Error("own entity should reflect the optimistic prediction")
	}
	if rv.Entities["other"].VX != 0 {
		t.Error("prediction must never touch another participant's entity")
	}

	// The next authoritative snapshot replaces the overlay wholesale.
	r.OnSnapshot(runningSnap(2, "me", "other"))
	rv, _ = r.Render()
	if rv.Entities["me"].VX == 99 {
		t.Error("optimistic overlay should be dropped once superseded")
	}
}

func TestOptimistic_OverlayOnSnapshotWithoutEntities(t *testing.T) {
	r := New("me")
	// A host may legitimately broadcast before any entity has spawned;
	// such a snapshot carries no entity map at all.
	if !r.OnSnapshot(snapshot.Snapshot{Sequence: 1, ProducerID: "host", Status: snapshot.StatusRunning}) {
		t.Fatal("entity-less snapshot should bootstrap")
	}

	r.ApplyLocalAction(func(ent snapshot.Entity) snapshot.Entity {
		ent.X = 7
		return ent
	})

	rv, ok := r.Render()
	if !ok {
		t.Fatal("state should be renderable after the bootstrap snapshot")
	}
	if rv.Entities["me"].X != 7 {
		t.Errorf("overlay entity = %+v, want X=7", rv.Entities["me"])
	}
}

func TestOptimistic_StaleSnapshotDoesNotClearOverlay(t *testing.T) {
	r := New("me")
	r.OnSnapshot(runningSnap(5, "me"))
	r.ApplyLocalAction(func(ent snapshot.Entity) snapshot.Entity {
		ent.VY = 42
		return ent
	})

	// A rejected duplicate must not count as supersession.
	r.OnSnapshot(runningSnap(5, "me"))
	rv, _ := r.Render()
	if rv.Entities["me"].VY != 42 {
		t.Error("overlay should survive a rejected stale snapshot")
	}
}
