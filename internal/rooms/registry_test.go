package rooms

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"playroom/internal/events"
	"playroom/internal/snapshot"
)

func testRegistry(t *testing.T, cfg Config) (*Registry, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	reg := NewRegistry(bus, cfg)
	t.Cleanup(reg.Close)
	return reg, bus
}

func drainViews(bus *events.Bus) []events.MembershipView {
	var views []events.MembershipView
	for {
		select {
		case v := <-bus.Membership:
			views = append(views, v)
		default:
			return views
		}
	}
}

func mustCreate(t *testing.T, reg *Registry, id string) (string, Participant) {
	t.Helper()
	res, err := reg.Create(Participant{ID: id, Name: "host"})
	if err != nil {
		t.Fatal(err)
	}
	return res.View.RoomID, res.Participant
}

func runningSnap(seqn uint64, producer string, entityIDs ...string) snapshot.Snapshot {
	entities := make(map[string]snapshot.Entity, len(entityIDs))
	for _, id := range entityIDs {
		entities[id] = snapshot.Entity{ID: id}
	}
	return snapshot.Snapshot{Sequence: seqn, ProducerID: producer, Entities: entities, Status: snapshot.StatusRunning}
}

func readyRoom(t *testing.T, reg *Registry) (code string, ids []string) {
	t.Helper()
	code, _ = mustCreate(t, reg, "a")
	for _, id := range []string{"b", "c"} {
		if _, err := reg.Join(code, Participant{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.SelectActivity(code, "a", "gridchase"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := reg.SetReady(code, id, true); err != nil {
			t.Fatal(err)
		}
	}
	return code, []string{"a", "b", "c"}
}

func TestCreate_HostAndCode(t *testing.T) {
	reg, bus := testRegistry(t, Config{})
	res, err := reg.Create(Participant{Name: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^[A-Z2-9]{5}$`).MatchString(res.View.RoomID) {
		t.Errorf("room code = %q, want 5 chars from the code alphabet", res.View.RoomID)
	}
	if res.Participant.ID == "" {
		t.Error("participant should get a generated id")
	}
	if res.View.HostID != res.Participant.ID {
		t.Error("creator should be host")
	}
	if res.View.Status != string(StatusWaiting) {
		t.Errorf("status = %q, want waiting", res.View.Status)
	}
	if views := drainViews(bus); len(views) != 1 {
		t.Errorf("create should emit exactly one membership view, got %d", len(views))
	}
}

func TestJoin_Errors(t *testing.T) {
	reg, _ := testRegistry(t, Config{})

	if _, err := reg.Join("ZZZZZ", Participant{ID: "x"}); err == nil {
		t.Fatal("join to nonexistent room should fail")
	} else if reason, _ := ReasonOf(err); reason != ReasonRoomNotFound {
		t.Errorf("reason = %s, want %s", reason, ReasonRoomNotFound)
	}

	code, _ := mustCreate(t, reg, "a")
	reg.End(code, "test")
	if _, err := reg.Join(code, Participant{ID: "x"}); err == nil {
		t.Fatal("join to ended room should fail")
	} else if reason, _ := ReasonOf(err); reason != ReasonRoomEnded {
		t.Errorf("reason = %s, want %s", reason, ReasonRoomEnded)
	}
}

func TestJoin_CapacityFollowsActivity(t *testing.T) {
	reg, _ := testRegistry(t, Config{})
	code, _ := mustCreate(t, reg, "a")

	// paddle caps at 2 participants.
	if err := reg.SelectActivity(code, "a", "paddle"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Join(code, Participant{ID: "b"}); err != nil {
		t.Fatal(err)
	}
	_, err := reg.Join(code, Participant{ID: "c"})
	if reason, _ := ReasonOf(err); reason != ReasonRoomFull {
		t.Fatalf("third join to paddle room: reason = %v, want %s", err, ReasonRoomFull)
	}
}

func TestSelectActivity_HostOnlyAndClear(t *testing.T) {
	reg, _ := testRegistry(t, Config{})
	code, _ := mustCreate(t, reg, "a")
	reg.Join(code, Participant{ID: "b"})

	// Non-host attempts are rejected, not silently ignored.
	err := reg.SelectActivity(code, "b", "paddle")
	if reason, _ := ReasonOf(err); reason != ReasonNotHost {
		t.Fatalf("non-host select: reason = %v, want %s", err, ReasonNotHost)
	}

	if err := reg.SelectActivity(code, "a", "nope"); err == nil {
		t.Fatal("unknown activity should be rejected")
	}

	if err := reg.SelectActivity(code, "a", "gridchase"); err != nil {
		t.Fatal(err)
	}
	room, _ := reg.Get(code)
	if room.View().ActivityID != "gridchase" {
		t.Error("activity not recorded")
	}

	// Clearing keeps participants and forces waiting.
	if err := reg.SelectActivity(code, "a", ""); err != nil {
		t.Fatal(err)
	}
	view := room.View()
	if view.ActivityID != "" || view.Status != string(StatusWaiting) {
		t.Errorf("after clear: activity=%q status=%q", view.ActivityID, view.Status)
	}
	if len(view.Participants) != 2 {
		t.Errorf("clear removed participants: %d left", len(view.Participants))
	}
}

func TestStart_Preconditions(t *testing.T) {
	reg, _ := testRegistry(t, Config{})
	code, _ := mustCreate(t, reg, "a")
	reg.Join(code, Participant{ID: "b"})

	if _, err := reg.Start(code, "a"); err == nil {
		t.Fatal("start without activity should fail")
	}
	reg.SelectActivity(code, "a", "gridchase")

	if _, err := reg.Start(code, "b"); err == nil {
		t.Fatal("non-host start should fail")
	}
	if _, err := reg.Start(code, "a"); err == nil {
		t.Fatal("start with unready participants should fail")
	}

	reg.SetReady(code, "a", true)
	reg.SetReady(code, "b", true)
	if _, err := reg.Start(code, "a"); err != nil {
		t.Fatalf("start should succeed: %v", err)
	}
	room, _ := reg.Get(code)
	if room.Status() != StatusPlaying {
		t.Error("room should be playing")
	}
	if _, err := reg.Start(code, "a"); err == nil {
		t.Error("double start should fail")
	}
}

func TestLeave_Idempotent(t *testing.T) {
	reg, bus := testRegistry(t, Config{})
	code, _ := mustCreate(t, reg, "a")
	reg.Join(code, Participant{ID: "b"})
	drainViews(bus)

	reg.Leave(code, "b")
	first := drainViews(bus)
	if len(first) != 1 {
		t.Fatalf("first leave emitted %d views, want 1", len(first))
	}
	if len(first[0].Participants) != 1 {
		t.Errorf("view after leave lists %d participants, want 1", len(first[0].Participants))
	}

	reg.Leave(code, "b")
	if again := drainViews(bus); len(again) != 0 {
		t.Errorf("second leave emitted %d views, want 0", len(again))
	}
}

func TestLeave_HostTransferContinuesSequence(t *testing.T) {
	reg, bus := testRegistry(t, Config{})
	code, ids := readyRoom(t, reg)
	if _, err := reg.Start(code, "a"); err != nil {
		t.Fatal(err)
	}
	if !reg.AcceptSnapshot(code, runningSnap(2, "a", ids...)) {
		t.Fatal("host snapshot should be accepted")
	}

	reg.Leave(code, "a")

	room, _ := reg.Get(code)
	if got := room.HostID(); got != "b" {
		t.Fatalf("host = %q, want next earliest joiner b", got)
	}
	select {
	case transfer := <-bus.HostTransfers:
		if transfer.NewHostID != "b" {
			t.Errorf("transfer to %q, want b", transfer.NewHostID)
		}
		if transfer.ResumeAfter != 2 {
			t.Errorf("ResumeAfter = %d, want 2", transfer.ResumeAfter)
		}
	case <-time.After(time.Second):
		t.Fatal("no host transfer event")
	}

	// A late duplicate from the dying old host must be rejected.
	if reg.AcceptSnapshot(code, runningSnap(2, "a", ids...)) {
		t.Error("old host's late broadcast should be rejected")
	}
	// The new host continues the room-wide counter.
	if !reg.AcceptSnapshot(code, runningSnap(3, "b", "b", "c")) {
		t.Error("new host's seq=3 broadcast should be accepted")
	}
}

func TestStart_TransferCarriesFailureLimit(t *testing.T) {
	reg, bus := testRegistry(t, Config{TickFailureLimit: 7})
	code, _ := readyRoom(t, reg)

	transfer, err := reg.Start(code, "a")
	if err != nil {
		t.Fatal(err)
	}
	if transfer.NewHostID != "a" {
		t.Errorf("transfer host = %q, want a", transfer.NewHostID)
	}
	if transfer.FailureLimit != 7 {
		t.Errorf("FailureLimit = %d, want the configured 7", transfer.FailureLimit)
	}

	// A transfer after a host departure carries the same budget.
	reg.Leave(code, "a")
	select {
	case moved := <-bus.HostTransfers:
		if moved.FailureLimit != 7 {
			t.Errorf("departure transfer FailureLimit = %d, want 7", moved.FailureLimit)
		}
	case <-time.After(time.Second):
		t.Fatal("no host transfer event")
	}
}

func TestDisconnect_KeepsSlotThenTimesOut(t *testing.T) {
	reg, _ := testRegistry(t, Config{ReconnectTimeout: 50 * time.Millisecond})
	code, _ := mustCreate(t, reg, "a")
	reg.Join(code, Participant{ID: "b"})

	reg.MarkDisconnected(code, "b")
	room, _ := reg.Get(code)
	view := room.View()
	if len(view.Participants) != 2 {
		t.Fatal("disconnect must keep the membership slot")
	}
	for _, p := range view.Participants {
		if p.ID == "b" && p.Connected {
			t.Error("b should be marked disconnected")
		}
	}

	deadline := time.After(time.Second)
	for {
		if len(room.View().Participants) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("b was never dropped after the reconnect timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReconnect_ResumesIdentity(t *testing.T) {
	reg, _ := testRegistry(t, Config{ReconnectTimeout: time.Hour})
	code, ids := readyRoom(t, reg)
	reg.Start(code, "a")
	reg.AcceptSnapshot(code, runningSnap(5, "a", ids...))

	reg.MarkDisconnected(code, "b")
	res, err := reg.Reconnect(code, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Participant.Connected {
		t.Error("reconnected participant should be connected")
	}
	if res.Snapshot == nil || res.Snapshot.Sequence != 5 {
		t.Fatalf("reconnect must return the full current snapshot, got %+v", res.Snapshot)
	}

	if _, err := reg.Reconnect(code, "zz"); err == nil {
		t.Fatal("reconnect for a non-member should fail")
	} else if reason, _ := ReasonOf(err); reason != ReasonNotMember {
		t.Errorf("reason = %s, want %s", reason, ReasonNotMember)
	}

	if _, err := reg.Reconnect("ZZZZZ", "b"); err == nil {
		t.Fatal("reconnect to a missing room should fail")
	}
}

func TestHostDisconnect_TransfersImmediately(t *testing.T) {
	reg, bus := testRegistry(t, Config{ReconnectTimeout: time.Hour})
	code, _ := readyRoom(t, reg)
	reg.Start(code, "a")
	for {
		// Drain transfer noise from setup, if any.
		select {
		case <-bus.HostTransfers:
			continue
		default:
		}
		break
	}

	reg.MarkDisconnected(code, "a")
	room, _ := reg.Get(code)
	if got := room.HostID(); got != "b" {
		t.Fatalf("host = %q, want b", got)
	}
	select {
	case transfer := <-bus.HostTransfers:
		if transfer.NewHostID != "b" {
			t.Errorf("transfer to %q, want b", transfer.NewHostID)
		}
	default:
		t.Fatal("no transfer event on host disconnect")
	}
}

func TestAcceptSnapshot_GameOverSettlesRoom(t *testing.T) {
	var mu sync.Mutex
	var recorded []Outcome
	reg, _ := testRegistry(t, Config{RecordOutcome: func(o Outcome) {
		mu.Lock()
		recorded = append(recorded, o)
		mu.Unlock()
	}})
	code, _ := readyRoom(t, reg)
	reg.Start(code, "a")

	final := runningSnap(9, "a", "a", "b", "c")
	final.Status = snapshot.StatusGameOver
	final.WinnerID = "c"
	ent := final.Entities["c"]
	ent.Score = 20
	final.Entities["c"] = ent

	if !reg.AcceptSnapshot(code, final) {
		t.Fatal("terminal snapshot should be accepted")
	}

	room, _ := reg.Get(code)
	if room.Status() != StatusWaiting {
		t.Error("room should return to waiting after game over")
	}
	for _, p := range room.View().Participants {
		if p.Ready {
			t.Errorf("%s should be un-readied after the match", p.ID)
		}
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(recorded)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("outcome was never recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if recorded[0].WinnerID != "c" || recorded[0].ActivityID != "gridchase" {
		t.Errorf("outcome = %+v", recorded[0])
	}
	for _, pr := range recorded[0].Players {
		if pr.ID == "c" && pr.Score != 20 {
			t.Errorf("winner score = %d, want 20", pr.Score)
		}
	}
}

func TestAcceptSnapshot_ErroredEndsRoom(t *testing.T) {
	reg, bus := testRegistry(t, Config{})
	code, ids := readyRoom(t, reg)
	reg.Start(code, "a")

	final := runningSnap(3, "a", ids...)
	final.Status = snapshot.StatusErrored
	if !reg.AcceptSnapshot(code, final) {
		t.Fatal("errored snapshot should be accepted")
	}

	room, _ := reg.Get(code)
	if room.Status() != StatusEnded {
		t.Error("room should be ended after a fatal simulation failure")
	}
	select {
	case closed := <-bus.RoomClosures:
		if closed.Reason != "simulation_failure" {
			t.Errorf("close reason = %q", closed.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("no room-closed event")
	}
}

func TestEmptyRoom_DestroyedAndCloseWins(t *testing.T) {
	reg, bus := testRegistry(t, Config{})
	code, _ := mustCreate(t, reg, "a")

	reg.Leave(code, "a")

	if _, ok := reg.Get(code); ok {
		t.Fatal("empty room should be destroyed")
	}
	select {
	case closed := <-bus.RoomClosures:
		if closed.Reason != "empty" {
			t.Errorf("close reason = %q, want empty", closed.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("no room-closed event")
	}

	// A final in-flight broadcast arriving after the close is dropped.
	if reg.AcceptSnapshot(code, runningSnap(1, "a", "a")) {
		t.Error("broadcast after close should not be accepted")
	}
}

func TestConcurrentJoinLeave_Serialized(t *testing.T) {
	reg, _ := testRegistry(t, Config{})
	code, _ := mustCreate(t, reg, "host")

	var wg sync.WaitGroup
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('b' + n))
			if _, err := reg.Join(code, Participant{ID: id}); err != nil {
				return
			}
			reg.SetReady(code, id, true)
			reg.Leave(code, id)
		}(i)
	}
	wg.Wait()

	room, ok := reg.Get(code)
	if !ok {
		t.Fatal("room should survive, host never left")
	}
	view := room.View()
	if len(view.Participants) != 1 || view.Participants[0].ID != "host" {
		t.Errorf("unexpected membership after churn: %+v", view.Participants)
	}
}
