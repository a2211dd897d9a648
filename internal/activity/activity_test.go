package activity

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCatalog_BundledActivities(t *testing.T) {
	for _, id := range []string{"paddle", "memory", "gridchase", "arena"} {
		info, ok := Lookup(id)
		if !ok {
			t.Fatalf("Lookup(%q) not found", id)
		}
		if info.MaxPlayers < info.MinPlayers {
			t.Errorf("%s: MaxPlayers %d < MinPlayers %d", id, info.MaxPlayers, info.MinPlayers)
		}
		if info.BroadcastEvery < 2 || info.BroadcastEvery > 5 {
			t.Errorf("%s: BroadcastEvery = %d, want within 2..5", id, info.BroadcastEvery)
		}
		if info.New == nil {
			t.Errorf("%s: missing simulation factory", id)
		}
	}
}

func TestList_Sorted(t *testing.T) {
	list := List()
	if len(list) < 4 {
		t.Fatalf("List() returned %d activities, want at least 4", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("List() not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

func dirAction(participant string, dx, dy float64) Action {
	payload, _ := json.Marshal(map[string]float64{"dx": dx, "dy": dy})
	return Action{ParticipantID: participant, Kind: "direction", Payload: payload}
}

func TestKinematic_DirectionMovesEntity(t *testing.T) {
	sim := NewKinematic(Rules{Width: 100, Height: 100, Speed: 10})
	sim.AddEntity("p1")

	if err := sim.Advance(time.Second, []Action{dirAction("p1", 1, 0)}); err != nil {
		t.Fatal(err)
	}
	before := sim.Entities()["p1"].X

	if err := sim.Advance(time.Second, nil); err != nil {
		t.Fatal(err)
	}
	after := sim.Entities()["p1"].X
	if after <= before {
		t.Errorf("entity did not keep moving: %f -> %f", before, after)
	}
	if after > 100 {
		t.Errorf("entity escaped the field: x = %f", after)
	}
}

func TestKinematic_ActionForDepartedEntityIgnored(t *testing.T) {
	sim := NewKinematic(Rules{Width: 100, Height: 100, Speed: 10})
	sim.AddEntity("p1")
	sim.RemoveEntity("p1")

	if err := sim.Advance(time.Second, []Action{dirAction("p1", 1, 0)}); err != nil {
		t.Errorf("action for a departed entity should be ignored, got %v", err)
	}
}

func TestKinematic_UnknownActionKindFailsTick(t *testing.T) {
	sim := NewKinematic(Rules{Width: 100, Height: 100, Speed: 10})
	sim.AddEntity("p1")

	err := sim.Advance(time.Second, []Action{{ParticipantID: "p1", Kind: "teleport"}})
	if err == nil {
		t.Error("unknown action kind should fail the tick")
	}
}

func TestKinematic_ScoreWin(t *testing.T) {
	sim := NewKinematic(Rules{Width: 100, Height: 100, TargetScore: 3})
	sim.AddEntity("p1")
	sim.AddEntity("p2")

	payload, _ := json.Marshal(map[string]int{"points": 3})
	if err := sim.Advance(time.Second, []Action{{ParticipantID: "p2", Kind: "score", Payload: payload}}); err != nil {
		t.Fatal(err)
	}

	over, winner := sim.Result()
	if !over || winner != "p2" {
		t.Errorf("Result() = %v, %q; want game over won by p2", over, winner)
	}
}

func TestKinematic_LastSurvivorWins(t *testing.T) {
	sim := NewKinematic(Rules{Width: 100, Height: 100, Speed: 50, EliminateOnContact: true, ContactRadius: 200})
	sim.AddEntity("p1")
	sim.AddEntity("p2")

	// p1 moves, p2 stands still; with the oversized contact radius they
	// collide immediately and the slower entity is eliminated.
	if err := sim.Advance(time.Second/10, []Action{dirAction("p1", 1, 0)}); err != nil {
		t.Fatal(err)
	}

	over, winner := sim.Result()
	if !over || winner != "p1" {
		t.Errorf("Result() = %v, %q; want p1 as last survivor", over, winner)
	}
	if !sim.Entities()["p2"].Eliminated {
		t.Error("p2 should be eliminated")
	}
}
