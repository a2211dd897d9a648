package activity

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"playroom/internal/snapshot"
)

// Rules parameterizes the built-in kinematic simulation shared by the
// bundled activities. Real games replace this with their own Simulation;
// the bundled one keeps every activity playable end to end and gives the
// test suite a deterministic workload.
type Rules struct {
	Width, Height      float64
	Speed              float64 // units per second at full input
	EliminateOnContact bool    // touching entities eliminate each other's slower member
	TargetScore        int     // 0 disables score-based wins
	ContactRadius      float64
}

type kinematic struct {
	rules    Rules
	entities map[string]*snapshot.Entity
	order    []string // join order, for deterministic iteration
	over     bool
	winnerID string
}

// NewKinematic builds a Simulation implementing the shared movement,
// scoring, and elimination rules.
func NewKinematic(rules Rules) Simulation {
	if rules.ContactRadius == 0 {
		rules.ContactRadius = 16
	}
	return &kinematic{
		rules:    rules,
		entities: make(map[string]*snapshot.Entity),
	}
}

type directionPayload struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type scorePayload struct {
	Points int `json:"points"`
}

func (k *kinematic) AddEntity(participantID string) {
	if _, ok := k.entities[participantID]; ok {
		return
	}
	// Spread spawn points across the vertical midline by join order.
	x := math.Mod(float64(len(k.order)+1)*k.rules.Width/8, k.rules.Width)
	k.entities[participantID] = &snapshot.Entity{ID: participantID, X: x, Y: k.rules.Height / 2}
	k.order = append(k.order, participantID)
}

func (k *kinematic) RemoveEntity(participantID string) {
	delete(k.entities, participantID)
	for i, id := range k.order {
		if id == participantID {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
}

func (k *kinematic) Advance(dt time.Duration, actions []Action) error {
	if k.over {
		return nil
	}

	for _, action := range actions {
		ent, ok := k.entities[action.ParticipantID]
		if !ok {
			// The actor departed after sending; nothing to apply.
			continue
		}
		switch action.Kind {
		case "direction":
			var p directionPayload
			if err := json.Unmarshal(action.Payload, &p); err != nil {
				return fmt.Errorf("direction payload: %w", err)
			}
			ent.VX = clamp(p.DX, -1, 1) * k.rules.Speed
			ent.VY = clamp(p.DY, -1, 1) * k.rules.Speed
		case "halt":
			ent.VX, ent.VY = 0, 0
		case "score":
			var p scorePayload
			if err := json.Unmarshal(action.Payload, &p); err != nil {
				return fmt.Errorf("score payload: %w", err)
			}
			ent.Score += p.Points
		default:
			return fmt.Errorf("unknown action kind %q", action.Kind)
		}
	}

	secs := dt.Seconds()
	for _, id := range k.order {
		ent := k.entities[id]
		if ent.Eliminated {
			continue
		}
		ent.X = clamp(ent.X+ent.VX*secs, 0, k.rules.Width)
		ent.Y = clamp(ent.Y+ent.VY*secs, 0, k.rules.Height)
	}

	if k.rules.EliminateOnContact {
		k.resolveContacts()
	}
	k.checkResult()
	return nil
}

func (k *kinematic) resolveContacts() {
	for i := 0; i < len(k.order); i++ {
		for j := i + 1; j < len(k.order); j++ {
			a, b := k.entities[k.order[i]], k.entities[k.order[j]]
			if a.Eliminated || b.Eliminated {
				continue
			}
			dx, dy := a.X-b.X, a.Y-b.Y
			if math.Hypot(dx, dy) > k.rules.ContactRadius {
				continue
			}
			// The slower entity is knocked out.
			if speed(a) >= speed(b) {
				b.Eliminated = true
				a.Score++
			} else {
				a.Eliminated = true
				b.Score++
			}
		}
	}
}

func (k *kinematic) checkResult() {
	if k.rules.TargetScore > 0 {
		for _, id := range k.order {
			if k.entities[id].Score >= k.rules.TargetScore {
				k.over, k.winnerID = true, id
				return
			}
		}
	}
	if k.rules.EliminateOnContact && len(k.order) > 1 {
		var alive []string
		for _, id := range k.order {
			if !k.entities[id].Eliminated {
				alive = append(alive, id)
			}
		}
		if len(alive) == 1 {
			k.over, k.winnerID = true, alive[0]
		}
	}
}

func (k *kinematic) Entities() map[string]snapshot.Entity {
	out := make(map[string]snapshot.Entity, len(k.entities))
	for id, ent := range k.entities {
		out[id] = *ent
	}
	return out
}

func (k *kinematic) Result() (bool, string) {
	return k.over, k.winnerID
}

func speed(e *snapshot.Entity) float64 {
	return math.Hypot(e.VX, e.VY)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
