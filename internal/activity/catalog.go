package activity

import "time"

// The bundled catalog. Tick cadence is per activity; broadcasts run at a
// fraction of the tick rate so simulation fidelity stays decoupled from
// network cost.
func init() {
	Register(Info{
		ID:             "paddle",
		Name:           "Paddle Duel",
		MinPlayers:     2,
		MaxPlayers:     2,
		TickInterval:   time.Second / 60,
		BroadcastEvery: 3,
		New: func() Simulation {
			return NewKinematic(Rules{Width: 800, Height: 450, Speed: 320, TargetScore: 7})
		},
	})
	Register(Info{
		ID:             "memory",
		Name:           "Memory Match",
		MinPlayers:     2,
		MaxPlayers:     4,
		TickInterval:   time.Second / 10,
		BroadcastEvery: 2,
		New: func() Simulation {
			return NewKinematic(Rules{Width: 640, Height: 640, Speed: 0, TargetScore: 8})
		},
	})
	Register(Info{
		ID:             "gridchase",
		Name:           "Grid Chase",
		MinPlayers:     2,
		MaxPlayers:     6,
		TickInterval:   time.Second / 30,
		BroadcastEvery: 3,
		New: func() Simulation {
			return NewKinematic(Rules{Width: 960, Height: 960, Speed: 240, TargetScore: 20})
		},
	})
	Register(Info{
		ID:             "arena",
		Name:           "Arena Elimination",
		MinPlayers:     2,
		MaxPlayers:     8,
		TickInterval:   time.Second / 60,
		BroadcastEvery: 4,
		New: func() Simulation {
			return NewKinematic(Rules{Width: 1200, Height: 800, Speed: 280, EliminateOnContact: true})
		},
	})
}
