// Package sim runs the authoritative simulation loop for one room. It
// executes only on the process of the participant currently holding
// authority; everybody else consumes its broadcasts.
package sim

import (
	"context"
	"log"
	"time"

	"playroom/internal/activity"
	"playroom/internal/seq"
	"playroom/internal/snapshot"
)

const (
	defaultTickInterval   = time.Second / 30
	defaultBroadcastEvery = 3
	defaultFailureLimit   = 5
	actionQueueSize       = 256
)

// Config wires a loop to its room.
type Config struct {
	RoomID     string
	ProducerID string
	Sim        activity.Simulation
	// TickInterval is the fixed simulation step.
	TickInterval time.Duration
	// BroadcastEvery throttles network cost: only every Nth candidate
	// snapshot is broadcast. Terminal snapshots ignore the throttle.
	BroadcastEvery int
	// FailureLimit is how many consecutive tick failures force the room
	// to end with an errored snapshot. Hosts take it from the transfer
	// event that granted them authority.
	FailureLimit int
	// ResumeAfter seeds the sequence clock past the last sequence seen
	// room-wide, so a transferred host never re-issues old numbers.
	ResumeAfter uint64
	// Broadcast hands a snapshot to the transport. It must not block;
	// backpressure is the transport's problem, never the loop's.
	Broadcast func(snapshot.Snapshot)
	// HasAuthority is consulted every tick. The loop stops as soon as it
	// reports false: ticking without authority is the double-authority
	// bug class this guards against.
	HasAuthority func() bool
}

// Loop drives one room's simulation at a fixed rate.
type Loop struct {
	cfg     Config
	clock   *seq.Clock
	actions chan activity.Action
	done    chan struct{}
}

// NewLoop validates the config and prepares a loop. Run starts it.
func NewLoop(cfg Config) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.BroadcastEvery <= 0 {
		cfg.BroadcastEvery = defaultBroadcastEvery
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = defaultFailureLimit
	}
	clock := seq.NewClock()
	clock.ResumeAfter(cfg.ResumeAfter)
	return &Loop{
		cfg:     cfg,
		clock:   clock,
		actions: make(chan activity.Action, actionQueueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue hands a discrete action to the loop without blocking. Actions
// arriving after a tick boundary apply to the next tick. Returns false
// if the queue is full and the action was dropped.
func (l *Loop) Enqueue(action activity.Action) bool {
	select {
	case l.actions <- action:
		return true
	default:
		log.Printf("[Sim] %s action queue full, dropping %s from %s",
			l.cfg.RoomID, action.Kind, action.ParticipantID)
		return false
	}
}

// Done is closed when the loop has fully stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run ticks until the context is cancelled, authority is lost, or the
// simulation reaches a terminal state. The first broadcast is immediate:
// a freshly started (or freshly transferred) host must publish full
// state before settling into the throttled cadence.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	l.cfg.Broadcast(l.candidate(snapshot.StatusRunning, ""))

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	ticks := 0
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !l.cfg.HasAuthority() {
			log.Printf("[Sim] %s authority lost, stopping loop for %s", l.cfg.RoomID, l.cfg.ProducerID)
			return
		}

		if err := l.cfg.Sim.Advance(l.cfg.TickInterval, l.drainActions()); err != nil {
			failures++
			log.Printf("[Sim] %s tick failed (%d/%d): %v", l.cfg.RoomID, failures, l.cfg.FailureLimit, err)
			if failures >= l.cfg.FailureLimit {
				l.cfg.Broadcast(l.candidate(snapshot.StatusErrored, ""))
				return
			}
			// Transient: skip this tick's broadcast, retry next tick.
			continue
		}
		failures = 0
		ticks++

		if over, winnerID := l.cfg.Sim.Result(); over {
			// Terminal state rides in the snapshot itself so late
			// joiners converge from a single artifact.
			l.cfg.Broadcast(l.candidate(snapshot.StatusGameOver, winnerID))
			return
		}

		candidate := l.candidate(snapshot.StatusRunning, "")
		if ticks%l.cfg.BroadcastEvery == 0 {
			l.cfg.Broadcast(candidate)
		}
	}
}

// drainActions takes everything queued before this tick boundary, in
// arrival order. Later arrivals wait for the next tick.
func (l *Loop) drainActions() []activity.Action {
	n := len(l.actions)
	if n == 0 {
		return nil
	}
	batch := make([]activity.Action, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, <-l.actions)
	}
	return batch
}

func (l *Loop) candidate(status snapshot.Status, winnerID string) snapshot.Snapshot {
	return snapshot.Snapshot{
		Sequence:   l.clock.Next(),
		ProducerID: l.cfg.ProducerID,
		Entities:   l.cfg.Sim.Entities(),
		Status:     status,
		WinnerID:   winnerID,
		ServerTime: time.Now().UnixMilli(),
	}
}
