package snapshot

import (
	"log"
	"sync"
	"time"
)

// DefaultSuspicionWindow covers roughly two broadcast intervals at the
// default cadence. Within this window after a locally observed departure,
// a snapshot that grows the entity set is rejected as suspect: "a player
// left" is a locally confirmed fact a race must not undo, whereas "a
// player joined" can always be deferred one cycle.
const DefaultSuspicionWindow = 400 * time.Millisecond

const subscriberBuffer = 16

// Store keeps the last accepted snapshot for one room.
type Store struct {
	mu            sync.Mutex
	latest        *Snapshot
	producerGate  string
	gated         bool
	window        time.Duration
	lastDeparture time.Time
	subs          map[chan Snapshot]bool
	rejected      func(Snapshot, RejectReason)
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSuspicionWindow overrides the departure suspicion window.
func WithSuspicionWindow(d time.Duration) Option {
	return func(s *Store) { s.window = d }
}

// WithRejectFunc installs a hook invoked on every rejection, after the
// internal log line. Used for metrics.
func WithRejectFunc(fn func(Snapshot, RejectReason)) Option {
	return func(s *Store) { s.rejected = fn }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty store that accepts the first snapshot
// unconditionally.
func NewStore(opts ...Option) *Store {
	s := &Store{
		window: DefaultSuspicionWindow,
		subs:   make(map[chan Snapshot]bool),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetProducerGate restricts accepted snapshots to the given producer.
// The relay points this at the room's current host so a dying old host
// cannot slip a broadcast in after authority transferred. Gating to the
// empty id means no producer is currently trusted. Ungated stores
// (client reconcilers) accept any producer.
func (s *Store) SetProducerGate(producerID string) {
	s.mu.Lock()
	s.producerGate = producerID
	s.gated = true
	s.mu.Unlock()
}

// ClearProducerGate returns the store to accepting any producer.
func (s *Store) ClearProducerGate() {
	s.mu.Lock()
	s.producerGate = ""
	s.gated = false
	s.mu.Unlock()
}

// NoteDeparture records that a membership departure was observed locally,
// opening the suspicion window.
func (s *Store) NoteDeparture() {
	s.mu.Lock()
	s.lastDeparture = s.now()
	s.mu.Unlock()
}

// Accept applies the snapshot if it is trustworthy and reports whether it
// replaced the stored one. Rejections are silent to the caller beyond the
// returned bool.
func (s *Store) Accept(snap Snapshot) bool {
	s.mu.Lock()

	if s.gated && snap.ProducerID != s.producerGate {
		s.rejectLocked(snap, RejectProducer)
		s.mu.Unlock()
		return false
	}

	if s.latest != nil {
		if snap.Sequence <= s.latest.Sequence {
			s.rejectLocked(snap, RejectStale)
			s.mu.Unlock()
			return false
		}
		if len(snap.Entities) > len(s.latest.Entities) && s.inSuspicionWindowLocked() {
			s.rejectLocked(snap, RejectSuspect)
			s.mu.Unlock()
			return false
		}
	}

	stored := snap.Clone()
	s.latest = &stored
	notify := stored.Clone()
	subs := make([]chan Snapshot, 0, len(s.subs))
	for ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- notify:
		default:
			// Slow subscriber; the next accepted snapshot is full state.
		}
	}
	return true
}

func (s *Store) inSuspicionWindowLocked() bool {
	if s.lastDeparture.IsZero() {
		return false
	}
	return s.now().Sub(s.lastDeparture) < s.window
}

func (s *Store) rejectLocked(snap Snapshot, reason RejectReason) {
	log.Printf("[Snapshot] rejected seq=%d producer=%s reason=%s", snap.Sequence, snap.ProducerID, reason)
	if s.rejected != nil {
		s.rejected(snap, reason)
	}
}

// Latest returns a copy of the stored snapshot, if any.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	return s.latest.Clone(), true
}

// LastSequence returns the sequence of the stored snapshot, or 0.
func (s *Store) LastSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return 0
	}
	return s.latest.Sequence
}

// Reset discards all stored state. A reconnecting participant must not
// trust anything cached across the disconnect gap.
func (s *Store) Reset() {
	s.mu.Lock()
	s.latest = nil
	s.lastDeparture = time.Time{}
	s.mu.Unlock()
}

// Subscribe returns a channel that receives every accepted snapshot.
// Delivery is best-effort; a full channel is skipped, never blocked on.
func (s *Store) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = true
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel. Idempotent.
func (s *Store) Unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	_, ok := s.subs[ch]
	delete(s.subs, ch)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}
