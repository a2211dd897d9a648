// Package events carries registry notifications to the transport layer.
// Membership travels on its own channel, distinct from simulation
// snapshots: it is never throttled and never dropped on backpressure.
package events

// ParticipantView is one entry of a full membership listing.
type ParticipantView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Glyph     string `json:"glyph"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
}

// MembershipView is the complete, authoritative membership of a room at
// one point in time. Always the full list, never a delta: deltas are
// how staleness races start.
type MembershipView struct {
	RoomID       string            `json:"room"`
	Epoch        uint64            `json:"epoch"`
	HostID       string            `json:"host"`
	Status       string            `json:"status"`
	ActivityID   string            `json:"activity,omitempty"`
	Participants []ParticipantView `json:"participants"`
}

// HostTransfer announces that authority moved to a new participant. The
// transport forwards it to the new host, whose loop must resume the
// room-wide sequence counter past ResumeAfter and immediately broadcast
// a fresh full snapshot. FailureLimit is the relay's tick-failure budget
// for the host's loop.
type HostTransfer struct {
	RoomID       string `json:"room"`
	NewHostID    string `json:"host"`
	ResumeAfter  uint64 `json:"resumeAfter"`
	FailureLimit int    `json:"failureLimit,omitempty"`
}

// RoomClosed announces that a room was torn down.
type RoomClosed struct {
	RoomID string `json:"room"`
	Reason string `json:"reason"`
}

// Bus fans registry events out to the transport pump.
type Bus struct {
	Membership    chan MembershipView
	HostTransfers chan HostTransfer
	RoomClosures  chan RoomClosed
}

// NewBus returns a bus with enough buffer that the registry never stalls
// on a healthy consumer.
func NewBus() *Bus {
	return &Bus{
		Membership:    make(chan MembershipView, 64),
		HostTransfers: make(chan HostTransfer, 16),
		RoomClosures:  make(chan RoomClosed, 16),
	}
}
