// Package protocol defines the JSON messages exchanged over a room's
// websocket. The schema generator in cmd/schema reflects over these
// types so render layers can validate against them.
package protocol

import (
	"encoding/json"

	"playroom/internal/activity"
	"playroom/internal/events"
	"playroom/internal/snapshot"
)

// Client message types.
const (
	ClientAction = "action"
	ClientState  = "state" // host publishing an authoritative snapshot
	ClientReady  = "ready"
	ClientSelect = "select"
	ClientStart  = "start"
	ClientLeave  = "leave"
	ClientKick   = "kick"
	ClientResync = "resync" // explicit fresh-snapshot request
)

// Server message types.
const (
	ServerWelcome      = "welcome"
	ServerMembership   = "membership"
	ServerSnapshot     = "snapshot"
	ServerHostTransfer = "host_transfer"
	ServerAction       = "action" // relayed to the authoritative participant
	ServerError        = "error"
	ServerRoomClosed   = "room_closed"
)

// ClientMessage is everything a participant can send upstream.
type ClientMessage struct {
	Type       string             `json:"t"`
	Kind       string             `json:"kind,omitempty"`    // action kind
	Payload    json.RawMessage    `json:"payload,omitempty"` // opaque action payload
	Ready      bool               `json:"ready,omitempty"`
	ActivityID string             `json:"activity,omitempty"`
	TargetID   string             `json:"target,omitempty"` // kick target
	Snapshot   *snapshot.Snapshot `json:"snapshot,omitempty"`
}

// ServerMessage is everything the relay can push downstream.
type ServerMessage struct {
	Type       string                 `json:"t"`
	Membership *events.MembershipView `json:"membership,omitempty"`
	Snapshot   *snapshot.Snapshot     `json:"snapshot,omitempty"`
	Transfer   *events.HostTransfer   `json:"transfer,omitempty"`
	Action     *activity.Action       `json:"action,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Detail     string                 `json:"detail,omitempty"`
}
