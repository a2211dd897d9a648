package rooms

import "fmt"

// Reason is the wire-level code attached to a rejected room operation.
// Protocol errors are rejected synchronously with no state mutation.
type Reason string

const (
	ReasonRoomNotFound   = Reason("room_not_found")
	ReasonRoomEnded      = Reason("room_ended")
	ReasonRoomFull       = Reason("room_full")
	ReasonNotHost        = Reason("not_host")
	ReasonNotMember      = Reason("not_member")
	ReasonAlreadyPlaying = Reason("already_playing")
	ReasonNotPlaying     = Reason("not_playing")
	ReasonNotReady       = Reason("not_ready")
	ReasonNoActivity     = Reason("no_activity")
	ReasonTooFewPlayers  = Reason("too_few_players")
)

// ProtocolError is returned to the caller of a rejected operation.
type ProtocolError struct {
	Reason Reason
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func protoErr(reason Reason, format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the protocol reason from an error, if it carries one.
func ReasonOf(err error) (Reason, bool) {
	if pe, ok := err.(*ProtocolError); ok {
		return pe.Reason, true
	}
	return "", false
}
