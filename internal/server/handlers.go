package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"playroom/internal/activity"
	"playroom/internal/db"
	"playroom/internal/events"
	"playroom/internal/hub"
	"playroom/internal/metrics"
	"playroom/internal/protocol"
	"playroom/internal/rooms"
)

// joinRequest is the body of room creation and join calls. Everything is
// optional; missing fields get server-side defaults.
type joinRequest struct {
	ID    string `json:"id,omitempty"` // rejoin with a prior identity
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
	Glyph string `json:"glyph,omitempty"`
}

type errorResponse struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req joinRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := s.reg.Create(rooms.Participant{
		Name:  req.Name,
		Color: req.Color,
		Glyph: req.Glyph,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.ActiveRooms.Inc()

	writeJSON(w, http.StatusCreated, joinResult(res))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req joinRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	code := strings.ToUpper(ps.ByName("code"))
	res, err := s.reg.Join(code, rooms.Participant{
		ID:    req.ID,
		Name:  req.Name,
		Color: req.Color,
		Glyph: req.Glyph,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, joinResult(res))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	code := strings.ToUpper(ps.ByName("code"))
	room, ok := s.reg.Get(code)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Reason: string(rooms.ReasonRoomNotFound)})
		return
	}
	writeJSON(w, http.StatusOK, room.View())
}

// activityJSON is the catalog entry shape exposed to render layers.
type activityJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

func (s *Server) handleActivities(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	list := activity.List()
	out := make([]activityJSON, 0, len(list))
	for _, info := range list {
		out = append(out, activityJSON{
			ID:         info.ID,
			Name:       info.Name,
			MinPlayers: info.MinPlayers,
			MaxPlayers: info.MaxPlayers,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleQR renders the room's join URL as a PNG for cross-device joins.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := strings.ToUpper(ps.ByName("code"))
	if _, ok := s.reg.Get(code); !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Reason: string(rooms.ReasonRoomNotFound)})
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := fmt.Sprintf("%s://%s/rooms/%s", scheme, r.Host, code)

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// handleMatchHistory serves the room's recent results. Without a
// database there is simply no history.
func (s *Server) handleMatchHistory(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	code := strings.ToUpper(ps.ByName("code"))
	if s.db == nil {
		writeJSON(w, http.StatusOK, []db.MatchRecord{})
		return
	}
	history, err := s.db.MatchHistory(code, 20)
	if err != nil {
		log.Printf("[Server] match history for %s: %v", code, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Reason: "internal"})
		return
	}
	if history == nil {
		history = []db.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"db_error","error":"%s"}`, err.Error())
			return
		}
	}
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleWS is the realtime attachment. The participant must already hold
// a membership slot from a create or join call; attaching again after a
// drop resumes it and the welcome carries a fresh full snapshot.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := strings.ToUpper(ps.ByName("code"))
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		http.Error(w, "missing participant id", http.StatusBadRequest)
		return
	}

	res, err := s.reg.Reconnect(code, participantID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // browser clients join from arbitrary origins via the QR code
	})
	if err != nil {
		log.Printf("[Server] websocket accept: %v", err)
		return
	}

	h := s.hubFor(code)
	client := hub.NewClient(participantID, conn)
	h.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)

	h.SendControl(participantID, protocol.ServerMessage{
		Type:       protocol.ServerWelcome,
		Membership: &res.View,
		Snapshot:   res.Snapshot,
	})

	s.readLoop(r, conn, code, participantID)

	// A fast rejoin may already have replaced this attachment; only the
	// active one reports the participant as disconnected.
	if h.Detach(client) {
		s.reg.MarkDisconnected(code, participantID)
	}
}

func (s *Server) readLoop(r *http.Request, conn *websocket.Conn, code, participantID string) {
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendProtocolError(code, participantID, "bad_message", err.Error())
			continue
		}
		s.dispatch(code, participantID, msg)
	}
}

// dispatch routes one upstream message. Room operations answer failures
// with an error control message; the connection itself stays up.
func (s *Server) dispatch(code, participantID string, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.ClientAction:
		s.relayAction(code, participantID, msg)

	case protocol.ClientState:
		s.ingestState(code, participantID, msg)

	case protocol.ClientReady:
		if err := s.reg.SetReady(code, participantID, msg.Ready); err != nil {
			s.sendError(code, participantID, err)
		}

	case protocol.ClientSelect:
		if err := s.reg.SelectActivity(code, participantID, msg.ActivityID); err != nil {
			s.sendError(code, participantID, err)
		}

	case protocol.ClientStart:
		transfer, err := s.reg.Start(code, participantID)
		if err != nil {
			s.sendError(code, participantID, err)
			return
		}
		// The starter is the authoritative producer; it learns where the
		// room-wide sequence left off the same way a transferred host does.
		s.hubFor(code).SendControl(participantID, protocol.ServerMessage{
			Type:     protocol.ServerHostTransfer,
			Transfer: &transfer,
		})

	case protocol.ClientLeave:
		s.reg.Leave(code, participantID)
		s.hubFor(code).Unregister(participantID)

	case protocol.ClientKick:
		if err := s.reg.Kick(code, participantID, msg.TargetID); err != nil {
			s.sendError(code, participantID, err)
			return
		}
		s.hubFor(code).Unregister(msg.TargetID)

	case protocol.ClientResync:
		room, ok := s.reg.Get(code)
		if !ok {
			s.sendProtocolError(code, participantID, string(rooms.ReasonRoomNotFound), "")
			return
		}
		if snap, ok := room.Store().Latest(); ok {
			s.hubFor(code).SendControl(participantID, protocol.ServerMessage{
				Type:     protocol.ServerSnapshot,
				Snapshot: &snap,
			})
		}

	default:
		s.sendProtocolError(code, participantID, "bad_message", fmt.Sprintf("unknown type %q", msg.Type))
	}
}

// relayAction forwards a participant intent to the current authority.
// Actions are fire-and-forget; if there is no connected host the action
// is dropped and the sender's prediction gets corrected by the next
// snapshot it does receive.
func (s *Server) relayAction(code, participantID string, msg protocol.ClientMessage) {
	room, ok := s.reg.Get(code)
	if !ok {
		s.sendProtocolError(code, participantID, string(rooms.ReasonRoomNotFound), "")
		return
	}
	hostID := room.HostID()
	if hostID == "" {
		return
	}
	act := activity.Action{
		RoomID:        code,
		ParticipantID: participantID,
		Kind:          msg.Kind,
		Payload:       msg.Payload,
		IssuedAt:      time.Now(),
	}
	if s.hubFor(code).SendControl(hostID, protocol.ServerMessage{
		Type:   protocol.ServerAction,
		Action: &act,
	}) {
		metrics.ActionsRelayed.Inc()
		s.logf("[Server] relayed %s action from %s to %s in %s", act.Kind, participantID, hostID, code)
	}
}

// ingestState runs a host broadcast through the room's staleness rules
// and fans accepted ones out. The producer id is stamped here from the
// authenticated attachment, never trusted from the payload.
func (s *Server) ingestState(code, participantID string, msg protocol.ClientMessage) {
	if msg.Snapshot == nil {
		s.sendProtocolError(code, participantID, "bad_message", "state without snapshot")
		return
	}
	snap := *msg.Snapshot
	snap.ProducerID = participantID
	snap.ServerTime = time.Now().UnixMilli()

	if !s.reg.AcceptSnapshot(code, snap) {
		return
	}
	metrics.SnapshotsAccepted.Inc()
	s.logf("[Server] accepted snapshot seq=%d from %s in %s", snap.Sequence, participantID, code)

	out := protocol.ServerMessage{Type: protocol.ServerSnapshot, Snapshot: &snap}
	h := s.hubFor(code)
	if snap.Terminal() {
		// Terminal state must reach everyone; it rides the control path.
		h.BroadcastControl(out)
		return
	}
	h.BroadcastSnapshot(out)
}

func (s *Server) sendError(code, participantID string, err error) {
	reason, ok := rooms.ReasonOf(err)
	if !ok {
		s.sendProtocolError(code, participantID, "internal", err.Error())
		return
	}
	s.sendProtocolError(code, participantID, string(reason), err.Error())
}

func (s *Server) sendProtocolError(code, participantID, reason, detail string) {
	s.hubFor(code).SendControl(participantID, protocol.ServerMessage{
		Type:   protocol.ServerError,
		Reason: reason,
		Detail: detail,
	})
}

func joinResult(res rooms.JoinResult) map[string]any {
	out := map[string]any{
		"participant": events.ParticipantView{
			ID:        res.Participant.ID,
			Name:      res.Participant.Name,
			Color:     res.Participant.Color,
			Glyph:     res.Participant.Glyph,
			Ready:     res.Participant.Ready,
			Connected: res.Participant.Connected,
		},
		"view": res.View,
	}
	if res.Snapshot != nil {
		out["snapshot"] = res.Snapshot
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Server] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	reason, ok := rooms.ReasonOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Reason: "internal", Detail: err.Error()})
		return
	}
	writeJSON(w, statusFor(reason), errorResponse{Reason: string(reason), Detail: err.Error()})
}

func statusFor(reason rooms.Reason) int {
	switch reason {
	case rooms.ReasonRoomNotFound, rooms.ReasonNotMember:
		return http.StatusNotFound
	case rooms.ReasonNotHost:
		return http.StatusForbidden
	case rooms.ReasonRoomFull, rooms.ReasonRoomEnded, rooms.ReasonAlreadyPlaying,
		rooms.ReasonNotPlaying, rooms.ReasonNotReady, rooms.ReasonNoActivity,
		rooms.ReasonTooFewPlayers:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
