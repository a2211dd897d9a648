package db

import (
	"fmt"
	"log"
	"time"

	"playroom/internal/rooms"
)

const outcomeBuffer = 256

// MatchRecord is one persisted match result.
type MatchRecord struct {
	ID         string
	RoomCode   string
	ActivityID string
	WinnerID   string
	StartedAt  time.Time
	EndedAt    time.Time
	Players    []MatchPlayer
}

// MatchPlayer is one participant's final standing in a match.
type MatchPlayer struct {
	ParticipantID string
	Name          string
	Score         int
	Won           bool
}

// RecordMatch writes one outcome and its per-player rows atomically.
func (d *DB) RecordMatch(o rooms.Outcome) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning match tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(`
		INSERT INTO matches (room_code, activity_id, winner_id, started_at, ended_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id
	`, o.RoomCode, o.ActivityID, o.WinnerID, o.StartedAt, o.EndedAt).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting match: %w", err)
	}

	for _, p := range o.Players {
		if _, err := tx.Exec(`
			INSERT INTO match_players (match_id, participant_id, name, score, won)
			VALUES ($1, $2, $3, $4, $5)
		`, id, p.ID, p.Name, p.Score, p.ID == o.WinnerID); err != nil {
			return fmt.Errorf("inserting match player: %w", err)
		}
	}

	return tx.Commit()
}

// MatchHistory returns the most recent matches played in a room, newest
// first, with their player rows attached.
func (d *DB) MatchHistory(roomCode string, limit int) ([]MatchRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, room_code, activity_id, COALESCE(winner_id, ''), started_at, ended_at
		FROM matches
		WHERE room_code = $1
		ORDER BY ended_at DESC
		LIMIT $2
	`, roomCode, limit)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var m MatchRecord
		if err := rows.Scan(&m.ID, &m.RoomCode, &m.ActivityID, &m.WinnerID, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		players, err := d.matchPlayers(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Players = players
	}
	return out, nil
}

func (d *DB) matchPlayers(matchID string) ([]MatchPlayer, error) {
	rows, err := d.conn.Query(`
		SELECT participant_id, name, score, won
		FROM match_players
		WHERE match_id = $1
		ORDER BY score DESC
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("querying match players: %w", err)
	}
	defer rows.Close()

	var out []MatchPlayer
	for rows.Next() {
		var p MatchPlayer
		if err := rows.Scan(&p.ParticipantID, &p.Name, &p.Score, &p.Won); err != nil {
			return nil, fmt.Errorf("scanning match player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OutcomeWriter decouples match persistence from room settlement. Writes
// happen on a single goroutine; a full buffer drops the outcome rather
// than ever stalling the registry.
type OutcomeWriter struct {
	db   *DB
	ch   chan rooms.Outcome
	done chan struct{}
}

func NewOutcomeWriter(db *DB) *OutcomeWriter {
	w := &OutcomeWriter{
		db:   db,
		ch:   make(chan rooms.Outcome, outcomeBuffer),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues one outcome. Never blocks.
func (w *OutcomeWriter) Record(o rooms.Outcome) {
	select {
	case w.ch <- o:
	default:
		log.Println("[DB] Outcome buffer full, dropping match result")
	}
}

// Close flushes queued outcomes and stops the writer.
func (w *OutcomeWriter) Close() {
	close(w.ch)
	<-w.done
}

func (w *OutcomeWriter) run() {
	defer close(w.done)
	for o := range w.ch {
		if err := w.db.RecordMatch(o); err != nil {
			log.Printf("[DB] RecordMatch error: %v", err)
		}
	}
}
