package session

import (
	"go.uber.org/zap"
)

// Session is the server-side record of one connection. PlayerID and RoomCode are
// empty until the connection creates or joins a room.
//
// A Session is owned by its connection's goroutine and is not safe for concurrent use.
type Session struct {
	id       string
	outbox   *Outbox
	base     *zap.Logger
	logger   *zap.Logger
	playerID string
	roomCode string
}

// New creates an unbound Session.
//
// Precondition: id must be non-empty; outbox and logger must be non-nil.
func New(id string, outbox *Outbox, logger *zap.Logger) *Session {
	return &Session{id: id, outbox: outbox, base: logger, logger: logger}
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// Outbox returns the connection's outbound queue.
func (s *Session) Outbox() *Outbox { return s.outbox }

// PlayerID returns the bound player, or "".
func (s *Session) PlayerID() string { return s.playerID }

// RoomCode returns the bound room, or "".
func (s *Session) RoomCode() string { return s.roomCode }

// Bound reports whether the session is a member of a room.
func (s *Session) Bound() bool { return s.roomCode != "" }

func (s *Session) bind(roomCode, playerID string) {
	s.roomCode = roomCode
	s.playerID = playerID
	s.logger = s.base.With(zap.String("room", roomCode), zap.String("player_id", playerID))
}

func (s *Session) unbind() {
	s.roomCode = ""
	s.playerID = ""
	s.logger = s.base
}
