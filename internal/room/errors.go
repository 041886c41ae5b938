package room

import "errors"

// Room errors. They are local to the requesting connection and are returned before
// any state is mutated.
var (
	ErrNotFound           = errors.New("room not found")
	ErrFull               = errors.New("room is full")
	ErrAlreadyStarted     = errors.New("game already started")
	ErrNotAuthorized      = errors.New("only the host can start the game")
	ErrNotEnoughPlayers   = errors.New("not enough players to start")
	ErrMemberNotFound     = errors.New("member not in room")
	ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")
)
