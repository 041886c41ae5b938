// Package protocol defines the JSON wire format exchanged between room clients and
// the relay server.
//
// Every frame is a flat JSON object carrying a "type" discriminator. Inbound and
// outbound frames are modelled as closed variant sets (ClientMessage, ServerMessage);
// consumers dispatch through the ClientHandler and ServerHandler visitor interfaces,
// so a new message kind does not compile until every handler implements it.
package protocol

import (
	"context"
	"encoding/json"
)

// Type is the value of the "type" discriminator.
type Type string

// Client → server message types.
const (
	TypeCreateRoom Type = "CREATE_ROOM"
	TypeJoinRoom   Type = "JOIN_ROOM"
	TypePlayerMove Type = "PLAYER_MOVE"
	TypeStartGame  Type = "START_GAME"
	TypeLeaveRoom  Type = "LEAVE_ROOM"
)

// Server → client message types.
const (
	TypeRoomCreated  Type = "ROOM_CREATED"
	TypeRoomJoined   Type = "ROOM_JOINED"
	TypePlayerJoined Type = "PLAYER_JOINED"
	TypePlayerLeft   Type = "PLAYER_LEFT"
	TypePlayerMoved  Type = "PLAYER_MOVED"
	TypeGameStarted  Type = "GAME_STARTED"
	TypeError        Type = "ERROR"
)

// Player is the wire record for one room member.
type Player struct {
	ID       string  `json:"id"`
	Nickname string  `json:"nickname"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Color    string  `json:"color"`
	IsHost   bool    `json:"isHost"`
}

// ClientMessage is a frame sent by a client. The set of implementations is closed.
type ClientMessage interface {
	Type() Type
	Accept(ctx context.Context, h ClientHandler)
	isClientMessage()
}

// ClientHandler handles every client message kind.
type ClientHandler interface {
	HandleCreateRoom(ctx context.Context, m CreateRoom)
	HandleJoinRoom(ctx context.Context, m JoinRoom)
	HandlePlayerMove(ctx context.Context, m PlayerMove)
	HandleStartGame(ctx context.Context, m StartGame)
	HandleLeaveRoom(ctx context.Context, m LeaveRoom)
}

// CreateRoom asks the server to open a new room with the sender as host.
type CreateRoom struct {
	Nickname string `json:"nickname"`
	Color    string `json:"color,omitempty"`
}

// JoinRoom asks the server to add the sender to an existing room.
type JoinRoom struct {
	Nickname string `json:"nickname"`
	RoomCode string `json:"roomCode"`
	Color    string `json:"color,omitempty"`
}

// PlayerMove reports the sender's latest position.
type PlayerMove struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction,omitempty"`
}

// StartGame asks the server to start the sender's room. Host only.
type StartGame struct{}

// LeaveRoom removes the sender from its room without closing the connection.
type LeaveRoom struct{}

func (CreateRoom) Type() Type { return TypeCreateRoom }
func (JoinRoom) Type() Type   { return TypeJoinRoom }
func (PlayerMove) Type() Type { return TypePlayerMove }
func (StartGame) Type() Type  { return TypeStartGame }
func (LeaveRoom) Type() Type  { return TypeLeaveRoom }

func (m CreateRoom) Accept(ctx context.Context, h ClientHandler) { h.HandleCreateRoom(ctx, m) }
func (m JoinRoom) Accept(ctx context.Context, h ClientHandler)   { h.HandleJoinRoom(ctx, m) }
func (m PlayerMove) Accept(ctx context.Context, h ClientHandler) { h.HandlePlayerMove(ctx, m) }
func (m StartGame) Accept(ctx context.Context, h ClientHandler)  { h.HandleStartGame(ctx, m) }
func (m LeaveRoom) Accept(ctx context.Context, h ClientHandler)  { h.HandleLeaveRoom(ctx, m) }

func (CreateRoom) isClientMessage() {}
func (JoinRoom) isClientMessage()   {}
func (PlayerMove) isClientMessage() {}
func (StartGame) isClientMessage()  {}
func (LeaveRoom) isClientMessage()  {}

// ServerMessage is a frame sent by the server. The set of implementations is closed.
type ServerMessage interface {
	Type() Type
	Accept(h ServerHandler)
	isServerMessage()
}

// ServerHandler handles every server message kind.
type ServerHandler interface {
	HandleRoomCreated(m RoomCreated)
	HandleRoomJoined(m RoomJoined)
	HandlePlayerJoined(m PlayerJoined)
	HandlePlayerLeft(m PlayerLeft)
	HandlePlayerMoved(m PlayerMoved)
	HandleGameStarted(m GameStarted)
	HandleError(m ErrorMessage)
}

// RoomCreated confirms CreateRoom to its sender.
type RoomCreated struct {
	RoomCode string   `json:"roomCode"`
	PlayerID string   `json:"playerId"`
	Players  []Player `json:"players"`
}

// RoomJoined confirms JoinRoom to its sender.
type RoomJoined struct {
	RoomCode string   `json:"roomCode"`
	PlayerID string   `json:"playerId"`
	Players  []Player `json:"players"`
}

// PlayerJoined tells existing members the full membership after a join.
type PlayerJoined struct {
	Players []Player `json:"players"`
}

// PlayerLeft tells remaining members the full membership after a departure.
type PlayerLeft struct {
	Players []Player `json:"players"`
}

// PlayerMoved relays one member's reported position.
type PlayerMoved struct {
	PlayerID  string  `json:"playerId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction,omitempty"`
}

// GameStarted signals the room left the lobby.
type GameStarted struct{}

// ErrorMessage reports a refused request to its sender only.
type ErrorMessage struct {
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
}

func (RoomCreated) Type() Type  { return TypeRoomCreated }
func (RoomJoined) Type() Type   { return TypeRoomJoined }
func (PlayerJoined) Type() Type { return TypePlayerJoined }
func (PlayerLeft) Type() Type   { return TypePlayerLeft }
func (PlayerMoved) Type() Type  { return TypePlayerMoved }
func (GameStarted) Type() Type  { return TypeGameStarted }
func (ErrorMessage) Type() Type { return TypeError }

func (m RoomCreated) Accept(h ServerHandler)  { h.HandleRoomCreated(m) }
func (m RoomJoined) Accept(h ServerHandler)   { h.HandleRoomJoined(m) }
func (m PlayerJoined) Accept(h ServerHandler) { h.HandlePlayerJoined(m) }
func (m PlayerLeft) Accept(h ServerHandler)   { h.HandlePlayerLeft(m) }
func (m PlayerMoved) Accept(h ServerHandler)  { h.HandlePlayerMoved(m) }
func (m GameStarted) Accept(h ServerHandler)  { h.HandleGameStarted(m) }
func (m ErrorMessage) Accept(h ServerHandler) { h.HandleError(m) }

func (RoomCreated) isServerMessage()  {}
func (RoomJoined) isServerMessage()   {}
func (PlayerJoined) isServerMessage() {}
func (PlayerLeft) isServerMessage()   {}
func (PlayerMoved) isServerMessage()  {}
func (GameStarted) isServerMessage()  {}
func (ErrorMessage) isServerMessage() {}

// tagged marshals body flattened next to a "type" field.
func tagged(t Type, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(struct {
		Type Type `json:"type"`
	}{t})
	if err != nil {
		return nil, err
	}
	if string(raw) == "{}" {
		return head, nil
	}
	// head is `{"type":"X"}`, raw is `{...}`; splice them into one object.
	out := make([]byte, 0, len(head)+len(raw))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, raw[1:]...)
	return out, nil
}
