package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not JSON objects or whose fields
	// are missing or mistyped.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for frames whose "type" is not part of the protocol.
	ErrUnknownType = errors.New("unknown message type")
)

type envelope struct {
	Type Type `json:"type"`
}

// EncodeClient serializes a client message as a flat tagged JSON object.
func EncodeClient(m ClientMessage) ([]byte, error) {
	return tagged(m.Type(), m)
}

// EncodeServer serializes a server message as a flat tagged JSON object.
func EncodeServer(m ServerMessage) ([]byte, error) {
	return tagged(m.Type(), m)
}

// DecodeClient parses one inbound frame on the server side.
//
// Postcondition: Returns a ClientMessage, or an error wrapping ErrMalformed or ErrUnknownType.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeCreateRoom:
		var w struct {
			Nickname *string `json:"nickname"`
			Color    string  `json:"color"`
		}
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		if w.Nickname == nil {
			return nil, missing(env.Type, "nickname")
		}
		return CreateRoom{Nickname: *w.Nickname, Color: w.Color}, nil

	case TypeJoinRoom:
		var w struct {
			Nickname *string `json:"nickname"`
			RoomCode *string `json:"roomCode"`
			Color    string  `json:"color"`
		}
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		if w.Nickname == nil {
			return nil, missing(env.Type, "nickname")
		}
		if w.RoomCode == nil {
			return nil, missing(env.Type, "roomCode")
		}
		return JoinRoom{Nickname: *w.Nickname, RoomCode: *w.RoomCode, Color: w.Color}, nil

	case TypePlayerMove:
		var w struct {
			X         *float64 `json:"x"`
			Y         *float64 `json:"y"`
			Direction string   `json:"direction"`
		}
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		if w.X == nil {
			return nil, missing(env.Type, "x")
		}
		if w.Y == nil {
			return nil, missing(env.Type, "y")
		}
		return PlayerMove{X: *w.X, Y: *w.Y, Direction: w.Direction}, nil

	case TypeStartGame:
		return StartGame{}, nil

	case TypeLeaveRoom:
		return LeaveRoom{}, nil

	case "":
		return nil, missing(env.Type, "type")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// DecodeServer parses one inbound frame on the client side.
//
// Postcondition: Returns a ServerMessage, or an error wrapping ErrMalformed or ErrUnknownType.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeRoomCreated:
		var m RoomCreated
		return decodeInto(data, &m)
	case TypeRoomJoined:
		var m RoomJoined
		return decodeInto(data, &m)
	case TypePlayerJoined:
		var m PlayerJoined
		return decodeInto(data, &m)
	case TypePlayerLeft:
		var m PlayerLeft
		return decodeInto(data, &m)
	case TypePlayerMoved:
		var m PlayerMoved
		return decodeInto(data, &m)
	case TypeGameStarted:
		return GameStarted{}, nil
	case TypeError:
		var m ErrorMessage
		return decodeInto(data, &m)
	case "":
		return nil, missing(env.Type, "type")
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// serverPtr is satisfied by pointers to server message structs.
type serverPtr[T ServerMessage] interface {
	*T
}

func decodeInto[T ServerMessage, P serverPtr[T]](data []byte, dst P) (ServerMessage, error) {
	if err := unmarshalBody(data, dst); err != nil {
		return nil, err
	}
	return *dst, nil
}

func unmarshalBody(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func missing(t Type, field string) error {
	if t == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	return fmt.Errorf("%w: %s requires %s", ErrMalformed, t, field)
}
