package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/paate57/among-pale/internal/protocol"
	"github.com/paate57/among-pale/internal/room"
)

// Dispatcher turns decoded client messages into room transitions and fan-out.
// It holds no per-connection state; all of that lives in the Session.
type Dispatcher struct {
	registry   *room.Registry
	minPlayers int
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
//
// Precondition: registry and logger must be non-nil.
// Postcondition: minPlayers below 1 is treated as 1.
func NewDispatcher(registry *room.Registry, minPlayers int, logger *zap.Logger) *Dispatcher {
	if minPlayers < 1 {
		minPlayers = 1
	}
	return &Dispatcher{
		registry:   registry,
		minPlayers: minPlayers,
		logger:     logger,
	}
}

// Registry returns the room registry the dispatcher mutates.
func (d *Dispatcher) Registry() *room.Registry {
	return d.registry
}

// Dispatch decodes one inbound frame and applies it on behalf of s.
//
// Precondition: s must be non-nil and owned by the calling goroutine.
// Postcondition: Malformed frames are logged and discarded without a reply; the
// returned error wraps protocol.ErrMalformed or protocol.ErrUnknownType. Room and
// validation failures are replied to s and return nil.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, frame []byte) error {
	msg, err := protocol.DecodeClient(frame)
	if err != nil {
		s.logger.Warn("discarding malformed frame",
			zap.Int("bytes", len(frame)),
			zap.Error(err),
		)
		return err
	}
	msg.Accept(ctx, &connHandler{d: d, s: s})
	return nil
}

// Disconnect removes s from its room after the transport closed. Remaining members
// receive PLAYER_LEFT; nothing is sent to s.
//
// Postcondition: s is unbound.
func (d *Dispatcher) Disconnect(ctx context.Context, s *Session) {
	if !s.Bound() {
		return
	}
	h := &connHandler{d: d, s: s}
	h.leave(ctx, "disconnect")
}

// connHandler applies one message for one session.
type connHandler struct {
	d *Dispatcher
	s *Session
}

var _ protocol.ClientHandler = (*connHandler)(nil)

func (h *connHandler) HandleCreateRoom(ctx context.Context, m protocol.CreateRoom) {
	nick, err := protocol.ValidateNickname(m.Nickname)
	if err != nil {
		h.replyError(protocol.CodeInvalidArgument, err)
		return
	}
	if h.s.Bound() {
		h.leave(ctx, "create_room")
	}

	r, member, err := h.d.registry.CreateRoom(nick, m.Color, h.s.outbox, func(tx room.Tx, p room.PlayerSession) {
		h.sendLocked(tx, p.ID, protocol.RoomCreated{
			RoomCode: tx.Code(),
			PlayerID: p.ID,
			Players:  toPlayers(tx.Snapshot()),
		})
	})
	if err != nil {
		h.replyRoomError(err)
		return
	}
	h.s.bind(r.Code(), member.ID)
	h.s.logger.Info("room created",
		zap.String("nickname", member.Nickname),
		zap.String("color", member.Color),
	)
}

func (h *connHandler) HandleJoinRoom(ctx context.Context, m protocol.JoinRoom) {
	nick, err := protocol.ValidateNickname(m.Nickname)
	if err != nil {
		h.replyError(protocol.CodeInvalidArgument, err)
		return
	}
	code, err := protocol.NormalizeRoomCode(m.RoomCode)
	if err != nil {
		h.replyError(protocol.CodeInvalidArgument, err)
		return
	}
	if h.s.Bound() {
		h.leave(ctx, "join_room")
	}

	r, member, err := h.d.registry.JoinRoom(code, nick, m.Color, h.s.outbox, func(tx room.Tx, p room.PlayerSession) {
		players := toPlayers(tx.Snapshot())
		h.sendLocked(tx, p.ID, protocol.RoomJoined{
			RoomCode: tx.Code(),
			PlayerID: p.ID,
			Players:  players,
		})
		h.broadcastLocked(tx, p.ID, protocol.PlayerJoined{Players: players})
	})
	if err != nil {
		h.s.logger.Info("join refused", zap.String("code", code), zap.Error(err))
		h.replyRoomError(err)
		return
	}
	h.s.bind(r.Code(), member.ID)
	h.s.logger.Info("room joined",
		zap.String("nickname", member.Nickname),
		zap.String("color", member.Color),
	)
}

func (h *connHandler) HandlePlayerMove(_ context.Context, m protocol.PlayerMove) {
	r, ok := h.boundRoom()
	if !ok {
		h.s.logger.Debug("ignoring move from unbound connection")
		return
	}
	frame, err := protocol.EncodeServer(protocol.PlayerMoved{
		PlayerID:  h.s.playerID,
		X:         m.X,
		Y:         m.Y,
		Direction: m.Direction,
	})
	if err != nil {
		h.s.logger.Error("encoding PLAYER_MOVED", zap.Error(err))
		return
	}
	err = r.Move(h.s.playerID, m.X, m.Y, m.Direction, func(tx room.Tx) {
		h.fanOut(tx, frame, h.s.playerID)
	})
	if err != nil {
		h.s.logger.Debug("move dropped", zap.Error(err))
	}
}

func (h *connHandler) HandleStartGame(_ context.Context, _ protocol.StartGame) {
	r, ok := h.boundRoom()
	if !ok {
		h.s.logger.Info("ignoring start from unbound connection")
		return
	}
	frame, err := protocol.EncodeServer(protocol.GameStarted{})
	if err != nil {
		h.s.logger.Error("encoding GAME_STARTED", zap.Error(err))
		return
	}
	err = r.Start(h.s.playerID, h.d.minPlayers, func(tx room.Tx) {
		h.fanOut(tx, frame, "")
	})
	switch {
	case err == nil:
		h.s.logger.Info("game started", zap.Int("members", r.Len()))
	case errors.Is(err, room.ErrNotAuthorized):
		h.s.logger.Info("ignoring start from non-host")
	case errors.Is(err, room.ErrMemberNotFound):
		h.s.logger.Warn("session bound to a room it is not a member of")
		h.s.unbind()
	default:
		h.replyRoomError(err)
	}
}

func (h *connHandler) HandleLeaveRoom(ctx context.Context, _ protocol.LeaveRoom) {
	if !h.s.Bound() {
		h.s.logger.Debug("ignoring leave from unbound connection")
		return
	}
	h.leave(ctx, "leave_room")
}

// leave removes the bound member and tells the remaining members.
func (h *connHandler) leave(_ context.Context, reason string) {
	code, pid := h.s.roomCode, h.s.playerID
	logger := h.s.logger
	h.s.unbind()

	dep, err := h.d.registry.RemoveMember(code, pid, func(tx room.Tx, dep room.Departure) {
		if dep.Closed {
			return
		}
		h.broadcastLocked(tx, "", protocol.PlayerLeft{Players: toPlayers(tx.Snapshot())})
	})
	if err != nil {
		logger.Warn("removing member", zap.String("reason", reason), zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Int("remaining", dep.Remaining),
	}
	if dep.NewHostID != "" {
		fields = append(fields, zap.String("new_host", dep.NewHostID))
	}
	if dep.Closed {
		fields = append(fields, zap.Bool("room_closed", true))
	}
	logger.Info("member left", fields...)
}

func (h *connHandler) boundRoom() (*room.Room, bool) {
	if !h.s.Bound() {
		return nil, false
	}
	r, ok := h.d.registry.Get(h.s.roomCode)
	if !ok {
		h.s.logger.Warn("bound room no longer exists")
		h.s.unbind()
		return nil, false
	}
	return r, true
}

// sendLocked encodes msg and pushes it to one member through tx.
func (h *connHandler) sendLocked(tx room.Tx, id string, msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		h.s.logger.Error("encoding reply", zap.String("type", string(msg.Type())), zap.Error(err))
		return
	}
	if err := tx.Send(id, frame); err != nil {
		h.s.logger.Debug("reply dropped", zap.String("type", string(msg.Type())), zap.Error(err))
	}
}

// broadcastLocked encodes msg once and pushes it to every member but except.
func (h *connHandler) broadcastLocked(tx room.Tx, except string, msg protocol.ServerMessage) {
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		h.s.logger.Error("encoding broadcast", zap.String("type", string(msg.Type())), zap.Error(err))
		return
	}
	h.fanOut(tx, frame, except)
}

func (h *connHandler) fanOut(tx room.Tx, frame []byte, except string) {
	delivered, skipped := tx.Broadcast(frame, except)
	if len(skipped) > 0 {
		h.d.logger.Info("peers skipped; full outboxes were evicted",
			zap.String("room", tx.Code()),
			zap.Int("delivered", delivered),
			zap.Strings("skipped", skipped),
		)
	}
}

func (h *connHandler) replyRoomError(err error) {
	h.replyError(errorCode(err), err)
}

func (h *connHandler) replyError(code protocol.ErrorCode, err error) {
	frame, encErr := protocol.EncodeServer(protocol.NewError(code, errorMessage(err)))
	if encErr != nil {
		h.s.logger.Error("encoding ERROR", zap.Error(encErr))
		return
	}
	if pushErr := h.s.outbox.Push(frame); pushErr != nil {
		h.s.logger.Debug("error reply dropped", zap.Error(pushErr))
	}
}

// errorCode maps room and validation failures onto wire error codes.
func errorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, room.ErrFull):
		return protocol.CodeFull
	case errors.Is(err, room.ErrAlreadyStarted):
		return protocol.CodeAlreadyStarted
	case errors.Is(err, room.ErrNotAuthorized):
		return protocol.CodeNotAuthorized
	case errors.Is(err, room.ErrNotEnoughPlayers):
		return protocol.CodeNotEnoughPlayers
	case errors.Is(err, protocol.ErrInvalidNickname), errors.Is(err, protocol.ErrInvalidRoomCode):
		return protocol.CodeInvalidArgument
	}
	return protocol.CodeInternal
}

// errorMessage returns the user-facing text for err.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return "Room not found"
	case errors.Is(err, room.ErrFull):
		return "Room is full"
	case errors.Is(err, room.ErrAlreadyStarted):
		return "Game already started"
	case errors.Is(err, room.ErrNotAuthorized):
		return "Only the host can start the game"
	case errors.Is(err, room.ErrNotEnoughPlayers):
		return "Not enough players to start"
	case errors.Is(err, protocol.ErrInvalidNickname), errors.Is(err, protocol.ErrInvalidRoomCode):
		return err.Error()
	}
	return "Internal server error"
}

func toPlayers(views []room.View) []protocol.Player {
	out := make([]protocol.Player, len(views))
	for i, v := range views {
		out[i] = protocol.Player{
			ID:       v.ID,
			Nickname: v.Nickname,
			X:        v.X,
			Y:        v.Y,
			Color:    v.Color,
			IsHost:   v.IsHost,
		}
	}
	return out
}
