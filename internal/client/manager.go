// Package client mirrors the room state relevant to one participant, keeps the
// connection to the relay alive, and paces outbound movement.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/paate57/among-pale/internal/protocol"
)

// ConnState is the manager's transport state.
type ConnState int

const (
	// StateIdle has no transport and no pending retry.
	StateIdle ConnState = iota
	// StateConnecting has a dial in flight.
	StateConnecting
	// StateConnected has an open transport.
	StateConnected
	// StateReconnecting waits for a scheduled retry.
	StateReconnecting
	// StateDisconnected gave up after the retry cap. Connect or Reconnect leaves it.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Manager owns one participant's connection and mirror. All state is confined to
// the goroutine running Run; exported methods hand closures to it and wait.
//
// Subscribers run on that goroutine and must not call methods that wait for it.
type Manager struct {
	opts   Options
	dialer Dialer
	logger *zap.Logger
	bus    *bus

	cmds chan func()
	done chan struct{}

	state      ConnState
	conn       Transport
	gen        uint64
	dialCancel context.CancelFunc
	policy     *LinearBackOff
	retryTimer *time.Timer
	retryToken uint64
	mirror     Mirror
	interp     *Interpolator
	throttle   *Throttle
	pending    *protocol.PlayerMove
	flushTimer *time.Timer
	flushToken uint64
}

// NewManager creates a Manager. Call Run before any other method can complete.
//
// Precondition: opts must be valid; dialer and logger must be non-nil.
func NewManager(opts Options, dialer Dialer, logger *zap.Logger) *Manager {
	return &Manager{
		opts:     opts,
		dialer:   dialer,
		logger:   logger,
		bus:      newBus(),
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
		policy:   NewLinearBackOff(opts.ReconnectDelay, opts.MaxReconnectAttempts),
		interp:   NewInterpolator(opts.MoveInterval),
		throttle: NewThrottle(opts.MoveInterval),
	}
}

// Run processes commands, inbound frames and timers until ctx is cancelled.
//
// Precondition: Run is called at most once.
// Postcondition: The transport is closed and every timer is stopped.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return nil
		case fn := <-m.cmds:
			fn()
		}
	}
}

// Subscribe registers fn for events of kind. Handlers for one kind run in
// subscription order. The returned func unsubscribes and is idempotent.
func (m *Manager) Subscribe(kind EventKind, fn func(Event)) (unsubscribe func()) {
	return m.bus.subscribe(kind, fn)
}

// Connect opens the transport if it is not already open.
//
// Postcondition: Returns the outcome of this dial. A failed dial still schedules
// retries under the reconnect policy.
func (m *Manager) Connect(ctx context.Context) error {
	result := make(chan error, 1)
	err := m.do(ctx, func() error {
		if m.state == StateConnected {
			result <- nil
			return nil
		}
		m.cancelRetry()
		m.policy.Reset()
		m.dial(result)
		return nil
	})
	if err != nil {
		return err
	}
	return m.await(ctx, result)
}

// Reconnect drops any open transport, cancels a pending retry, resets the retry
// counter and dials again.
func (m *Manager) Reconnect(ctx context.Context) error {
	result := make(chan error, 1)
	err := m.do(ctx, func() error {
		m.cancelRetry()
		m.dropConn()
		m.policy.Reset()
		m.dial(result)
		return nil
	})
	if err != nil {
		return err
	}
	return m.await(ctx, result)
}

// Disconnect closes the transport and cancels any pending retry or dial.
//
// Postcondition: State is StateIdle and the mirror is empty.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.cancelRetry()
		m.cancelDial()
		m.dropConn()
		m.state = StateIdle
		m.logger.Info("disconnected by request")
		return nil
	})
}

// CreateRoom asks the relay for a new room with this client as host.
//
// Postcondition: Returns an error wrapping protocol.ErrInvalidNickname without
// sending if nickname is invalid.
func (m *Manager) CreateRoom(ctx context.Context, nickname, color string) error {
	nick, err := protocol.ValidateNickname(nickname)
	if err != nil {
		return err
	}
	return m.do(ctx, func() error {
		return m.send(protocol.CreateRoom{Nickname: nick, Color: color})
	})
}

// JoinRoom asks the relay to add this client to the room with the given code.
//
// Postcondition: Returns a validation error without sending if nickname or code is invalid.
func (m *Manager) JoinRoom(ctx context.Context, nickname, roomCode, color string) error {
	nick, err := protocol.ValidateNickname(nickname)
	if err != nil {
		return err
	}
	code, err := protocol.NormalizeRoomCode(roomCode)
	if err != nil {
		return err
	}
	return m.do(ctx, func() error {
		return m.send(protocol.JoinRoom{Nickname: nick, RoomCode: code, Color: color})
	})
}

// Move records the local position. At most one PLAYER_MOVE leaves per MoveInterval;
// samples in between are coalesced and the latest is flushed when the window ends.
func (m *Manager) Move(ctx context.Context, x, y float64, direction string) error {
	return m.do(ctx, func() error {
		if m.conn == nil {
			return ErrNotConnected
		}
		if !m.mirror.InRoom() {
			return ErrNotInRoom
		}
		m.pending = &protocol.PlayerMove{X: x, Y: y, Direction: direction}
		m.flushMove(time.Now())
		return nil
	})
}

// StartGame asks the relay to start the room. Only the host's request takes effect.
func (m *Manager) StartGame(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.conn != nil && !m.mirror.InRoom() {
			return ErrNotInRoom
		}
		return m.send(protocol.StartGame{})
	})
}

// LeaveRoom leaves the current room and keeps the transport open.
//
// Postcondition: The mirror is empty.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.conn != nil && !m.mirror.InRoom() {
			return ErrNotInRoom
		}
		if err := m.send(protocol.LeaveRoom{}); err != nil {
			return err
		}
		m.clearRoom()
		return nil
	})
}

// Snapshot returns a copy of the mirror.
func (m *Manager) Snapshot(ctx context.Context) (Mirror, error) {
	var out Mirror
	err := m.do(ctx, func() error {
		out = m.mirror.Clone()
		return nil
	})
	return out, err
}

// State returns the transport state.
func (m *Manager) State(ctx context.Context) (ConnState, error) {
	var out ConnState
	err := m.do(ctx, func() error {
		out = m.state
		return nil
	})
	return out, err
}

// Positions returns every remote member's eased position at the current time.
func (m *Manager) Positions(ctx context.Context) (map[string]Point, error) {
	var out map[string]Point
	err := m.do(ctx, func() error {
		out = m.interp.All(time.Now())
		delete(out, m.mirror.PlayerID)
		return nil
	})
	return out, err
}

// do runs fn on the event loop and returns its result.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case m.cmds <- func() { res <- fn() }:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-m.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the event loop from another goroutine. It reports false once
// the loop has exited.
func (m *Manager) post(fn func()) bool {
	select {
	case m.cmds <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) await(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial starts a connection attempt off the loop. notify, if non-nil, receives its outcome.
func (m *Manager) dial(notify chan<- error) {
	m.cancelDial()
	m.gen++
	gen := m.gen
	m.state = StateConnecting

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	m.dialCancel = cancel
	m.logger.Debug("dialing", zap.String("url", m.opts.URL), zap.Int("attempt", m.policy.Attempts()))

	go func() {
		t, err := m.dialer.Dial(ctx, m.opts.URL)
		cancel()
		posted := m.post(func() { m.onDial(gen, t, err, notify) })
		if !posted && t != nil {
			_ = t.Close()
		}
	}()
}

func (m *Manager) onDial(gen uint64, t Transport, err error, notify chan<- error) {
	if gen != m.gen {
		if t != nil {
			_ = t.Close()
		}
		complete(notify, errSuperseded)
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.logger.Warn("dial failed", zap.String("url", m.opts.URL), zap.Error(err))
		complete(notify, err)
		m.scheduleRetry(err)
		return
	}

	m.conn = t
	m.state = StateConnected
	m.policy.Reset()
	go m.readLoop(gen, t)

	m.logger.Info("connected", zap.String("url", m.opts.URL))
	m.emit(Event{Kind: EventConnected})
	complete(notify, nil)
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadFrame()
		if err != nil {
			m.post(func() { m.onLost(gen, err) })
			return
		}
		if !m.post(func() { m.onFrame(gen, data) }) {
			return
		}
	}
}

func (m *Manager) onLost(gen uint64, err error) {
	if gen != m.gen || m.conn == nil {
		return
	}
	m.dropConn()
	m.logger.Warn("connection lost", zap.Error(err))
	m.emit(Event{Kind: EventConnectionLost, Err: err})
	m.scheduleRetry(err)
}

// scheduleRetry arms the reconnect timer, or reports the terminal disconnect once
// the policy is exhausted.
func (m *Manager) scheduleRetry(cause error) {
	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		m.state = StateDisconnected
		m.logger.Error("giving up reconnecting",
			zap.Int("attempts", m.policy.Attempts()),
			zap.Error(cause),
		)
		m.emit(Event{Kind: EventDisconnected, Attempt: m.policy.Attempts(), Err: cause})
		return
	}

	m.state = StateReconnecting
	m.retryToken++
	token := m.retryToken
	m.retryTimer = time.AfterFunc(delay, func() {
		m.post(func() {
			if token != m.retryToken || m.state != StateReconnecting {
				return
			}
			m.retryTimer = nil
			m.dial(nil)
		})
	})

	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", m.policy.Attempts()),
		zap.Int("max_attempts", m.policy.Max),
		zap.Duration("delay", delay),
	)
	m.emit(Event{Kind: EventReconnecting, Attempt: m.policy.Attempts(), Delay: delay, Err: cause})
}

func (m *Manager) cancelRetry() {
	m.retryToken++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.state == StateReconnecting {
		m.state = StateIdle
	}
}

func (m *Manager) cancelDial() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

// dropConn closes the transport and invalidates everything tied to it.
func (m *Manager) dropConn() {
	m.gen++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.state = StateIdle
	}
	m.clearRoom()
}

func (m *Manager) clearRoom() {
	m.mirror = Mirror{}
	m.interp.Reset()
	m.pending = nil
	m.cancelFlush()
	m.throttle.Reset()
}

func (m *Manager) teardown() {
	m.cancelRetry()
	m.cancelDial()
	m.dropConn()
	m.state = StateIdle
}

func (m *Manager) send(msg protocol.ClientMessage) error {
	if m.conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.EncodeClient(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}
	if err := m.conn.WriteFrame(data); err != nil {
		m.onLost(m.gen, err)
		return fmt.Errorf("sending %s: %w", msg.Type(), errors.Join(ErrNotConnected, err))
	}
	return nil
}

// flushMove sends the pending move if the throttle admits it, otherwise arms a
// trailing flush for the end of the window.
func (m *Manager) flushMove(now time.Time) {
	if m.pending == nil {
		return
	}
	if !m.throttle.Allow(now) {
		if m.flushTimer == nil {
			token := m.flushToken
			m.flushTimer = time.AfterFunc(m.throttle.Wait(now), func() {
				m.post(func() {
					if token != m.flushToken {
						return
					}
					m.flushTimer = nil
					m.flushMove(time.Now())
				})
			})
		}
		return
	}

	mv := *m.pending
	m.pending = nil
	m.mirror.move(m.mirror.PlayerID, mv.X, mv.Y, mv.Direction)
	if err := m.send(mv); err != nil {
		m.logger.Debug("move not sent", zap.Error(err))
	}
}

func (m *Manager) cancelFlush() {
	m.flushToken++
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
}

func (m *Manager) onFrame(gen uint64, data []byte) {
	if gen != m.gen {
		return
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		m.logger.Warn("discarding malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}
	msg.Accept(inbound{m: m})
}

func (m *Manager) emit(ev Event) {
	ev.Mirror = m.mirror.Clone()
	m.bus.publish(ev)
}

func complete(notify chan<- error, err error) {
	if notify != nil {
		notify <- err
	}
}

// inbound applies server messages to the mirror.
type inbound struct {
	m *Manager
}

var _ protocol.ServerHandler = inbound{}

func (in inbound) HandleRoomCreated(msg protocol.RoomCreated) {
	in.enterRoom(msg.RoomCode, msg.PlayerID, msg.Players)
	in.m.logger.Info("room created", zap.String("room", msg.RoomCode), zap.String("player_id", msg.PlayerID))
	in.m.emit(Event{Kind: EventRoomCreated, Message: msg})
}

func (in inbound) HandleRoomJoined(msg protocol.RoomJoined) {
	in.enterRoom(msg.RoomCode, msg.PlayerID, msg.Players)
	in.m.logger.Info("room joined", zap.String("room", msg.RoomCode), zap.String("player_id", msg.PlayerID))
	in.m.emit(Event{Kind: EventRoomJoined, Message: msg})
}

func (in inbound) HandlePlayerJoined(msg protocol.PlayerJoined) {
	if in.outsideRoom(msg) {
		return
	}
	in.replacePlayers(msg.Players)
	in.m.emit(Event{Kind: EventPlayerJoined, Message: msg})
}

func (in inbound) HandlePlayerLeft(msg protocol.PlayerLeft) {
	if in.outsideRoom(msg) {
		return
	}
	in.replacePlayers(msg.Players)
	in.m.emit(Event{Kind: EventPlayerLeft, Message: msg})
}

func (in inbound) HandlePlayerMoved(msg protocol.PlayerMoved) {
	if in.outsideRoom(msg) {
		return
	}
	if !in.m.mirror.move(msg.PlayerID, msg.X, msg.Y, msg.Direction) {
		in.m.logger.Debug("ignoring move for non-member", zap.String("player_id", msg.PlayerID))
		return
	}
	in.m.interp.Target(msg.PlayerID, Point{X: msg.X, Y: msg.Y}, time.Now())
	in.m.emit(Event{Kind: EventPlayerMoved, Message: msg})
}

func (in inbound) HandleGameStarted(msg protocol.GameStarted) {
	if in.outsideRoom(msg) {
		return
	}
	in.m.mirror.Started = true
	in.m.logger.Info("game started", zap.String("room", in.m.mirror.RoomCode))
	in.m.emit(Event{Kind: EventGameStarted, Message: msg})
}

func (in inbound) HandleError(msg protocol.ErrorMessage) {
	in.m.logger.Info("server refused request",
		zap.String("code", string(msg.Code)),
		zap.String("message", msg.Message),
	)
	in.m.emit(Event{Kind: EventError, Message: msg})
}

func (in inbound) enterRoom(code, playerID string, players []protocol.Player) {
	in.m.clearRoom()
	in.m.mirror.RoomCode = code
	in.m.mirror.PlayerID = playerID
	in.m.mirror.replacePlayers(players)
	in.m.interp.Sync(players, time.Now())
}

// outsideRoom reports whether msg arrived while the client is in no room, as
// happens for broadcasts already in flight when LEAVE_ROOM was sent. Such messages
// are dropped.
func (in inbound) outsideRoom(msg protocol.ServerMessage) bool {
	if in.m.mirror.InRoom() {
		return false
	}
	in.m.logger.Debug("ignoring room message outside a room", zap.String("type", string(msg.Type())))
	return true
}

func (in inbound) replacePlayers(players []protocol.Player) {
	in.m.mirror.replacePlayers(players)
	in.m.interp.Sync(players, time.Now())
}
